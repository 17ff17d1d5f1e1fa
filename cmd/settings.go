package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/config"
	"github.com/ElLumy/chameleon/internal/observability"
	"github.com/ElLumy/chameleon/internal/store"
)

// settingKeys lists the settings the runtime reads, in display order.
var settingKeys = []string{
	schemas.SettingEnabled,
	schemas.SettingAutoRotate,
	schemas.SettingRotateInterval,
	schemas.SettingDebugMode,
}

// openRepository opens the configured store, failing when none is set up.
func openRepository(ctx context.Context) (store.Repository, error) {
	repo, err := store.Open(ctx, config.Get().Store, observability.GetLogger())
	if errors.Is(err, store.ErrDisabled) {
		return nil, fmt.Errorf("no store configured, set store.driver")
	}
	return repo, err
}

func newSettingsCmd() *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or change the stored settings",
		Long: `Settings live in the statistics store and are read by serve and launch:
  enabled         false turns Chameleon off
  autoRotate      true regenerates the profile on an interval
  rotateInterval  minutes, or a duration such as 90s
  debugMode       true switches logging to debug`,
	}

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "get [key]",
		Short: "Print one setting, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()
			return printSettings(cmd.Context(), repo, cmd.OutOrStdout(), args...)
		},
	})

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()
			value, err := putSetting(cmd.Context(), repo, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", args[0], value)
			return nil
		},
	})
	return settingsCmd
}

// normalizeSetting validates value for key and returns its stored form.
func normalizeSetting(key, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch key {
	case schemas.SettingEnabled, schemas.SettingAutoRotate, schemas.SettingDebugMode:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", fmt.Errorf("%s expects true or false, got %q", key, value)
		}
		return strconv.FormatBool(b), nil
	case schemas.SettingRotateInterval:
		if _, err := parseInterval(value); err != nil {
			return "", fmt.Errorf("invalid %s: %w", key, err)
		}
		return value, nil
	}
	_, err := normalizeKey(key)
	return "", err
}

func putSetting(ctx context.Context, repo store.Repository, key, value string) (string, error) {
	value, err := normalizeSetting(key, value)
	if err != nil {
		return "", err
	}
	if err := repo.PutSetting(ctx, key, value); err != nil {
		return "", fmt.Errorf("failed to store %s: %w", key, err)
	}
	return value, nil
}

func printSettings(ctx context.Context, repo store.Repository, out io.Writer, keys ...string) error {
	if len(keys) == 0 {
		keys = settingKeys
	} else if _, err := normalizeKey(keys[0]); err != nil {
		return err
	}
	for _, key := range keys {
		value, ok, err := repo.GetSetting(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
		if !ok {
			value = "(unset)"
		}
		fmt.Fprintf(out, "%s=%s\n", key, value)
	}
	return nil
}

func normalizeKey(key string) (string, error) {
	for _, k := range settingKeys {
		if k == key {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(settingKeys, ", "))
}
