package cmd

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ElLumy/chameleon/internal/chameleon/control"
	"github.com/ElLumy/chameleon/internal/config"
)

func newClient() *control.Client {
	cfg := config.Get().Control
	return control.NewClient(cfg.Listen, cfg.RequestTimeout)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the running instance finished initialization",
		RunE: func(cmd *cobra.Command, args []string) error {
			initialized, err := newClient().Status(cmd.Context())
			if err != nil {
				return err
			}
			if initialized {
				fmt.Fprintln(cmd.OutOrStdout(), "initialized")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "not initialized")
			}
			return nil
		},
	}
}

func newProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Print the current profile as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := newClient().Profile(cmd.Context())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(profile, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode profile: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newRegenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate",
		Short: "Ask the running instance for a fresh profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().Regenerate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "regeneration requested")
			return nil
		},
	}
}
