package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/internal/config"
	"github.com/ElLumy/chameleon/internal/observability"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "chameleon",
	Short:         "Chameleon presents a synthetic browser fingerprint to every page it loads.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 1. Initialize configuration loading (Viper)
		if err := initializeConfig(); err != nil {
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}

		// 2. Unmarshal the configuration
		if err := config.Load(viper.GetViper()); err != nil {
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "chameleon"})
			return err
		}
		cfg := config.Get()

		// 3. Validate the configuration
		if err := cfg.Validate(); err != nil {
			observability.InitializeLogger(cfg.Logger)
			return fmt.Errorf("invalid configuration: %w", err)
		}

		// 4. Initialize the logger
		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Debug("Configuration loaded", zap.String("version", Version), zap.String("command", cmd.Name()))
		return nil
	},
}

// Execute adds all child commands to the root command and runs it. ctx is
// cancelled on shutdown signals.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// context.Canceled is the expected end of a graceful shutdown.
		if errors.Is(err, context.Canceled) {
			return nil
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newLaunchCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newProfileCmd())
	rootCmd.AddCommand(newRegenerateCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newSettingsCmd())
	rootCmd.AddCommand(versionCmd)
}

// initializeConfig reads in the .env file, the config file and ENV variables.
func initializeConfig() error {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	// Set default values so the app can run with a minimal config.
	config.SetDefaults(viper.GetViper())

	// 1. Set up config file search paths
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// 2. Environment Variable Configuration
	viper.SetEnvPrefix("CHAMELEON")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Bound explicitly so they are picked up without a config file entry.
	_ = viper.BindEnv("store.postgres_url", "CHAMELEON_STORE_POSTGRES_URL", "DATABASE_URL")
	_ = viper.BindEnv("control.listen", "CHAMELEON_CONTROL_LISTEN")

	// 3. Read the configuration file
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if the config file is not found, but report other errors
		// like parsing issues.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
