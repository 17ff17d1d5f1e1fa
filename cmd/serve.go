package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/internal/browser/pageenv"
	"github.com/ElLumy/chameleon/internal/chameleon/engine"
	"github.com/ElLumy/chameleon/internal/chameleon/interceptors"
	"github.com/ElLumy/chameleon/internal/chameleon/registry"
	"github.com/ElLumy/chameleon/internal/config"
	"github.com/ElLumy/chameleon/internal/observability"
)

func newServeCmd() *cobra.Command {
	var rootDelay time.Duration

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run Chameleon against an in-process page and serve the control channel",
		Long: `Boots an in-process page environment, injects the bootstrap payload and
keeps the control channel open until interrupted. --root-delay postpones the
creation of the document root, which exercises the deferred injection path.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Get()
			logger := observability.GetLogger()

			components, err := newComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer components.Shutdown()
			components.ApplyDebug(ctx)

			if !components.Enabled(ctx) {
				logger.Info("Chameleon is disabled in the stored settings, nothing to do")
				return nil
			}

			page, err := pageenv.New(logger, pageenv.WithTimeout(cfg.Engine.BootTimeout))
			if err != nil {
				return fmt.Errorf("failed to create page: %w", err)
			}
			defer page.Close()

			if rootDelay > 0 {
				logger.Info("Delaying document root", zap.Duration("delay", rootDelay))
				timer := time.AfterFunc(rootDelay, page.Document().CreateRoot)
				defer timer.Stop()
			} else {
				page.Document().CreateRoot()
			}

			resolver := registry.Chain(components.CoreResolver(), interceptors.PageResolver(page, logger))
			e := engine.New(page, resolver, cfg.Engine, logger, components.EngineOptions()...)
			return components.Run(ctx, e, nil)
		},
	}

	serveCmd.Flags().DurationVar(&rootDelay, "root-delay", 0, "create the document root only after this delay")
	return serveCmd
}
