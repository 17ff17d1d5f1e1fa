package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/internal/browser"
	"github.com/ElLumy/chameleon/internal/browser/stealth"
	"github.com/ElLumy/chameleon/internal/chameleon/engine"
	"github.com/ElLumy/chameleon/internal/chameleon/registry"
	"github.com/ElLumy/chameleon/internal/config"
	"github.com/ElLumy/chameleon/internal/observability"
)

func newLaunchCmd() *cobra.Command {
	var startURL string
	var headful bool

	launchCmd := &cobra.Command{
		Use:   "launch",
		Short: "Launch Chrome with Chameleon attached to a tab",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := *config.Get()
			logger := observability.GetLogger()
			if startURL != "" {
				cfg.Browser.StartURL = startURL
			}
			if headful {
				cfg.Browser.Headless = false
			}

			components, err := newComponents(ctx, &cfg, logger)
			if err != nil {
				return err
			}
			defer components.Shutdown()
			components.ApplyDebug(ctx)

			manager := browser.NewManager(ctx, logger, cfg.Browser)
			defer func() {
				if err := manager.Shutdown(context.Background()); err != nil {
					logger.Warn("Browser shutdown failed", zap.Error(err))
				}
			}()

			tab, err := manager.NewTab(ctx)
			if err != nil {
				return err
			}
			defer tab.Close()

			if repo := components.Store; repo != nil {
				tab.Target.OnNavigate(func(url string) {
					if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
						return
					}
					if err := repo.RecordVisit(context.Background(), url); err != nil {
						logger.Warn("Failed to record visit", zap.Error(err))
					}
				})
			}

			navigate := func(ctx context.Context) error {
				if cfg.Browser.StartURL == "" {
					return nil
				}
				logger.Info("Navigating", zap.String("url", cfg.Browser.StartURL))
				if err := tab.Target.Navigate(ctx, cfg.Browser.StartURL); err != nil {
					return fmt.Errorf("failed to navigate to %s: %w", cfg.Browser.StartURL, err)
				}
				return nil
			}

			if !components.Enabled(ctx) {
				logger.Info("Chameleon is disabled in the stored settings, browsing without it")
				if err := navigate(ctx); err != nil {
					return err
				}
				select {
				case <-ctx.Done():
				case <-tab.Done():
				}
				return nil
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() {
				select {
				case <-tab.Done():
					logger.Info("Tab closed")
					cancel()
				case <-runCtx.Done():
				}
			}()

			resolver := registry.Chain(components.CoreResolver(), stealth.Resolver(tab.Target, cfg.Browser.ModuleBaseURL, logger))
			e := engine.New(tab.Target, resolver, cfg.Engine, logger, components.EngineOptions()...)
			return components.Run(runCtx, e, navigate)
		},
	}

	launchCmd.Flags().StringVar(&startURL, "url", "", "page to open once Chameleon is ready (default from config)")
	launchCmd.Flags().BoolVar(&headful, "headful", false, "show the browser window")
	return launchCmd
}
