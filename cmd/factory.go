package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/chameleon/control"
	"github.com/ElLumy/chameleon/internal/chameleon/engine"
	"github.com/ElLumy/chameleon/internal/chameleon/generator"
	"github.com/ElLumy/chameleon/internal/chameleon/interceptors"
	"github.com/ElLumy/chameleon/internal/chameleon/registry"
	"github.com/ElLumy/chameleon/internal/config"
	"github.com/ElLumy/chameleon/internal/observability"
	"github.com/ElLumy/chameleon/internal/store"
)

// Components holds the services shared by every command that runs a page
// load. This struct centralizes their lifecycle.
type Components struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     store.Repository // nil when the store is disabled or unreachable
	Seeds     *generator.SeedManager
	Generator *generator.SpoofingEngine
}

// newComponents builds the generator and opens the store. A store that
// cannot be opened only disables statistics.
func newComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	seeds := generator.NewSeedManager()
	gen, err := generator.NewSpoofingEngine(cfg.Generator, seeds, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile generator: %w", err)
	}
	c := &Components{Config: cfg, Logger: logger, Seeds: seeds, Generator: gen}

	repo, err := store.Open(ctx, cfg.Store, logger)
	switch {
	case errors.Is(err, store.ErrDisabled):
		logger.Info("Store disabled, statistics will not be recorded")
	case err != nil:
		logger.Warn("Store unavailable, statistics will not be recorded", zap.Error(err))
	default:
		c.Store = repo
	}
	return c, nil
}

// Shutdown releases the store.
func (c *Components) Shutdown() {
	if c.Store == nil {
		return
	}
	if err := c.Store.Close(); err != nil {
		c.Logger.Warn("Failed to close store", zap.Error(err))
	}
}

// CoreResolver resolves the generator and the shared utilities.
func (c *Components) CoreResolver() registry.Resolver {
	return interceptors.CoreResolver(c.Seeds, c.Generator)
}

// EngineOptions wires the store into an engine when one is open.
func (c *Components) EngineOptions() []engine.Option {
	if c.Store == nil {
		return nil
	}
	return []engine.Option{engine.WithRepository(c.Store)}
}

// setting reads key from the store, reporting false when unset or when the
// store is unavailable.
func (c *Components) setting(ctx context.Context, key string) (string, bool) {
	if c.Store == nil {
		return "", false
	}
	v, ok, err := c.Store.GetSetting(ctx, key)
	if err != nil {
		c.Logger.Warn("Failed to read setting", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return v, ok
}

// Enabled reports the stored enabled flag. Unset means enabled.
func (c *Components) Enabled(ctx context.Context) bool {
	v, ok := c.setting(ctx, schemas.SettingEnabled)
	if !ok {
		return true
	}
	enabled, err := strconv.ParseBool(v)
	return err != nil || enabled
}

// ApplyDebug switches the global logger to debug when the stored debug
// mode asks for it.
func (c *Components) ApplyDebug(ctx context.Context) {
	v, ok := c.setting(ctx, schemas.SettingDebugMode)
	if !ok {
		return
	}
	if debug, err := strconv.ParseBool(v); err == nil && debug {
		observability.SetDebug(true)
		c.Logger.Debug("Debug mode enabled from stored settings")
	}
}

// Rotation returns the auto-rotate configuration. Stored settings override
// the config file.
func (c *Components) Rotation(ctx context.Context) (bool, time.Duration) {
	enabled := c.Config.Engine.AutoRotate
	every := c.Config.Engine.RotateInterval

	if v, ok := c.setting(ctx, schemas.SettingAutoRotate); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			enabled = b
		}
	}
	if v, ok := c.setting(ctx, schemas.SettingRotateInterval); ok {
		if d, err := parseInterval(v); err == nil {
			every = d
		} else {
			c.Logger.Warn("Ignoring malformed rotate interval", zap.String("value", v))
		}
	}
	return enabled, every
}

// awaitReady waits for the page load to settle. Passing the boot timeout
// only logs; a slow document root still ends in Ready.
func (c *Components) awaitReady(ctx context.Context, e *engine.Engine) error {
	if timeout := c.Config.Engine.BootTimeout; timeout > 0 {
		slow := time.AfterFunc(timeout, func() {
			c.Logger.Warn("Page load is taking longer than the boot timeout", zap.Duration("boot_timeout", timeout))
		})
		defer slow.Stop()
	}
	return e.Wait(ctx)
}

// parseInterval accepts a Go duration or a bare number of minutes.
func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if minutes, err := strconv.Atoi(v); err == nil {
		if minutes <= 0 {
			return 0, fmt.Errorf("interval must be positive: %d", minutes)
		}
		return time.Duration(minutes) * time.Minute, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive: %s", v)
	}
	return d, nil
}

// Run boots e, serves the control channel for it and keeps the optional
// auto-rotation going until ctx ends. afterReady runs once the page load
// is Ready.
func (c *Components) Run(ctx context.Context, e *engine.Engine, afterReady func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)

	dispatcher := control.NewDispatcher(e.Events(), e, c.Logger)
	server := control.NewServer(dispatcher, c.Config.Control, c.Logger)
	g.Go(func() error {
		return server.ListenAndServe(ctx)
	})

	g.Go(func() error {
		// Boot failures leave the control channel up so clients keep
		// seeing an uninitialized status.
		if err := e.Start(ctx); err != nil {
			c.Logger.Error("Page load could not start", zap.Error(err))
			return nil
		}
		if err := c.awaitReady(ctx, e); err != nil {
			if ctx.Err() == nil {
				c.Logger.Error("Page load did not reach Ready", zap.Error(err))
			}
			return nil
		}
		profile := e.Profile()
		c.Logger.Info("Chameleon ready",
			zap.String("archetype", profile.Archetype),
			zap.String("session", profile.SessionID()),
			zap.String("browser", profile.BrowserFamily()),
		)

		if afterReady != nil {
			if err := afterReady(ctx); err != nil {
				return err
			}
		}
		if enabled, every := c.Rotation(ctx); enabled {
			e.AutoRotate(ctx, every)
		}
		return nil
	})

	err := g.Wait()
	e.Stop()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
