// Package browser manages the Chrome process that backs stealth targets.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/internal/browser/stealth"
	"github.com/ElLumy/chameleon/internal/config"
)

// Manager owns the browser process and the tabs opened in it.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// ChromeDP allocator context manages the underlying browser executable.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	mu   sync.Mutex
	tabs map[string]*Tab
}

// Tab is one browser tab wrapped as a stealth target.
type Tab struct {
	ID     string
	Target *stealth.Target

	ctx     context.Context
	cancel  context.CancelFunc
	manager *Manager
}

// NewManager prepares the allocator. The browser process starts with the
// first tab.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
		tabs:   make(map[string]*Tab),
	}
	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, m.allocatorOptions()...)

	m.logger.Info("Browser manager initialized", zap.Bool("headless", cfg.Headless), zap.Int("extra_flags", len(cfg.Args)))
	return m
}

// allocatorOptions configures the flags for the browser executable.
func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if m.cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}

	opts = append(opts,
		// The automation banner and the webdriver flag are both fingerprints.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-extensions", true),

		chromedp.Flag("disable-gpu", m.cfg.Headless),
	)

	for _, arg := range m.cfg.Args {
		name, value, ok := parseFlag(arg)
		if !ok {
			m.logger.Warn("Ignoring malformed browser flag", zap.String("flag", arg))
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// parseFlag splits "--name=value" (or "name") into a chromedp flag. A flag
// without a value is a boolean switch.
func parseFlag(arg string) (string, interface{}, bool) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", nil, false
	}
	name, value, found := strings.Cut(arg, "=")
	if name == "" {
		return "", nil, false
	}
	if !found {
		return name, true, true
	}
	switch strings.ToLower(value) {
	case "true":
		return name, true, true
	case "false":
		return name, false, true
	}
	return name, value, true
}

// NewTab opens a tab, attaches a stealth target to it and ties its lifetime
// to ctx.
func (m *Manager) NewTab(ctx context.Context) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(m.allocatorCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-tabCtx.Done():
		}
	}()

	// Starts the browser on first use.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	target := stealth.NewTarget(tabCtx, m.logger)
	if err := target.Attach(ctx); err != nil {
		cancel()
		return nil, err
	}

	tab := &Tab{
		ID:      uuid.New().String(),
		Target:  target,
		ctx:     tabCtx,
		cancel:  cancel,
		manager: m,
	}
	m.mu.Lock()
	m.tabs[tab.ID] = tab
	m.mu.Unlock()

	m.logger.Debug("Tab opened", zap.String("tab_id", tab.ID))
	return tab, nil
}

// Done is closed when the tab goes away.
func (t *Tab) Done() <-chan struct{} { return t.ctx.Done() }

// Close detaches the target and closes the tab.
func (t *Tab) Close() {
	t.Target.Detach()
	t.cancel()
	t.manager.mu.Lock()
	delete(t.manager.tabs, t.ID)
	t.manager.mu.Unlock()
}

// Shutdown closes every tab, then the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager...")

	m.mu.Lock()
	tabs := make([]*Tab, 0, len(m.tabs))
	for _, tab := range m.tabs {
		tabs = append(tabs, tab)
	}
	m.mu.Unlock()

	for _, tab := range tabs {
		tab.Close()
	}

	done := make(chan struct{})
	go func() {
		m.allocatorCancel()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		m.logger.Warn("Browser process did not exit in time")
	}

	m.logger.Info("Browser manager shutdown complete.")
	return nil
}
