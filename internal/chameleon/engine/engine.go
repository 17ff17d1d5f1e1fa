// Package engine drives one page load: it injects the bootstrap payload and
// runs the boot, regeneration and profile requests that follow on a single
// serial worker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/chameleon/bootstrap"
	"github.com/ElLumy/chameleon/internal/chameleon/events"
	"github.com/ElLumy/chameleon/internal/chameleon/registry"
	"github.com/ElLumy/chameleon/internal/chameleon/state"
	"github.com/ElLumy/chameleon/internal/config"
	"github.com/ElLumy/chameleon/internal/observability"
	"github.com/ElLumy/chameleon/internal/store"
)

var (
	// ErrAlreadyStarted is returned by a second Start on the same engine.
	ErrAlreadyStarted = errors.New("engine already started")
	// ErrBootFailed is returned by Wait when the page load ended in Failed.
	ErrBootFailed = errors.New("chameleon boot failed")
)

// Target is the page environment the engine boots into.
type Target interface {
	// Events is the page's window event target.
	Events() *events.Bus
	// Bind exposes fn to page code as the global name.
	Bind(ctx context.Context, name string, fn func(arg string)) error
	Inject(ctx context.Context, payload bootstrap.Payload) error
	// SetInitialized sets the page's initialized marker.
	SetInitialized(ctx context.Context) error
}

// Defender is implemented by targets that install the self-defense guard
// themselves.
type Defender interface {
	Defend(ctx context.Context) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithDescriptors replaces the module set derived from the configuration.
func WithDescriptors(descs []registry.Descriptor) Option {
	return func(e *Engine) { e.descs = descs }
}

// WithRepository records every published profile in repo.
func WithRepository(repo store.Repository) Option {
	return func(e *Engine) { e.repo = repo }
}

// Engine is the isolated-context side of one page load.
type Engine struct {
	target  Target
	descs   []registry.Descriptor
	repo    store.Repository
	machine *state.Machine
	runtime *Runtime
	logger  *zap.Logger

	started atomic.Bool
	settled chan struct{}
	settle  sync.Once

	mu    sync.Mutex
	cause error
}

// New creates an engine for target. resolver loads the modules named by the
// bootstrap configuration.
func New(target Target, resolver registry.Resolver, cfg config.EngineConfig, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		target:  target,
		descs:   registry.Without(registry.DefaultDescriptors(), cfg.DisabledInterceptors...),
		machine: state.New(),
		logger:  logger.Named("engine"),
		settled: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.machine.OnChange(func(from, to state.State) {
		observability.OrchestrationState.WithLabelValues(from.String()).Set(0)
		observability.OrchestrationState.WithLabelValues(to.String()).Set(1)
		e.logger.Debug("State changed", zap.Stringer("from", from), zap.Stringer("to", to))
		if to == state.Ready || to == state.Failed {
			e.settle.Do(func() { close(e.settled) })
		}
	})

	e.runtime = newRuntime(runtimeConfig{
		target:      target,
		resolver:    resolver,
		machine:     e.machine,
		repo:        e.repo,
		queueSize:   cfg.QueueSize,
		concurrency: cfg.ResolveConcurrency,
		bootTimeout: cfg.BootTimeout,
		fail:        e.fail,
	}, e.logger)
	return e
}

// Start begins the page load: it installs the self-defense guard when the
// target offers one, binds the bootstrap entry point and injects the
// payload. The serial worker runs until ctx ends or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if err := e.machine.Transition(state.Loading); err != nil {
		return err
	}

	payload, err := bootstrap.Build(e.descs)
	if err != nil {
		return e.abort(fmt.Errorf("failed to build payload: %w", err))
	}

	e.runtime.start(ctx)

	if d, ok := e.target.(Defender); ok {
		if err := d.Defend(ctx); err != nil {
			e.logger.Warn("Self-defense guard could not be installed", zap.Error(err))
		}
	}
	if err := e.target.Bind(ctx, schemas.BootstrapBinding, e.runtime.onBootstrap); err != nil {
		return e.abort(fmt.Errorf("failed to bind bootstrap: %w", err))
	}
	if err := e.target.Inject(ctx, payload); err != nil {
		return e.abort(fmt.Errorf("failed to inject payload: %w", err))
	}
	e.logger.Info("Bootstrap injected", zap.Int("modules", len(e.descs)))
	return nil
}

// Wait blocks until the page load reaches Ready or Failed.
func (e *Engine) Wait(ctx context.Context) error {
	select {
	case <-e.settled:
	case <-ctx.Done():
		return ctx.Err()
	}
	if e.machine.Current() == state.Failed {
		e.mu.Lock()
		defer e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrBootFailed, e.cause)
	}
	return nil
}

// Stop halts the worker. Queued jobs are dropped.
func (e *Engine) Stop() {
	e.runtime.stop()
}

// State returns the orchestration state.
func (e *Engine) State() state.State { return e.machine.Current() }

// Ready reports whether the orchestration reached Ready.
func (e *Engine) Ready() bool { return e.machine.Ready() }

// Events returns the page's event target.
func (e *Engine) Events() *events.Bus { return e.target.Events() }

// Profile returns the current profile, or nil before boot completed.
func (e *Engine) Profile() *schemas.Profile { return e.runtime.profile() }

func (e *Engine) abort(err error) error {
	e.fail(err)
	return err
}

// fail moves the page load to Failed. It is safe from any goroutine.
func (e *Engine) fail(err error) {
	e.mu.Lock()
	if e.cause == nil {
		e.cause = err
	}
	e.mu.Unlock()

	if terr := e.machine.Transition(state.Failed); terr != nil {
		e.logger.Debug("Failure after the page load settled", zap.Error(err))
		return
	}
	e.logger.Error("Chameleon initialization failed", zap.Error(err))
}
