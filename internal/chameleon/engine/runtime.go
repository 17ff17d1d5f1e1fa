package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/chameleon/bootstrap"
	"github.com/ElLumy/chameleon/internal/chameleon/lifecycle"
	"github.com/ElLumy/chameleon/internal/chameleon/orchestrator"
	"github.com/ElLumy/chameleon/internal/chameleon/registry"
	"github.com/ElLumy/chameleon/internal/chameleon/state"
	"github.com/ElLumy/chameleon/internal/store"
)

const defaultQueueSize = 64

type jobKind int

const (
	jobBoot jobKind = iota
	jobRegenerate
	jobServeProfile
)

func (k jobKind) String() string {
	switch k {
	case jobBoot:
		return "boot"
	case jobRegenerate:
		return "regenerate"
	case jobServeProfile:
		return "serve-profile"
	}
	return fmt.Sprintf("job(%d)", int(k))
}

type job struct {
	kind jobKind
	cfg  bootstrap.Config
	err  error
}

type runtimeConfig struct {
	target      Target
	resolver    registry.Resolver
	machine     *state.Machine
	repo        store.Repository
	queueSize   int
	concurrency int
	bootTimeout time.Duration
	fail        func(error)
}

// Runtime is the page side of the engine. Every job runs on one worker
// goroutine, in arrival order, so interceptor passes never overlap and a
// profile request always observes the regenerations queued before it.
type Runtime struct {
	runtimeConfig
	logger *zap.Logger

	jobs         chan job
	bootstrapped atomic.Bool
	lc           atomic.Pointer[lifecycle.Controller]

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	offs      []func()

	// Worker-only state.
	orch     *orchestrator.Orchestrator
	deferred []job
}

func newRuntime(cfg runtimeConfig, logger *zap.Logger) *Runtime {
	if cfg.queueSize <= 0 {
		cfg.queueSize = defaultQueueSize
	}
	return &Runtime{
		runtimeConfig: cfg,
		logger:        logger.Named("runtime"),
		jobs:          make(chan job, cfg.queueSize),
		done:          make(chan struct{}),
		cancel:        func() {},
	}
}

func (r *Runtime) start(ctx context.Context) {
	r.startOnce.Do(func() {
		ctx, r.cancel = context.WithCancel(ctx)
		bus := r.target.Events()
		// Handlers may run on the page loop: they only enqueue.
		r.offs = append(r.offs,
			bus.On(schemas.EventRegenerate, func(interface{}) { r.enqueue(job{kind: jobRegenerate}) }),
			bus.On(schemas.EventGetProfile, func(interface{}) { r.enqueue(job{kind: jobServeProfile}) }),
		)
		go r.loop(ctx)
	})
}

func (r *Runtime) stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		for _, off := range r.offs {
			off()
		}
	})
}

func (r *Runtime) profile() *schemas.Profile {
	if lc := r.lc.Load(); lc != nil {
		return lc.Current()
	}
	return nil
}

// onBootstrap is the bootstrap binding. It runs on the page loop.
func (r *Runtime) onBootstrap(raw string) {
	if !r.bootstrapped.CompareAndSwap(false, true) {
		r.logger.Warn("Duplicate bootstrap call ignored")
		return
	}
	cfg, err := bootstrap.ParseConfig(raw)
	if !r.enqueue(job{kind: jobBoot, cfg: cfg, err: err}) {
		r.fail(errors.New("boot job could not be queued"))
	}
}

func (r *Runtime) enqueue(j job) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.jobs <- j:
		return true
	default:
		r.logger.Warn("Job queue full, dropping job", zap.Stringer("job", j.kind))
		return false
	}
}

func (r *Runtime) loop(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.jobs:
			r.handle(ctx, j)
		}
	}
}

func (r *Runtime) handle(ctx context.Context, j job) {
	if j.kind == jobBoot {
		r.boot(ctx, j)
		return
	}
	switch r.machine.Current() {
	case state.Ready:
		r.run(ctx, j)
	case state.Failed:
		r.dropDeferred()
		r.logger.Warn("Boot failed, dropping job", zap.Stringer("job", j.kind))
	default:
		r.logger.Debug("Job queued behind boot", zap.Stringer("job", j.kind))
		r.deferred = append(r.deferred, j)
	}
}

func (r *Runtime) run(ctx context.Context, j job) {
	lc := r.lc.Load()
	switch j.kind {
	case jobRegenerate:
		p, err := lc.Regenerate(ctx)
		if err != nil {
			r.logger.Error("Profile regeneration failed", zap.Error(err))
			return
		}
		report, err := r.orch.InitializeAll(p)
		if err != nil {
			r.logger.Error("Interceptor pass failed", zap.Error(err))
			return
		}
		r.record(ctx, p)
		r.logger.Info("Profile regenerated",
			zap.Int("generation", p.Generation),
			zap.Int("initialized", report.Count(orchestrator.OutcomeInitialized)),
		)
	case jobServeProfile:
		if err := lc.ServeProfile(); err != nil {
			r.logger.Warn("Profile request could not be answered", zap.Error(err))
		}
	}
}

func (r *Runtime) boot(ctx context.Context, j job) {
	if j.err != nil {
		r.abortBoot(fmt.Errorf("malformed bootstrap config: %w", j.err))
		return
	}
	if r.bootTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.bootTimeout)
		defer cancel()
	}

	reg := registry.New(r.resolver, r.logger, registry.WithConcurrency(r.concurrency))
	set, err := reg.ResolveAll(ctx, j.cfg.Modules)
	if err != nil {
		r.abortBoot(fmt.Errorf("module resolution failed: %w", err))
		return
	}
	mod, _ := set.Lookup(registry.SpoofingEngine)
	gen, ok := mod.(lifecycle.Generator)
	if !ok {
		r.abortBoot(fmt.Errorf("%s is not a profile generator", registry.SpoofingEngine))
		return
	}

	orch := orchestrator.New(set, r.logger)
	if err := orch.InitializeMeta(); err != nil {
		r.logger.Warn("Meta interceptor failed", zap.Error(err))
	}

	lc := lifecycle.New(gen, r.target.Events(), r.logger)
	p, err := lc.Init(ctx)
	if err != nil {
		r.abortBoot(fmt.Errorf("initial profile: %w", err))
		return
	}
	r.orch = orch
	r.lc.Store(lc)

	report, err := orch.InitializeAll(p)
	if err != nil {
		r.abortBoot(err)
		return
	}
	if err := r.machine.Transition(state.Ready); err != nil {
		// Start aborted the page load while modules were resolving.
		r.logger.Warn("Boot finished after the page load settled", zap.Error(err))
		r.dropDeferred()
		return
	}
	if err := r.target.SetInitialized(ctx); err != nil {
		r.logger.Warn("Initialized marker not set", zap.Error(err))
	}
	lc.AnnounceReady(p)
	r.record(ctx, p)
	r.logger.Info("Chameleon initialized",
		zap.String("archetype", p.Archetype),
		zap.String("session", p.SessionID()),
		zap.Int("initialized", report.Count(orchestrator.OutcomeInitialized)),
		zap.Int("failed", report.Count(orchestrator.OutcomeFailed)),
		zap.Int("unavailable", report.Count(orchestrator.OutcomeUnavailable)),
	)

	pending := r.deferred
	r.deferred = nil
	for _, d := range pending {
		r.run(ctx, d)
	}
}

func (r *Runtime) abortBoot(err error) {
	r.fail(err)
	r.dropDeferred()
}

func (r *Runtime) dropDeferred() {
	if len(r.deferred) == 0 {
		return
	}
	r.logger.Warn("Dropping jobs queued behind boot", zap.Int("count", len(r.deferred)))
	r.deferred = nil
}

func (r *Runtime) record(ctx context.Context, p *schemas.Profile) {
	if r.repo == nil {
		return
	}
	if err := r.repo.RecordProfile(ctx, p); err != nil {
		r.logger.Warn("Failed to record profile", zap.Error(err))
	}
}
