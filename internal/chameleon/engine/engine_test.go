package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/browser/pageenv"
	"github.com/ElLumy/chameleon/internal/chameleon/bootstrap"
	"github.com/ElLumy/chameleon/internal/chameleon/control"
	"github.com/ElLumy/chameleon/internal/chameleon/events"
	"github.com/ElLumy/chameleon/internal/chameleon/generator"
	"github.com/ElLumy/chameleon/internal/chameleon/interceptors"
	"github.com/ElLumy/chameleon/internal/chameleon/orchestrator"
	"github.com/ElLumy/chameleon/internal/chameleon/registry"
	"github.com/ElLumy/chameleon/internal/chameleon/state"
	"github.com/ElLumy/chameleon/internal/config"
	"github.com/ElLumy/chameleon/internal/mocks"
)

const waitTimeout = 5 * time.Second

var testConfig = config.EngineConfig{QueueSize: 16, ResolveConcurrency: 4, BootTimeout: waitTimeout}

// fakeTarget records what the engine does to the page and lets tests fire
// the bootstrap binding by hand.
type fakeTarget struct {
	bus *events.Bus

	mu       sync.Mutex
	bound    func(string)
	payloads []bootstrap.Payload

	initialized atomic.Bool
	bindErr     error
}

func newFakeTarget() *fakeTarget { return &fakeTarget{bus: events.NewBus()} }

func (f *fakeTarget) Events() *events.Bus { return f.bus }

func (f *fakeTarget) Bind(_ context.Context, name string, fn func(string)) error {
	if f.bindErr != nil {
		return f.bindErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == schemas.BootstrapBinding {
		f.bound = fn
	}
	return nil
}

func (f *fakeTarget) Inject(_ context.Context, p bootstrap.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	return nil
}

func (f *fakeTarget) SetInitialized(context.Context) error {
	f.initialized.Store(true)
	return nil
}

// callBootstrap runs the binding the way the injected payload would.
func (f *fakeTarget) callBootstrap(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	fn := f.bound
	require.NotEmpty(t, f.payloads)
	raw, err := json.Marshal(f.payloads[0].Config)
	f.mu.Unlock()
	require.NoError(t, err)
	require.NotNil(t, fn)
	fn(string(raw))
}

func coreResolver(t *testing.T) registry.Resolver {
	t.Helper()
	seeds := generator.NewSeedManager()
	gen, err := generator.NewSpoofingEngine(config.GeneratorConfig{}, seeds, zaptest.NewLogger(t))
	require.NoError(t, err)
	return interceptors.CoreResolver(seeds, gen)
}

func newEngine(t *testing.T, target Target, resolver registry.Resolver, opts ...Option) *Engine {
	t.Helper()
	e := New(target, resolver, testConfig, zaptest.NewLogger(t), opts...)
	t.Cleanup(e.Stop)
	return e
}

func waitReady(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, e.Wait(ctx))
}

// requestProfile asks for the profile the way the control dispatcher does.
func requestProfile(t *testing.T, bus *events.Bus) *schemas.Profile {
	t.Helper()
	got := make(chan *schemas.Profile, 1)
	bus.Once(schemas.EventProfileData, func(detail interface{}) {
		p, _ := detail.(*schemas.Profile)
		got <- p
	})
	bus.Emit(schemas.EventGetProfile, nil)
	select {
	case p := <-got:
		return p
	case <-time.After(waitTimeout):
		t.Fatal("no profile-data event")
		return nil
	}
}

func TestEngine_BootsPageToReady(t *testing.T) {
	page, err := pageenv.New(zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(page.Close)
	page.Document().CreateRoot()

	logger := zaptest.NewLogger(t)
	resolver := registry.Chain(coreResolver(t), interceptors.PageResolver(page, logger))
	e := newEngine(t, page, resolver)

	ready := make(chan schemas.ReadyDetail, 1)
	page.Events().Once(schemas.EventReady, func(detail interface{}) {
		ready <- detail.(schemas.ReadyDetail)
	})

	assert.Equal(t, state.Uninitialized, e.State())
	require.NoError(t, e.Start(context.Background()))
	waitReady(t, e)

	detail := <-ready
	require.NotNil(t, detail.Profile)
	assert.Same(t, e.Profile(), detail.Profile)
	assert.NotEmpty(t, detail.Profile.Archetype)

	ctx := context.Background()
	ua, err := page.ExecuteScript(ctx, "probe.js", `navigator.userAgent`)
	require.NoError(t, err)
	assert.Equal(t, detail.Profile.UserAgent, ua)

	marker, err := page.ExecuteScript(ctx, "probe.js", `globalThis.`+schemas.InitializedMarker)
	require.NoError(t, err)
	assert.Equal(t, true, marker)

	leaked, err := page.ExecuteScript(ctx, "probe.js",
		`Object.getOwnPropertyNames(globalThis).concat(Object.keys(globalThis)).filter(function (n) { return n.indexOf("__chameleon") === 0; }).length`)
	require.NoError(t, err)
	assert.EqualValues(t, 0, leaked, "marker globals stay hidden after boot")

	assert.ErrorIs(t, e.Start(ctx), ErrAlreadyStarted)
}

func TestEngine_WaitsForDocumentRoot(t *testing.T) {
	page, err := pageenv.New(zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(page.Close)

	resolver := registry.Chain(coreResolver(t), interceptors.PageResolver(page, zaptest.NewLogger(t)))
	e := newEngine(t, page, resolver)
	require.NoError(t, e.Start(context.Background()))

	assert.Equal(t, state.Loading, e.State())
	assert.Equal(t, 1, page.Document().Observers())

	page.Document().CreateRoot()
	waitReady(t, e)
	assert.Equal(t, 0, page.Document().Observers(), "watcher detaches after injection")
}

func TestEngine_RegenerationFreshness(t *testing.T) {
	page, err := pageenv.New(zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(page.Close)
	page.Document().CreateRoot()

	resolver := registry.Chain(coreResolver(t), interceptors.PageResolver(page, zaptest.NewLogger(t)))
	e := newEngine(t, page, resolver)
	require.NoError(t, e.Start(context.Background()))
	waitReady(t, e)

	first := requestProfile(t, page.Events())
	require.NotNil(t, first)
	assert.Equal(t, first.Seed, requestProfile(t, page.Events()).Seed, "seed is stable until regeneration")

	regenerated := make(chan *schemas.Profile, 1)
	page.Events().Once(schemas.EventProfileRegenerated, func(detail interface{}) {
		regenerated <- detail.(*schemas.Profile)
	})

	// The regenerate job is queued before the profile request.
	page.Events().Emit(schemas.EventRegenerate, nil)
	second := requestProfile(t, page.Events())
	require.NotNil(t, second)
	assert.NotEqual(t, first.Seed, second.Seed)
	assert.Equal(t, first.Generation+1, second.Generation)
	assert.Same(t, second, <-regenerated)

	ua, err := page.ExecuteScript(context.Background(), "probe.js", `navigator.userAgent`)
	require.NoError(t, err)
	assert.Equal(t, second.UserAgent, ua, "interceptors read the new profile")
}

func TestEngine_DuplicateBootstrapIgnored(t *testing.T) {
	target := newFakeTarget()
	var resolutions atomic.Int32
	core := coreResolver(t)
	counting := registry.ResolverFunc(func(ctx context.Context, d registry.Descriptor) (interface{}, error) {
		resolutions.Add(1)
		return core.Resolve(ctx, d)
	})

	required := registry.DefaultDescriptors()[:4]
	e := newEngine(t, target, counting, WithDescriptors(required))
	require.NoError(t, e.Start(context.Background()))

	target.callBootstrap(t)
	target.callBootstrap(t)
	waitReady(t, e)

	assert.EqualValues(t, len(required), resolutions.Load(), "the pipeline runs once")
	assert.True(t, target.initialized.Load())
	assert.Equal(t, 1, requestProfile(t, target.bus).Generation)
}

func TestEngine_JobsBeforeReadyQueueBehindBoot(t *testing.T) {
	target := newFakeTarget()
	e := newEngine(t, target, coreResolver(t), WithDescriptors(registry.DefaultDescriptors()[:4]))
	require.NoError(t, e.Start(context.Background()))

	got := make(chan *schemas.Profile, 1)
	target.bus.Once(schemas.EventProfileData, func(detail interface{}) { got <- detail.(*schemas.Profile) })
	target.bus.Emit(schemas.EventRegenerate, nil)
	target.bus.Emit(schemas.EventGetProfile, nil)
	assert.False(t, e.Ready())

	target.callBootstrap(t)
	waitReady(t, e)

	select {
	case p := <-got:
		assert.Equal(t, 2, p.Generation, "the profile request observes the earlier regeneration")
	case <-time.After(waitTimeout):
		t.Fatal("queued profile request was never answered")
	}
}

func TestEngine_RequiredModuleMissingFails(t *testing.T) {
	target := newFakeTarget()
	core := coreResolver(t)
	broken := registry.ResolverFunc(func(ctx context.Context, d registry.Descriptor) (interface{}, error) {
		if d.Name == registry.SpoofingEngine {
			return nil, errors.New("spoofing engine failed to load")
		}
		return core.Resolve(ctx, d)
	})
	e := newEngine(t, target, broken, WithDescriptors(registry.DefaultDescriptors()[:4]))

	readyFired := atomic.Bool{}
	target.bus.On(schemas.EventReady, func(interface{}) { readyFired.Store(true) })

	require.NoError(t, e.Start(context.Background()))
	target.callBootstrap(t)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	err := e.Wait(ctx)
	require.ErrorIs(t, err, ErrBootFailed)
	assert.Contains(t, err.Error(), registry.SpoofingEngine)
	assert.Equal(t, state.Failed, e.State())
	assert.False(t, target.initialized.Load())

	// Later requests are dropped and the state stays Failed.
	target.bus.Emit(schemas.EventRegenerate, nil)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, state.Failed, e.State())
	assert.False(t, readyFired.Load(), "ready never fires after a failed boot")
	assert.Nil(t, e.Profile())
}

func TestEngine_BindFailureFails(t *testing.T) {
	target := newFakeTarget()
	target.bindErr = errors.New("binding rejected")
	e := newEngine(t, target, coreResolver(t))

	err := e.Start(context.Background())
	require.ErrorIs(t, err, target.bindErr)
	assert.Equal(t, state.Failed, e.State())
}

func TestEngine_StatusThroughControlChannel(t *testing.T) {
	target := newFakeTarget()
	e := newEngine(t, target, coreResolver(t), WithDescriptors(registry.DefaultDescriptors()[:4]))
	d := control.NewDispatcher(e.Events(), e, zaptest.NewLogger(t))
	ctx := context.Background()

	resp := d.Do(ctx, schemas.Request{Action: schemas.ActionGetStatus})
	require.NotNil(t, resp.Initialized)
	assert.False(t, *resp.Initialized)

	require.NoError(t, e.Start(ctx))
	target.callBootstrap(t)
	waitReady(t, e)

	resp = d.Do(ctx, schemas.Request{Action: schemas.ActionGetStatus})
	require.NotNil(t, resp.Initialized)
	assert.True(t, *resp.Initialized)

	reqCtx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	resp = d.Do(reqCtx, schemas.Request{Action: schemas.ActionGetProfile})
	require.NotNil(t, resp.Profile)
	assert.NotEmpty(t, resp.Profile.Archetype)
}

func TestEngine_RecordsProfiles(t *testing.T) {
	target := newFakeTarget()
	repo := &mocks.MockRepository{}
	repo.On("RecordProfile", mock.Anything, mock.AnythingOfType("*schemas.Profile")).Return(nil)

	e := newEngine(t, target, coreResolver(t),
		WithDescriptors(registry.DefaultDescriptors()[:4]),
		WithRepository(repo),
	)
	require.NoError(t, e.Start(context.Background()))
	target.callBootstrap(t)
	waitReady(t, e)

	target.bus.Emit(schemas.EventRegenerate, nil)
	require.Equal(t, 2, requestProfile(t, target.bus).Generation)
	repo.AssertNumberOfCalls(t, "RecordProfile", 2)
}

func TestEngine_AutoRotate(t *testing.T) {
	target := newFakeTarget()
	e := newEngine(t, target, coreResolver(t), WithDescriptors(registry.DefaultDescriptors()[:4]))
	require.NoError(t, e.Start(context.Background()))
	target.callBootstrap(t)
	waitReady(t, e)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.AutoRotate(ctx, 10*time.Millisecond)
	}()

	assert.Eventually(t, func() bool {
		p := e.Profile()
		return p != nil && p.Generation >= 3
	}, waitTimeout, 10*time.Millisecond)
	cancel()
	<-done
}

// journalResolver serves the generator modules from the core resolver and
// every interceptor as a mock recording into one journal. Names in missing
// are reported as not found.
type journalResolver struct {
	core    registry.Resolver
	journal *mocks.Journal
	meta    *mocks.MockMetaInterceptor
	surface map[string]*mocks.MockInterceptor
	missing map[string]bool
	broken  string
}

func newJournalResolver(t *testing.T, missing ...string) *journalResolver {
	r := &journalResolver{
		core:    coreResolver(t),
		journal: &mocks.Journal{},
		surface: make(map[string]*mocks.MockInterceptor),
		missing: make(map[string]bool),
	}
	for _, name := range missing {
		r.missing[name] = true
	}
	r.meta = &mocks.MockMetaInterceptor{Journal: r.journal}
	r.meta.On("Init").Return(nil)
	for _, name := range orchestrator.Order {
		m := &mocks.MockInterceptor{Name: name, Journal: r.journal}
		m.On("Init", mock.Anything).Return(nil)
		r.surface[name] = m
	}
	return r
}

func (r *journalResolver) Resolve(ctx context.Context, d registry.Descriptor) (interface{}, error) {
	switch {
	case d.Name == r.broken:
		return nil, errors.New(d.Name + " failed to load")
	case r.missing[d.Name]:
		return nil, registry.ErrModuleNotFound
	case d.Name == registry.MetaInterceptor:
		return r.meta, nil
	}
	if m, ok := r.surface[d.Name]; ok {
		return m, nil
	}
	return r.core.Resolve(ctx, d)
}

// surfaces lists the interceptors of orchestrator.Order that are not missing.
func (r *journalResolver) surfaces() []string {
	var out []string
	for _, name := range orchestrator.Order {
		if !r.missing[name] {
			out = append(out, name)
		}
	}
	return out
}

func bootWithJournal(t *testing.T, r *journalResolver) (*fakeTarget, *Engine) {
	t.Helper()
	target := newFakeTarget()
	e := newEngine(t, target, r)
	require.NoError(t, e.Start(context.Background()))
	target.callBootstrap(t)
	waitReady(t, e)
	return target, e
}

func TestEngine_MetaRunsBeforeSurfaces(t *testing.T) {
	r := newJournalResolver(t)
	bootWithJournal(t, r)

	want := append([]string{registry.MetaInterceptor}, orchestrator.Order...)
	assert.Equal(t, want, r.journal.Entries())
	r.meta.AssertNumberOfCalls(t, "Init", 1)
}

func TestEngine_OrderHoldsWithGaps(t *testing.T) {
	r := newJournalResolver(t, registry.CanvasInterceptor, registry.AudioInterceptor)
	_, e := bootWithJournal(t, r)

	want := []string{
		registry.MetaInterceptor,
		registry.NavigatorInterceptor,
		registry.ScreenInterceptor,
		registry.WebGLInterceptor,
		registry.FontsInterceptor,
		registry.PluginsInterceptor,
		registry.TimezoneInterceptor,
	}
	assert.Equal(t, want, r.journal.Entries())
	r.surface[registry.CanvasInterceptor].AssertNotCalled(t, "Init", mock.Anything)
	r.surface[registry.AudioInterceptor].AssertNotCalled(t, "Init", mock.Anything)
	assert.Equal(t, state.Ready, e.State())
}

func TestEngine_RegenerationReinitializesSurfaces(t *testing.T) {
	r := newJournalResolver(t, registry.FontsInterceptor)
	target, e := bootWithJournal(t, r)
	first := e.Profile()
	require.NotNil(t, first)

	regenerated := make(chan *schemas.Profile, 1)
	target.bus.Once(schemas.EventProfileRegenerated, func(detail interface{}) {
		regenerated <- detail.(*schemas.Profile)
	})
	target.bus.Emit(schemas.EventRegenerate, nil)

	var second *schemas.Profile
	select {
	case second = <-regenerated:
	case <-time.After(waitTimeout):
		t.Fatal("no regeneration")
	}
	require.Equal(t, first.Generation+1, second.Generation)

	// Jobs run one at a time, so the answer arrives after the pass.
	assert.Same(t, second, requestProfile(t, target.bus))

	surfaces := r.surfaces()
	entries := r.journal.Entries()
	require.Len(t, entries, 1+2*len(surfaces))
	assert.Equal(t, append([]string{registry.MetaInterceptor}, surfaces...), entries[:1+len(surfaces)])
	assert.Equal(t, surfaces, entries[1+len(surfaces):], "the second pass skips meta")
	r.meta.AssertNumberOfCalls(t, "Init", 1)

	for _, name := range surfaces {
		m := r.surface[name]
		m.AssertNumberOfCalls(t, "Init", 2)
		assert.Same(t, first, m.Calls[0].Arguments.Get(0), name)
		assert.Same(t, second, m.Calls[1].Arguments.Get(0), name)
	}
	r.surface[registry.FontsInterceptor].AssertNotCalled(t, "Init", mock.Anything)
}

func TestEngine_RequiredFailureInitializesNothing(t *testing.T) {
	r := newJournalResolver(t)
	r.broken = registry.JitterUtils
	target := newFakeTarget()
	e := newEngine(t, target, r)
	require.NoError(t, e.Start(context.Background()))
	target.callBootstrap(t)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.ErrorIs(t, e.Wait(ctx), ErrBootFailed)

	assert.Empty(t, r.journal.Entries())
	r.meta.AssertNotCalled(t, "Init")
	assert.Equal(t, state.Failed, e.State())
	assert.False(t, target.initialized.Load())
}
