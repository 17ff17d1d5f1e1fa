// Package stealth drives a real Chrome tab as a Chameleon page target. The
// bootstrap payload, the self-defense guard and the surface installers are
// registered as new-document scripts and also evaluated in the current
// document; bindings added over CDP carry page calls back to the host.
package stealth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/chameleon/bootstrap"
	"github.com/ElLumy/chameleon/internal/chameleon/defense"
	"github.com/ElLumy/chameleon/internal/chameleon/events"
)

// EventBinding carries page-dispatched events to the host.
const EventBinding = schemas.MarkerPrefix + "_event"

// dispatchTimeout bounds one host-to-page event delivery.
const dispatchTimeout = 5 * time.Second

// ErrNotAttached is returned by operations that need Attach first.
var ErrNotAttached = errors.New("stealth: target not attached")

// pageEvents are raised by page code and relayed to the host.
var pageEvents = []string{schemas.EventRegenerate, schemas.EventGetProfile}

// hostEvents are raised by the host and dispatched into the page.
var hostEvents = []string{schemas.EventReady, schemas.EventProfileData, schemas.EventProfileRegenerated}

// Target is one Chrome tab seen as a page environment.
type Target struct {
	ctx    context.Context
	bus    *events.Bus
	logger *zap.Logger

	mu         sync.Mutex
	attached   bool
	bindings   map[string]func(string)
	scripts    map[string]page.ScriptIdentifier
	onNavigate func(url string)
	offs       []func()

	// Host events wait here for the pump, in emission order.
	outbox  []hostEvent
	wake    chan struct{}
	stopped chan struct{}
	send    func(name string, detail interface{})
}

type hostEvent struct {
	name   string
	detail interface{}
}

// NewTarget wraps the chromedp tab context ctx.
func NewTarget(ctx context.Context, logger *zap.Logger) *Target {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Target{
		ctx:      ctx,
		bus:      events.NewBus(),
		logger:   logger.Named("stealth"),
		bindings: make(map[string]func(string)),
		scripts:  make(map[string]page.ScriptIdentifier),
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
	t.send = t.dispatch
	return t
}

// Events is the host-side mirror of the tab's window event target.
func (t *Target) Events() *events.Bus { return t.bus }

// OnNavigate registers fn to receive the URL of every top-level navigation.
func (t *Target) OnNavigate(fn func(url string)) {
	t.mu.Lock()
	t.onNavigate = fn
	t.mu.Unlock()
}

// Attach enables the CDP domains the target relies on and wires the event
// relay in both directions.
func (t *Target) Attach(ctx context.Context) error {
	t.mu.Lock()
	if t.attached {
		t.mu.Unlock()
		return nil
	}
	t.attached = true
	t.mu.Unlock()

	chromedp.ListenTarget(t.ctx, t.handle)

	relay := relayScript(EventBinding, pageEvents...)
	err := t.run(ctx,
		page.Enable(),
		runtime.Enable(),
		runtime.AddBinding(EventBinding),
		t.persist("relay", relay),
		chromedp.Evaluate(relay, nil),
	)
	if err != nil {
		return fmt.Errorf("stealth: failed to attach: %w", err)
	}

	t.forward()
	t.logger.Debug("Target attached")
	return nil
}

// Detach stops forwarding host events into the tab.
func (t *Target) Detach() {
	t.mu.Lock()
	offs := t.offs
	t.offs = nil
	t.outbox = nil
	select {
	case <-t.stopped:
	default:
		close(t.stopped)
	}
	t.mu.Unlock()
	for _, off := range offs {
		off()
	}
}

// forward subscribes to the host events and starts the pump that delivers
// them to the tab one at a time. Listeners run on the emitter's goroutine,
// which may be a chromedp event handler, so they only queue.
func (t *Target) forward() {
	for _, name := range hostEvents {
		off := t.bus.On(name, func(detail interface{}) {
			t.mu.Lock()
			t.outbox = append(t.outbox, hostEvent{name: name, detail: detail})
			t.mu.Unlock()
			select {
			case t.wake <- struct{}{}:
			default:
			}
		})
		t.mu.Lock()
		t.offs = append(t.offs, off)
		t.mu.Unlock()
	}
	go t.pump()
}

func (t *Target) pump() {
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-t.stopped:
			return
		case <-t.wake:
		}
		for {
			t.mu.Lock()
			if len(t.outbox) == 0 {
				t.mu.Unlock()
				break
			}
			ev := t.outbox[0]
			t.outbox = t.outbox[1:]
			t.mu.Unlock()
			t.send(ev.name, ev.detail)
		}
	}
}

// Bind exposes fn to page code as the global name. fn runs on the CDP
// event goroutine and must not block.
func (t *Target) Bind(ctx context.Context, name string, fn func(arg string)) error {
	if !t.isAttached() {
		return ErrNotAttached
	}
	t.mu.Lock()
	t.bindings[name] = fn
	t.mu.Unlock()
	if err := t.run(ctx, runtime.AddBinding(name)); err != nil {
		return fmt.Errorf("stealth: failed to bind %s: %w", name, err)
	}
	return nil
}

// Defend installs the self-defense guard.
func (t *Target) Defend(ctx context.Context) error {
	return t.install(ctx, "guard", defense.Script()+"\n//# sourceURL=chameleon://guard.js\n")
}

// Inject runs the bootstrap payload in the current document and in every
// document loaded after it. The marker check inside the payload keeps it
// from running twice per document.
func (t *Target) Inject(ctx context.Context, payload bootstrap.Payload) error {
	src := payload.Script
	if payload.Name != "" {
		src += "\n//# sourceURL=" + payload.Name + "\n"
	}
	return t.install(ctx, "bootstrap", src)
}

// SetInitialized defines the initialized marker as a non-enumerable global.
func (t *Target) SetInitialized(ctx context.Context) error {
	marker, _ := json.Marshal(schemas.InitializedMarker)
	src := fmt.Sprintf("Object.defineProperty(window, %s, {value: true, enumerable: false, configurable: true});", marker)
	return t.install(ctx, "initialized", src)
}

// Evaluate runs src in the current document and decodes the result into res,
// which may be nil.
func (t *Target) Evaluate(ctx context.Context, src string, res interface{}) error {
	return t.run(ctx, chromedp.Evaluate(src, res))
}

// Navigate loads url in the tab.
func (t *Target) Navigate(ctx context.Context, url string) error {
	return t.run(ctx, chromedp.Navigate(url))
}

// install registers src under key for new documents and runs it now.
func (t *Target) install(ctx context.Context, key, src string, actions ...chromedp.Action) error {
	if !t.isAttached() {
		return ErrNotAttached
	}
	actions = append(actions, t.persist(key, src), chromedp.Evaluate(src, nil))
	if err := t.run(ctx, actions...); err != nil {
		return fmt.Errorf("stealth: failed to install %s: %w", key, err)
	}
	return nil
}

// persist replaces the new-document script registered under key.
func (t *Target) persist(key, src string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		t.mu.Lock()
		prev, ok := t.scripts[key]
		t.mu.Unlock()
		if ok {
			if err := page.RemoveScriptToEvaluateOnNewDocument(prev).Do(ctx); err != nil {
				return err
			}
		}
		id, err := page.AddScriptToEvaluateOnNewDocument(src).Do(ctx)
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.scripts[key] = id
		t.mu.Unlock()
		return nil
	})
}

// run executes actions on the tab, bounded by both ctx and the tab's own
// lifetime.
func (t *Target) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (t *Target) isAttached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attached
}

// handle runs on the chromedp event goroutine. It must not call
// chromedp.Run.
func (t *Target) handle(ev interface{}) {
	switch e := ev.(type) {
	case *runtime.EventBindingCalled:
		if e.Name == EventBinding {
			t.relay(e.Payload)
			return
		}
		t.mu.Lock()
		fn := t.bindings[e.Name]
		t.mu.Unlock()
		if fn != nil {
			fn(e.Payload)
		}
	case *page.EventFrameNavigated:
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		t.mu.Lock()
		fn := t.onNavigate
		t.mu.Unlock()
		if fn != nil {
			go fn(e.Frame.URL)
		}
	}
}

func (t *Target) relay(payload string) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		t.logger.Debug("Dropping malformed relay message", zap.Error(err))
		return
	}
	for _, name := range pageEvents {
		if msg.Name == name {
			t.bus.Emit(name, nil)
			return
		}
	}
	t.logger.Debug("Dropping relay message for unknown event", zap.String("event", msg.Name))
}

func (t *Target) dispatch(name string, detail interface{}) {
	src, err := dispatchScript(name, detail)
	if err != nil {
		t.logger.Warn("Failed to encode page event", zap.String("event", name), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	if err := t.run(ctx, chromedp.Evaluate(src, nil)); err != nil {
		t.logger.Debug("Failed to dispatch page event", zap.String("event", name), zap.Error(err))
	}
}
