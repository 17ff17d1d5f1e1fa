// Package pageenv is an in-process page environment: a goja VM driven by an
// event loop, a simulated document tree and a window event target.
package pageenv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/chameleon/bootstrap"
	"github.com/ElLumy/chameleon/internal/chameleon/bridge"
	"github.com/ElLumy/chameleon/internal/chameleon/defense"
	"github.com/ElLumy/chameleon/internal/chameleon/events"
)

// ErrClosed is returned for work submitted to a closed page.
var ErrClosed = errors.New("page closed")

// DefaultTimeout bounds ExecuteScript when the context has no earlier deadline.
const DefaultTimeout = 30 * time.Second

const preludeName = "page://prelude.js"

const prelude = `
var window = globalThis;
var self = globalThis;
function CustomEvent(type, init) {
  this.type = String(type);
  this.detail = (init && init.detail !== undefined) ? init.detail : null;
}
var navigator = {
  userAgent: "Mozilla/5.0 (X11; Linux x86_64) Goja",
  platform: "Linux x86_64",
  language: "en-US",
  languages: ["en-US"],
  hardwareConcurrency: 2,
  maxTouchPoints: 0,
  vendor: "",
  plugins: []
};
var screen = { width: 1024, height: 768, availWidth: 1024, availHeight: 768, colorDepth: 24, pixelDepth: 24 };
globalThis.devicePixelRatio = 1;
var document = { fonts: { check: function () { return false; } } };

function CanvasRenderingContext2D() {}
CanvasRenderingContext2D.prototype.getImageData = function (sx, sy, sw, sh) {
  var n = Math.max(0, sw * sh * 4), data = new Array(n);
  for (var i = 0; i < n; i++) { data[i] = (i * 37 + sx + sy) % 256; }
  return { width: sw, height: sh, data: data };
};

function WebGLRenderingContext() {}
WebGLRenderingContext.prototype.getParameter = function (p) { return null; };
WebGLRenderingContext.prototype.getExtension = function (name) {
  return name === "WEBGL_debug_renderer_info" ? { UNMASKED_VENDOR_WEBGL: 0x9245, UNMASKED_RENDERER_WEBGL: 0x9246 } : null;
};

function AudioBuffer(options) {
  var length = (options && options.length) || 0;
  this.length = length;
  this.samples = new Array(length);
  for (var i = 0; i < length; i++) { this.samples[i] = Math.sin(i / 8); }
}
AudioBuffer.prototype.sampleRate = 44100;
AudioBuffer.prototype.getChannelData = function () { return this.samples; };
`

// Page is one loaded page. All VM access happens on the event loop goroutine;
// Do must not be called from that goroutine.
type Page struct {
	loop    *eventloop.EventLoop
	bus     *events.Bus
	doc     *Document
	guard   *defense.Guard
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool

	// Loop-goroutine state.
	vm        *goja.Runtime
	listeners map[listenerKey]func()
}

type listenerKey struct {
	name string
	fn   *goja.Object
}

// Option configures a Page.
type Option func(*Page)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Page) { p.timeout = d }
}

// New starts a page. The document has no root until CreateRoot is called
// on it, like a page that has not started parsing.
func New(logger *zap.Logger, opts ...Option) (*Page, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("pageenv")

	registry := new(require.Registry)
	registry.RegisterNativeModule("console", console.RequireWithPrinter(&consolePrinter{logger: log.Named("console")}))

	p := &Page{
		loop:      eventloop.NewEventLoop(eventloop.WithRegistry(registry)),
		bus:       events.NewBus(),
		guard:     defense.New(log),
		logger:    log,
		timeout:   DefaultTimeout,
		listeners: make(map[listenerKey]func()),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.doc = newDocument(p.runCarrier)

	p.loop.Start()
	if err := p.Do(context.Background(), p.setup); err != nil {
		p.Close()
		return nil, fmt.Errorf("pageenv: setup failed: %w", err)
	}
	return p, nil
}

func (p *Page) setup(vm *goja.Runtime) error {
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	p.vm = vm

	if _, err := vm.RunScript(preludeName, prelude); err != nil {
		return err
	}
	global := vm.GlobalObject()
	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"addEventListener":    p.addEventListener,
		"removeEventListener": p.removeEventListener,
		"dispatchEvent":       p.dispatchEvent,
	} {
		if err := global.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// Events returns the window event target.
func (p *Page) Events() *events.Bus { return p.bus }

// Document returns the simulated document tree.
func (p *Page) Document() *Document { return p.doc }

// Guard returns the page's self-defense guard.
func (p *Page) Guard() *defense.Guard { return p.guard }

// Do runs fn on the event loop and waits for it.
func (p *Page) Do(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	errCh := make(chan error, 1)
	if !p.post(func(vm *goja.Runtime) { errCh <- safeRun(fn, vm) }) {
		return ErrClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post schedules fn on the event loop without waiting.
func (p *Page) Post(fn func(vm *goja.Runtime)) error {
	if !p.post(fn) {
		return ErrClosed
	}
	return nil
}

func (p *Page) post(fn func(vm *goja.Runtime)) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.loop.RunOnLoop(fn)
	return true
}

// Bind exposes a host function taking one string argument as a page global.
func (p *Page) Bind(ctx context.Context, name string, fn func(arg string)) error {
	return p.Do(ctx, func(vm *goja.Runtime) error {
		return vm.Set(name, func(call goja.FunctionCall) goja.Value {
			fn(call.Argument(0).String())
			return goja.Undefined()
		})
	})
}

// Defend installs the self-defense guard.
func (p *Page) Defend(ctx context.Context) error {
	return p.Do(ctx, p.guard.Install)
}

// Inject hands payload to the page through a transient script carrier.
func (p *Page) Inject(ctx context.Context, payload bootstrap.Payload) error {
	return bridge.New(p.doc, p.logger).Inject(ctx, payload)
}

// SetInitialized sets the non-enumerable initialized marker.
func (p *Page) SetInitialized(ctx context.Context) error {
	return p.Do(ctx, func(vm *goja.Runtime) error {
		return vm.GlobalObject().DefineDataProperty(schemas.InitializedMarker, vm.ToValue(true), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
	})
}

// ExecuteScript runs src under name and exports the result. Execution is
// interrupted when ctx ends or the page timeout elapses.
func (p *Page) ExecuteScript(ctx context.Context, name, src string) (interface{}, error) {
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until > 0 && until < timeout {
			timeout = until
		}
	}

	var result interface{}
	err := p.Do(context.Background(), func(vm *goja.Runtime) error {
		vm.ClearInterrupt()
		done := make(chan struct{})
		monitor := make(chan struct{})
		go func() {
			defer close(monitor)
			select {
			case <-time.After(timeout):
				p.logger.Warn("JavaScript execution timeout", zap.Duration("timeout", timeout))
				vm.Interrupt(fmt.Sprintf("execution timeout exceeded (%v)", timeout))
			case <-ctx.Done():
				vm.Interrupt(ctx.Err().Error())
			case <-done:
			}
		}()

		v, err := vm.RunScript(name, src)
		close(done)
		<-monitor
		vm.ClearInterrupt()

		if err != nil {
			var interrupted *goja.InterruptedError
			var exception *goja.Exception
			switch {
			case errors.As(err, &interrupted):
				if ctx.Err() != nil {
					return fmt.Errorf("javascript execution interrupted by context: %w", ctx.Err())
				}
				return fmt.Errorf("javascript execution interrupted: %w", err)
			case errors.As(err, &exception):
				return fmt.Errorf("javascript exception: %s", exception.String())
			}
			return fmt.Errorf("javascript error: %w", err)
		}

		if promise, ok := v.Export().(*goja.Promise); ok {
			switch promise.State() {
			case goja.PromiseStateFulfilled:
				result = promise.Result().Export()
				return nil
			case goja.PromiseStateRejected:
				return fmt.Errorf("javascript promise rejected: %v", promise.Result().Export())
			}
			result = promise
			return nil
		}
		result = v.Export()
		return nil
	})
	return result, err
}

// Close stops the event loop. Pending jobs are dropped.
func (p *Page) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.loop.Stop()
}

func (p *Page) runCarrier(s *bridge.Script) {
	if err := p.Post(func(vm *goja.Runtime) {
		if _, err := vm.RunScript(s.Name, s.Code); err != nil {
			p.logger.Error("Injected script failed", zap.String("carrier", s.ID), zap.Error(err))
		}
	}); err != nil {
		p.logger.Warn("Carrier dropped", zap.String("carrier", s.ID), zap.Error(err))
	}
}

// -- window event target --

func (p *Page) addEventListener(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	fnObj, ok := call.Argument(1).(*goja.Object)
	if !ok {
		return goja.Undefined()
	}
	fn, ok := goja.AssertFunction(fnObj)
	if !ok {
		return goja.Undefined()
	}
	key := listenerKey{name: name, fn: fnObj}
	if _, dup := p.listeners[key]; dup {
		return goja.Undefined()
	}

	once := false
	if opts, ok := call.Argument(2).(*goja.Object); ok {
		once = opts.Get("once") != nil && opts.Get("once").ToBoolean()
	}

	handler := func(detail interface{}) {
		_ = p.Post(func(vm *goja.Runtime) {
			if once {
				delete(p.listeners, key)
			}
			evt := vm.NewObject()
			_ = evt.Set("type", name)
			_ = evt.Set("detail", detail)
			if _, err := fn(vm.GlobalObject(), evt); err != nil {
				p.logger.Warn("Event listener threw", zap.String("event", name), zap.Error(err))
			}
		})
	}
	if once {
		p.listeners[key] = p.bus.Once(name, handler)
	} else {
		p.listeners[key] = p.bus.On(name, handler)
	}
	return goja.Undefined()
}

func (p *Page) removeEventListener(call goja.FunctionCall) goja.Value {
	fnObj, ok := call.Argument(1).(*goja.Object)
	if !ok {
		return goja.Undefined()
	}
	key := listenerKey{name: call.Argument(0).String(), fn: fnObj}
	if off, ok := p.listeners[key]; ok {
		off()
		delete(p.listeners, key)
	}
	return goja.Undefined()
}

func (p *Page) dispatchEvent(call goja.FunctionCall) goja.Value {
	evt, ok := call.Argument(0).(*goja.Object)
	if !ok {
		panic(p.vm.NewTypeError("dispatchEvent requires an event object"))
	}
	var detail interface{}
	if d := evt.Get("detail"); d != nil && !goja.IsUndefined(d) && !goja.IsNull(d) {
		detail = d.Export()
	}
	p.bus.Emit(evt.Get("type").String(), detail)
	return p.vm.ToValue(true)
}

func safeRun(fn func(vm *goja.Runtime) error, vm *goja.Runtime) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic on page loop: %v", r)
		}
	}()
	return fn(vm)
}

type consolePrinter struct {
	logger *zap.Logger
}

func (c *consolePrinter) Log(msg string)   { c.logger.Info(msg) }
func (c *consolePrinter) Warn(msg string)  { c.logger.Warn(msg) }
func (c *consolePrinter) Error(msg string) { c.logger.Error(msg) }
