// Package interceptors holds the built-in modules for the in-process page:
// the meta interceptor, the eight surface interceptors and the utilities
// they share.
//
// Surface interceptors install their hooks on the first Init and only swap
// the profile they read from on later calls, so a regeneration pass never
// stacks wrappers.
package interceptors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/chameleon/defense"
)

// InitTimeout bounds how long one interceptor may wait for the page loop.
const InitTimeout = 5 * time.Second

var errNilProfile = errors.New("nil profile")

// Page is the page environment the interceptors install into.
type Page interface {
	Do(ctx context.Context, fn func(vm *goja.Runtime) error) error
	Guard() *defense.Guard
}

type surface struct {
	name    string
	page    Page
	profile atomic.Pointer[schemas.Profile]

	mu        sync.Mutex
	installed bool
}

// apply publishes p to the hooks, installing them on first use.
func (s *surface) apply(p *schemas.Profile, install func(vm *goja.Runtime) error) error {
	if p == nil {
		return errNilProfile
	}
	s.profile.Store(p)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.installed {
		return nil
	}
	if err := run(s.page, install); err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	s.installed = true
	return nil
}

func (s *surface) current() *schemas.Profile {
	return s.profile.Load()
}

func run(page Page, fn func(vm *goja.Runtime) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), InitTimeout)
	defer cancel()
	return page.Do(ctx, fn)
}

// getter defines name on obj as a configurable accessor returning value().
func getter(vm *goja.Runtime, obj *goja.Object, name string, value func() interface{}) error {
	fn := vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(value()) })
	return obj.DefineAccessorProperty(name, fn, nil, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

// object returns the global named name as an object.
func object(vm *goja.Runtime, name string) (*goja.Object, error) {
	v := vm.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, errMissing(name)
	}
	return v.ToObject(vm), nil
}

// prototype returns ctor.prototype for the global constructor ctor.
func prototype(vm *goja.Runtime, ctor string) (*goja.Object, error) {
	c, err := object(vm, ctor)
	if err != nil {
		return nil, err
	}
	proto := c.Get("prototype")
	if proto == nil || goja.IsUndefined(proto) {
		return nil, fmt.Errorf("%s has no prototype", ctor)
	}
	return proto.ToObject(vm), nil
}

// wrap replaces proto[method] with hook, which receives the original.
func wrap(vm *goja.Runtime, proto *goja.Object, method string, hook func(orig goja.Callable, call goja.FunctionCall) goja.Value) error {
	orig, ok := goja.AssertFunction(proto.Get(method))
	if !ok {
		return fmt.Errorf("%s is not a function", method)
	}
	return proto.Set(method, func(call goja.FunctionCall) goja.Value {
		return hook(orig, call)
	})
}

func errMissing(what string) error {
	return fmt.Errorf("page has no %s", what)
}
