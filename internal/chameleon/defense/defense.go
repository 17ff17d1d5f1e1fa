// Package defense hides the injected code from page-side introspection.
//
// The guard decorates two entry points of the page environment:
// Object.getOwnPropertyNames drops marker-prefixed names, and Error becomes a
// proxy whose stack traces lose every frame from injected code. Everything
// else passes through untouched, and Uninstall restores the originals.
package defense

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/api/schemas"
)

// ErrNotInstalled is returned by Uninstall on a guard that is not active.
var ErrNotInstalled = errors.New("defense guard not installed")

//go:embed guard.js
var guardScript string

// Script returns the guard as page JavaScript, for targets that cannot be
// decorated from the host (a real browser tab).
func Script() string { return guardScript }

// Guard is a restorable decorator over a goja runtime. Install and Uninstall
// must be called on the runtime's goroutine.
type Guard struct {
	mu     sync.Mutex
	logger *zap.Logger

	vm                *goja.Runtime
	origPropertyNames goja.Value
	origErrorCtor     goja.Value
}

// New returns an inactive guard.
func New(logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{logger: logger.Named("defense")}
}

// Installed reports whether the guard is active.
func (g *Guard) Installed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.vm != nil
}

// Install decorates vm. Installing an active guard again is a no-op.
func (g *Guard) Install(vm *goja.Runtime) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.vm != nil {
		return nil
	}

	objectCtor := vm.Get("Object")
	if objectCtor == nil {
		return errors.New("defense: page has no Object constructor")
	}
	object := objectCtor.ToObject(vm)
	origNames := object.Get("getOwnPropertyNames")
	namesFn, ok := goja.AssertFunction(origNames)
	if !ok {
		return errors.New("defense: Object.getOwnPropertyNames is not callable")
	}

	origError := vm.Get("Error")
	if origError == nil {
		return errors.New("defense: page has no Error constructor")
	}
	errorCtor := origError.ToObject(vm)
	construct, ok := goja.AssertConstructor(errorCtor)
	if !ok {
		return errors.New("defense: Error is not a constructor")
	}

	filtered := func(call goja.FunctionCall) goja.Value {
		res, err := namesFn(call.This, call.Arguments...)
		if err != nil {
			panic(err)
		}
		var names []interface{}
		if err := vm.ExportTo(res, &names); err != nil {
			return res
		}
		kept := make([]interface{}, 0, len(names))
		for _, n := range names {
			if s, ok := n.(string); ok && strings.HasPrefix(s, schemas.MarkerPrefix) {
				continue
			}
			kept = append(kept, n)
		}
		return vm.NewArray(kept...)
	}
	if err := object.Set("getOwnPropertyNames", filtered); err != nil {
		return fmt.Errorf("defense: replace getOwnPropertyNames: %w", err)
	}

	// goja proxies carry no [[HasInstance]], so instanceof is answered here
	// for the proxy and for every class extending it.
	hasInstance := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(ordinaryHasInstance(call.This, call.Argument(0)))
	})

	proxy := vm.NewProxy(errorCtor, &goja.ProxyTrapConfig{
		GetSym: func(target *goja.Object, property *goja.Symbol, receiver goja.Value) goja.Value {
			if property == goja.SymHasInstance {
				return hasInstance
			}
			if v := target.GetSymbol(property); v != nil {
				return v
			}
			return goja.Undefined()
		},
		Construct: func(target *goja.Object, args []goja.Value, newTarget *goja.Object) *goja.Object {
			obj, err := construct(newTarget, args...)
			if err != nil {
				panic(err)
			}
			scrubStack(vm, obj)
			return obj
		},
		Apply: func(target *goja.Object, this goja.Value, args []goja.Value) goja.Value {
			obj, err := construct(target, args...)
			if err != nil {
				panic(err)
			}
			scrubStack(vm, obj)
			return obj
		},
	})
	if err := vm.Set("Error", proxy); err != nil {
		_ = object.Set("getOwnPropertyNames", origNames)
		return fmt.Errorf("defense: replace Error: %w", err)
	}

	g.vm = vm
	g.origPropertyNames = origNames
	g.origErrorCtor = origError
	g.logger.Debug("Guard installed")
	return nil
}

// Uninstall restores the original entry points.
func (g *Guard) Uninstall() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.vm == nil {
		return ErrNotInstalled
	}
	object := g.vm.Get("Object").ToObject(g.vm)
	if err := object.Set("getOwnPropertyNames", g.origPropertyNames); err != nil {
		return fmt.Errorf("defense: restore getOwnPropertyNames: %w", err)
	}
	if err := g.vm.Set("Error", g.origErrorCtor); err != nil {
		return fmt.Errorf("defense: restore Error: %w", err)
	}
	g.vm, g.origPropertyNames, g.origErrorCtor = nil, nil, nil
	g.logger.Debug("Guard uninstalled")
	return nil
}

// ordinaryHasInstance walks v's prototype chain looking for ctor.prototype.
func ordinaryHasInstance(ctor, v goja.Value) bool {
	c, ok := ctor.(*goja.Object)
	if !ok {
		return false
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return false
	}
	proto, ok := c.Get("prototype").(*goja.Object)
	if !ok {
		return false
	}
	for p := obj.Prototype(); p != nil; p = p.Prototype() {
		if p.SameAs(proto) {
			return true
		}
	}
	return false
}

func scrubStack(vm *goja.Runtime, obj *goja.Object) {
	stack := obj.Get("stack")
	if stack == nil || goja.IsUndefined(stack) {
		return
	}
	_ = obj.DefineDataProperty("stack", vm.ToValue(FilterStack(stack.String())), goja.FLAG_TRUE, goja.FLAG_FALSE, goja.FLAG_TRUE)
}

// FilterStack removes every frame mentioning injected code. The first line
// (the error message) is always kept.
func FilterStack(stack string) string {
	lines := strings.Split(stack, "\n")
	out := lines[:1]
	for _, l := range lines[1:] {
		if strings.Contains(l, schemas.CodeMarker) {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// HideMarkers redefines every marker-prefixed global as non-enumerable and
// returns how many it touched.
func HideMarkers(vm *goja.Runtime) int {
	global := vm.GlobalObject()
	hidden := 0
	for _, key := range global.Keys() {
		if !strings.HasPrefix(key, schemas.MarkerPrefix) {
			continue
		}
		v := global.Get(key)
		if err := global.DefineDataProperty(key, v, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err == nil {
			hidden++
		}
	}
	return hidden
}
