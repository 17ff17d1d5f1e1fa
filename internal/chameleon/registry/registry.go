// Package registry declares the module set and resolves it into loaded handles.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrModuleNotFound is returned by resolvers that do not know a locator.
var ErrModuleNotFound = errors.New("module not found")

// ModuleError reports which module failed to resolve.
type ModuleError struct {
	Name    string
	Locator string
	Err     error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module %s (%s) failed to resolve: %v", e.Name, e.Locator, e.Err)
}

func (e *ModuleError) Unwrap() error { return e.Err }

// Descriptor names a module and where to load it from.
type Descriptor struct {
	Name    string `json:"name"`
	Locator string `json:"locator"`
	// Required modules abort the boot when they fail to resolve.
	Required bool `json:"required"`
}

// Resolver turns a descriptor into a loaded module handle.
type Resolver interface {
	Resolve(ctx context.Context, d Descriptor) (interface{}, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, d Descriptor) (interface{}, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, d Descriptor) (interface{}, error) {
	return f(ctx, d)
}

// Chain tries each resolver in turn, moving on only when a resolver reports
// ErrModuleNotFound.
func Chain(resolvers ...Resolver) Resolver {
	return ResolverFunc(func(ctx context.Context, d Descriptor) (interface{}, error) {
		for _, r := range resolvers {
			m, err := r.Resolve(ctx, d)
			if errors.Is(err, ErrModuleNotFound) {
				continue
			}
			return m, err
		}
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, d.Locator)
	})
}

// Set is the result of a resolution: every resolved module under its stable
// name, plus the optional modules that failed.
type Set struct {
	modules map[string]interface{}
	missing map[string]error
}

// NewSet builds a Set from already-loaded modules. Mostly useful in tests.
func NewSet(modules map[string]interface{}) *Set {
	s := &Set{modules: make(map[string]interface{}, len(modules)), missing: make(map[string]error)}
	for k, v := range modules {
		s.modules[k] = v
	}
	return s
}

// Lookup returns the module registered under name.
func (s *Set) Lookup(name string) (interface{}, bool) {
	if s == nil {
		return nil, false
	}
	m, ok := s.modules[name]
	return m, ok
}

// Missing returns the resolution error of an optional module, if any.
func (s *Set) Missing(name string) error {
	if s == nil {
		return nil
	}
	return s.missing[name]
}

// Names returns the resolved module names, sorted.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.modules))
	for n := range s.modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Registry resolves descriptor sets.
type Registry struct {
	resolver    Resolver
	concurrency int
	logger      *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithConcurrency bounds how many modules resolve at once. Zero means unbounded.
func WithConcurrency(n int) Option {
	return func(r *Registry) { r.concurrency = n }
}

// New creates a registry backed by resolver.
func New(resolver Resolver, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{resolver: resolver, logger: logger.Named("registry")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveAll resolves every descriptor in parallel. Completion is
// all-or-nothing for required modules: the first required failure cancels
// the rest and is returned as a *ModuleError. Optional failures are logged
// and recorded in the Set.
func (r *Registry) ResolveAll(ctx context.Context, descs []Descriptor) (*Set, error) {
	if err := validate(descs); err != nil {
		return nil, err
	}

	set := &Set{
		modules: make(map[string]interface{}, len(descs)),
		missing: make(map[string]error),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}

	for _, d := range descs {
		d := d
		g.Go(func() error {
			m, err := r.resolver.Resolve(gctx, d)
			if err == nil && m == nil {
				err = fmt.Errorf("%w: resolver returned no module", ErrModuleNotFound)
			}
			if err != nil {
				merr := &ModuleError{Name: d.Name, Locator: d.Locator, Err: err}
				if d.Required {
					r.logger.Error("Required module failed to load", zap.String("module", d.Name), zap.Error(err))
					return merr
				}
				r.logger.Warn("Optional module failed to load", zap.String("module", d.Name), zap.Error(err))
				mu.Lock()
				set.missing[d.Name] = merr
				mu.Unlock()
				return nil
			}

			mu.Lock()
			set.modules[d.Name] = m
			mu.Unlock()
			r.logger.Debug("Module resolved", zap.String("module", d.Name), zap.String("locator", d.Locator))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}

func validate(descs []Descriptor) error {
	if len(descs) == 0 {
		return errors.New("registry: empty module set")
	}
	seen := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		if d.Name == "" || d.Locator == "" {
			return fmt.Errorf("registry: descriptor %+v needs a name and a locator", d)
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("registry: duplicate module name %q", d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return nil
}
