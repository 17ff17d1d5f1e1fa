// Package orchestrator sequences interceptor initialization.
package orchestrator

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/chameleon/registry"
	"github.com/ElLumy/chameleon/internal/observability"
)

// ErrNilProfile is returned when a pass is requested without a profile.
var ErrNilProfile = errors.New("orchestrator: nil profile")

// Interceptor is a surface interceptor.
type Interceptor interface {
	Init(profile *schemas.Profile) error
}

// MetaInterceptor hardens the page before any surface is touched.
type MetaInterceptor interface {
	Init() error
}

// Order is the fixed initialization order of the surface interceptors.
var Order = []string{
	registry.NavigatorInterceptor,
	registry.ScreenInterceptor,
	registry.CanvasInterceptor,
	registry.WebGLInterceptor,
	registry.AudioInterceptor,
	registry.FontsInterceptor,
	registry.PluginsInterceptor,
	registry.TimezoneInterceptor,
}

// LoadState tells whether an interceptor module could be used.
type LoadState int

const (
	Unresolved LoadState = iota
	Available
	Unavailable
)

func (s LoadState) String() string {
	switch s {
	case Available:
		return "available"
	case Unavailable:
		return "unavailable"
	}
	return "unresolved"
}

// Descriptor is an interceptor slot in the orchestration list.
type Descriptor struct {
	Name   string
	Module Interceptor
	State  LoadState
}

// Outcome of one interceptor in a pass.
type Outcome string

const (
	OutcomeInitialized Outcome = "initialized"
	OutcomeFailed      Outcome = "failed"
	OutcomeUnavailable Outcome = "unavailable"
)

// Result is the outcome of one interceptor in a pass.
type Result struct {
	Name    string
	Outcome Outcome
	Err     error
}

// Report summarises one InitializeAll pass.
type Report struct {
	Generation int
	Results    []Result
}

// Count returns the number of results with outcome o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Orchestrator runs interceptors in the fixed order.
type Orchestrator struct {
	logger *zap.Logger

	meta     MetaInterceptor
	metaOnce sync.Once
	metaErr  error

	slots []Descriptor

	// passMu keeps passes from interleaving and guards warned.
	passMu sync.Mutex
	warned bool
}

// New builds the orchestration list from a resolved module set. Every slot
// starts Unresolved and is classified here: modules that are missing or do
// not satisfy the expected interface become Unavailable.
func New(set *registry.Set, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{logger: logger.Named("orchestrator")}

	if m, ok := set.Lookup(registry.MetaInterceptor); ok {
		if meta, ok := m.(MetaInterceptor); ok {
			o.meta = meta
		} else {
			o.logger.Warn("MetaInterceptor module has no usable Init", zap.String("type", fmt.Sprintf("%T", m)))
		}
	}

	for _, name := range Order {
		o.slots = append(o.slots, classify(set, Descriptor{Name: name, State: Unresolved}))
	}
	return o
}

func classify(set *registry.Set, d Descriptor) Descriptor {
	m, ok := set.Lookup(d.Name)
	if !ok {
		d.State = Unavailable
		return d
	}
	ic, ok := m.(Interceptor)
	if !ok {
		d.State = Unavailable
		return d
	}
	d.Module = ic
	d.State = Available
	return d
}

// Descriptors returns a copy of the orchestration list.
func (o *Orchestrator) Descriptors() []Descriptor {
	return append([]Descriptor(nil), o.slots...)
}

// InitializeMeta runs the meta interceptor. Only the first call does work.
func (o *Orchestrator) InitializeMeta() error {
	o.metaOnce.Do(func() {
		if o.meta == nil {
			o.logger.Warn("MetaInterceptor not available")
			return
		}
		o.metaErr = o.safeCall(registry.MetaInterceptor, func() error { return o.meta.Init() })
		if o.metaErr != nil {
			o.logger.Error("Error initializing MetaInterceptor", zap.Error(o.metaErr))
			return
		}
		o.logger.Debug("MetaInterceptor initialized")
	})
	return o.metaErr
}

// InitializeAll runs every surface interceptor with profile, in order. A
// failing or unavailable interceptor never stops the pass. Unavailable slots
// are reported on the first pass only.
func (o *Orchestrator) InitializeAll(profile *schemas.Profile) (Report, error) {
	if profile == nil {
		return Report{}, ErrNilProfile
	}

	o.passMu.Lock()
	defer o.passMu.Unlock()

	report := Report{Generation: profile.Generation, Results: make([]Result, 0, len(o.slots))}
	for _, d := range o.slots {
		res := Result{Name: d.Name}
		switch {
		case d.State != Available || d.Module == nil:
			res.Outcome = OutcomeUnavailable
			if !o.warned {
				o.logger.Warn(d.Name + " not available")
			}
		default:
			module := d.Module
			if err := o.safeCall(d.Name, func() error { return module.Init(profile) }); err != nil {
				res.Outcome = OutcomeFailed
				res.Err = err
				o.logger.Error("Error initializing "+d.Name, zap.Error(err))
			} else {
				res.Outcome = OutcomeInitialized
			}
		}
		observability.InterceptorInits.WithLabelValues(d.Name, string(res.Outcome)).Inc()
		report.Results = append(report.Results, res)
	}
	o.warned = true

	o.logger.Info("Interceptor pass complete",
		zap.Int("generation", report.Generation),
		zap.Int("initialized", report.Count(OutcomeInitialized)),
		zap.Int("failed", report.Count(OutcomeFailed)),
		zap.Int("unavailable", report.Count(OutcomeUnavailable)),
	)
	return report, nil
}

// safeCall converts a panic inside fn into an error.
func (o *Orchestrator) safeCall(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	return fn()
}
