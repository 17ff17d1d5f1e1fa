// Package lifecycle owns the current profile: creating it, regenerating it
// and publishing it to page listeners.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/observability"
)

var (
	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("profile lifecycle already initialized")
	// ErrNotInitialized is returned when a profile is needed before Init.
	ErrNotInitialized = errors.New("profile lifecycle not initialized")
	// ErrStaleProfile is returned when a regeneration does not yield a new identity.
	ErrStaleProfile = errors.New("generator returned a stale profile")
	// ErrInvalidProfile is returned for generator output missing required fields.
	ErrInvalidProfile = errors.New("generator returned an invalid profile")
)

// Generator produces profiles. It is the seam to the spoofing engine.
type Generator interface {
	Init(ctx context.Context) (*schemas.Profile, error)
	RegenerateProfile(ctx context.Context) (*schemas.Profile, error)
}

// Emitter broadcasts page events.
type Emitter interface {
	Emit(name string, detail interface{}) int
}

// Controller publishes the current profile. The zero value is not usable;
// use New.
type Controller struct {
	gen     Generator
	emitter Emitter
	logger  *zap.Logger

	initMu  sync.Mutex
	inited  bool
	current atomic.Pointer[schemas.Profile]
}

// New creates a controller.
func New(gen Generator, emitter Emitter, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{gen: gen, emitter: emitter, logger: logger.Named("lifecycle")}
}

// Init asks the generator for the first profile. It succeeds at most once.
func (c *Controller) Init(ctx context.Context) (*schemas.Profile, error) {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.inited {
		return nil, ErrAlreadyInitialized
	}

	p, err := c.gen.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("generator init: %w", err)
	}
	if err := check(p); err != nil {
		return nil, err
	}

	c.current.Store(p)
	c.inited = true
	observability.ProfilesGenerated.WithLabelValues("boot").Inc()
	c.logger.Info("Profile initialized",
		zap.String("archetype", p.Archetype),
		zap.String("session", p.SessionID()),
	)
	return p, nil
}

// Regenerate replaces the current profile with a freshly generated one and
// announces it. The new profile must carry a different seed.
func (c *Controller) Regenerate(ctx context.Context) (*schemas.Profile, error) {
	prev := c.current.Load()
	if prev == nil {
		return nil, ErrNotInitialized
	}

	p, err := c.gen.RegenerateProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("generator regenerate: %w", err)
	}
	if err := check(p); err != nil {
		return nil, err
	}
	if p == prev || p.Seed == prev.Seed {
		return nil, fmt.Errorf("%w: seed %s reused", ErrStaleProfile, p.SessionID())
	}

	c.current.Store(p)
	observability.ProfilesGenerated.WithLabelValues("regenerate").Inc()
	c.logger.Info("Profile regenerated",
		zap.String("archetype", p.Archetype),
		zap.String("session", p.SessionID()),
		zap.String("previous_session", prev.SessionID()),
	)
	c.emit(schemas.EventProfileRegenerated, p)
	return p, nil
}

// AnnounceReady broadcasts the ready event carrying p.
func (c *Controller) AnnounceReady(p *schemas.Profile) {
	c.emit(schemas.EventReady, schemas.ReadyDetail{Profile: p})
}

// ServeProfile publishes the current profile on the profile-data event.
func (c *Controller) ServeProfile() error {
	p := c.current.Load()
	if p == nil {
		return ErrNotInitialized
	}
	c.emit(schemas.EventProfileData, p)
	return nil
}

// Current returns the published profile, or nil before Init.
func (c *Controller) Current() *schemas.Profile {
	return c.current.Load()
}

func (c *Controller) emit(name string, detail interface{}) {
	if c.emitter == nil {
		return
	}
	n := c.emitter.Emit(name, detail)
	c.logger.Debug("Event emitted", zap.String("event", name), zap.Int("listeners", n))
}

func check(p *schemas.Profile) error {
	if p == nil {
		return fmt.Errorf("%w: nil profile", ErrInvalidProfile)
	}
	if p.Archetype == "" {
		return fmt.Errorf("%w: empty archetype", ErrInvalidProfile)
	}
	return nil
}
