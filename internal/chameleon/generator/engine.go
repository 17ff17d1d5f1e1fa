package generator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/corpix/uarand"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/config"
)

// ErrNotInitialized is returned by RegenerateProfile before Init.
var ErrNotInitialized = errors.New("spoofing engine not initialized")

// SpoofingEngine builds profiles from the archetype catalog. Each profile is
// derived deterministically from its seed.
type SpoofingEngine struct {
	seeds      *SeedManager
	archetypes []Archetype
	logger     *zap.Logger
	now        func() time.Time
	randomUA   func() string

	mu         sync.Mutex
	generation int
}

// NewSpoofingEngine creates an engine restricted to cfg.Archetypes, or the
// whole catalog when the list is empty.
func NewSpoofingEngine(cfg config.GeneratorConfig, seeds *SeedManager, logger *zap.Logger) (*SpoofingEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if seeds == nil {
		seeds = NewSeedManager()
	}

	archetypes := Catalog
	if len(cfg.Archetypes) > 0 {
		archetypes = make([]Archetype, 0, len(cfg.Archetypes))
		for _, name := range cfg.Archetypes {
			a, ok := Lookup(name)
			if !ok {
				return nil, fmt.Errorf("generator: unknown archetype %q", name)
			}
			archetypes = append(archetypes, a)
		}
	}

	return &SpoofingEngine{
		seeds:      seeds,
		archetypes: archetypes,
		logger:     logger.Named("generator"),
		now:        time.Now,
		randomUA:   uarand.GetRandom,
	}, nil
}

// Init generates the first profile. Calling it again restarts the generation count.
func (e *SpoofingEngine) Init(ctx context.Context) (*schemas.Profile, error) {
	e.mu.Lock()
	e.generation = 0
	e.mu.Unlock()
	return e.next(ctx)
}

// RegenerateProfile generates a profile with a fresh seed.
func (e *SpoofingEngine) RegenerateProfile(ctx context.Context) (*schemas.Profile, error) {
	e.mu.Lock()
	started := e.generation > 0
	e.mu.Unlock()
	if !started {
		return nil, ErrNotInitialized
	}
	return e.next(ctx)
}

func (e *SpoofingEngine) next(ctx context.Context) (*schemas.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seed := e.seeds.Next()
	p, err := e.Build(seed)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.generation++
	p.Generation = e.generation
	e.mu.Unlock()

	e.logger.Debug("Profile generated",
		zap.String("archetype", p.Archetype),
		zap.Int("generation", p.Generation),
		zap.String("session", p.SessionID()),
	)
	return p, nil
}

// Build derives a complete profile from seed. The ID, creation time and
// generation are not determined by the seed, nor is the user agent of the
// wildcard archetype.
func (e *SpoofingEngine) Build(seed string) (*schemas.Profile, error) {
	r, err := Rand(seed)
	if err != nil {
		return nil, err
	}
	a := e.archetypes[r.Intn(len(e.archetypes))]

	ua := pick(r, a.UserAgents)
	if a.RandomUA || ua == "" {
		ua = e.randomUA()
	}

	screen := a.Screens[r.Intn(len(a.Screens))]
	tz := timezones[r.Intn(len(timezones))]
	g := a.GPUs[r.Intn(len(a.GPUs))]
	langs := append([]string(nil), languagePools[r.Intn(len(languagePools))]...)

	p := &schemas.Profile{
		ID:        ulid.Make().String(),
		Archetype: a.Name,
		Seed:      seed,
		CreatedAt: e.now().UTC(),
		OS:        a.OS,
		UserAgent: ua,
		Navigator: schemas.NavigatorParams{
			Languages:           langs,
			HardwareConcurrency: pickInt(r, a.Cores),
			DeviceMemory:        pickInt(r, a.Memory),
			MaxTouchPoints:      a.Touch,
			Vendor:              a.Vendor,
		},
		Screen: schemas.ScreenParams{
			Width:            screen[0],
			Height:           screen[1],
			AvailWidth:       screen[0],
			AvailHeight:      screen[1] - taskbar(a.OS.Platform),
			ColorDepth:       24,
			PixelDepth:       24,
			DevicePixelRatio: a.Ratios[r.Intn(len(a.Ratios))],
		},
		Canvas: schemas.CanvasParams{
			NoiseSeed: r.Int63(),
			Intensity: r.Float64()*0.001 + 0.0001,
		},
		WebGL: schemas.WebGLParams{
			Vendor:         "WebKit",
			Renderer:       g.Renderer,
			UnmaskedVendor: g.Vendor,
			MaxTextureSize: 16384,
		},
		Audio: schemas.AudioParams{
			NoiseSeed:  r.Int63(),
			SampleRate: a.SampleRate,
			Jitter:     r.Float64() * 1e-7,
		},
		Fonts:    schemas.FontsParams{Available: subset(r, a.Fonts)},
		Plugins:  schemas.PluginsParams{Plugins: append([]schemas.PluginDescriptor(nil), a.Plugins...)},
		Timezone: schemas.TimezoneParams{ID: tz.ID, Offset: tz.Offset, Locale: tz.Locale},
	}
	return p, nil
}

func taskbar(platform string) int {
	switch platform {
	case "Win32":
		return 40
	case "MacIntel":
		return 25
	}
	return 0
}

func pick(r *rand.Rand, pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[r.Intn(len(pool))]
}

func pickInt(r *rand.Rand, pool []int) int {
	if len(pool) == 0 {
		return 0
	}
	return pool[r.Intn(len(pool))]
}

// subset keeps each font with high probability, preserving catalog order.
// The first font is always kept.
func subset(r *rand.Rand, fonts []string) []string {
	out := make([]string, 0, len(fonts))
	for i, f := range fonts {
		if i == 0 || r.Float64() < 0.85 {
			out = append(out, f)
		}
	}
	return out
}
