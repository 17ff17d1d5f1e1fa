package stealth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/chameleon/registry"
)

// InitTimeout bounds one interceptor's CDP round trips.
const InitTimeout = 10 * time.Second

// DefaultModuleBase prefixes module source URLs when none is configured.
const DefaultModuleBase = "chameleon://modules/"

var errNilProfile = errors.New("nil profile")

const metaScript = `(function () {
  var g = window;
  if (!g.__chameleon_guarded) {
    return false;
  }
  Object.keys(g).forEach(function (k) {
    if (k.indexOf('__chameleon') !== 0) {
      return;
    }
    try {
      Object.defineProperty(g, k, { enumerable: false });
    } catch (e) {}
  });
  return true;
})()`

// Meta makes sure the guard is active in the tab and hides marker globals,
// including the CDP bindings.
type Meta struct {
	target *Target
	logger *zap.Logger
}

// Init runs once per page load.
func (m *Meta) Init() error {
	ctx, cancel := context.WithTimeout(context.Background(), InitTimeout)
	defer cancel()

	var guarded bool
	if err := m.target.Evaluate(ctx, metaScript, &guarded); err != nil {
		return err
	}
	if guarded {
		return nil
	}
	m.logger.Debug("Guard missing, installing it")
	if err := m.target.Defend(ctx); err != nil {
		return err
	}
	return m.target.Evaluate(ctx, metaScript, nil)
}

// Surface installs one fingerprint surface in the tab. Emulation overrides
// are reapplied on every Init; the page-side hooks are installed once per
// document and then read the newest profile.
type Surface struct {
	name    string
	source  string
	target  *Target
	emulate func(p *schemas.Profile) []chromedp.Action
}

// Name returns the surface name.
func (s *Surface) Name() string { return s.name }

// Init applies p to the surface.
func (s *Surface) Init(p *schemas.Profile) error {
	if p == nil {
		return errNilProfile
	}
	src, err := renderSurfaces(s.source, p, s.name)
	if err != nil {
		return err
	}
	var actions []chromedp.Action
	if s.emulate != nil {
		actions = s.emulate(p)
	}
	ctx, cancel := context.WithTimeout(context.Background(), InitTimeout)
	defer cancel()
	return s.target.install(ctx, "surface:"+s.name, src, actions...)
}

func emulateNavigator(p *schemas.Profile) []chromedp.Action {
	actions := []chromedp.Action{
		emulation.SetUserAgentOverride(p.UserAgent).
			WithPlatform(p.OS.Platform).
			WithAcceptLanguage(strings.Join(p.Navigator.Languages, ",")),
	}
	if n := p.Navigator.HardwareConcurrency; n > 0 {
		actions = append(actions, emulation.SetHardwareConcurrencyOverride(int64(n)))
	}
	return actions
}

func emulateScreen(p *schemas.Profile) []chromedp.Action {
	s := p.Screen
	if s.AvailWidth <= 0 || s.AvailHeight <= 0 {
		return nil
	}
	return []chromedp.Action{
		emulation.SetDeviceMetricsOverride(int64(s.AvailWidth), int64(s.AvailHeight), s.DevicePixelRatio, p.Navigator.MaxTouchPoints > 0).
			WithScreenWidth(int64(s.Width)).
			WithScreenHeight(int64(s.Height)),
	}
}

// emulateTimezone clears the previous overrides first; Chrome rejects a
// locale override while another one is in effect.
func emulateTimezone(p *schemas.Profile) []chromedp.Action {
	tz := p.Timezone
	actions := []chromedp.Action{
		emulation.SetTimezoneOverride(""),
		emulation.SetLocaleOverride(),
	}
	if tz.ID != "" {
		actions = append(actions, emulation.SetTimezoneOverride(tz.ID))
	}
	if tz.Locale != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(tz.Locale))
	}
	return actions
}

// Resolver resolves the interceptor modules for t. Module scripts are
// registered under base joined with the module locator.
func Resolver(t *Target, base string, logger *zap.Logger) registry.Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if base == "" {
		base = DefaultModuleBase
	}
	base = strings.TrimSuffix(base, "/") + "/"

	surface := func(name string, emulate func(*schemas.Profile) []chromedp.Action) func(string) interface{} {
		return func(locator string) interface{} {
			return &Surface{name: name, source: base + locator, target: t, emulate: emulate}
		}
	}
	factories := map[string]func(locator string) interface{}{
		"interceptors/metaInterceptor.js": func(string) interface{} {
			return &Meta{target: t, logger: logger.Named("meta")}
		},
		"interceptors/navigatorInterceptor.js": surface(SurfaceNavigator, emulateNavigator),
		"interceptors/screenInterceptor.js":    surface(SurfaceScreen, emulateScreen),
		"interceptors/canvasInterceptor.js":    surface(SurfaceCanvas, nil),
		"interceptors/webglInterceptor.js":     surface(SurfaceWebGL, nil),
		"interceptors/audioInterceptor.js":     surface(SurfaceAudio, nil),
		"interceptors/fontsInterceptor.js":     surface(SurfaceFonts, nil),
		"interceptors/pluginsInterceptor.js":   surface(SurfacePlugins, nil),
		"interceptors/timezoneInterceptor.js":  surface(SurfaceTimezone, emulateTimezone),
	}
	return registry.ResolverFunc(func(ctx context.Context, d registry.Descriptor) (interface{}, error) {
		build, ok := factories[d.Locator]
		if !ok {
			return nil, fmt.Errorf("%w: %s", registry.ErrModuleNotFound, d.Locator)
		}
		return build(d.Locator), nil
	})
}
