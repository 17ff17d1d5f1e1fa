package stealth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/browser/pageenv"
	"github.com/ElLumy/chameleon/internal/chameleon/registry"
)

func newPage(t *testing.T) *pageenv.Page {
	t.Helper()
	p, err := pageenv.New(zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func eval(t *testing.T, p *pageenv.Page, src string) interface{} {
	t.Helper()
	res, err := p.ExecuteScript(context.Background(), "probe.js", src)
	require.NoError(t, err)
	return res
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return -1
}

func testProfile(seed string, tz schemas.TimezoneParams) *schemas.Profile {
	return &schemas.Profile{
		Archetype: "windows-chrome",
		Seed:      seed,
		OS:        schemas.OSDescriptor{Name: "Windows", Platform: "Win32"},
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/124.0.0.0 " + seed,
		Navigator: schemas.NavigatorParams{
			Languages:           []string{"de-DE", "de"},
			HardwareConcurrency: 12,
			Vendor:              "Google Inc.",
		},
		Screen: schemas.ScreenParams{
			Width: 2560, Height: 1440, AvailWidth: 2560, AvailHeight: 1400,
			ColorDepth: 24, PixelDepth: 24, DevicePixelRatio: 1.5,
		},
		Canvas:   schemas.CanvasParams{NoiseSeed: 99, Intensity: 0.01},
		WebGL:    schemas.WebGLParams{Vendor: "WebKit", Renderer: "ANGLE (AMD Radeon RX 6600)", UnmaskedVendor: "Google Inc. (AMD)"},
		Audio:    schemas.AudioParams{NoiseSeed: 3, SampleRate: 48000, Jitter: 0.001},
		Fonts:    schemas.FontsParams{Available: []string{"Arial", "Segoe UI"}},
		Plugins:  schemas.PluginsParams{Plugins: []schemas.PluginDescriptor{{Name: "PDF Viewer", Filename: "internal-pdf-viewer"}}},
		Timezone: tz,
	}
}

var allSurfaces = []string{
	SurfaceNavigator, SurfaceScreen, SurfaceCanvas, SurfaceWebGL,
	SurfaceAudio, SurfaceFonts, SurfacePlugins, SurfaceTimezone,
}

func install(t *testing.T, p *pageenv.Page, prof *schemas.Profile, names ...string) {
	t.Helper()
	src, err := SurfaceScript(prof, names...)
	require.NoError(t, err)
	assert.Contains(t, src, "//# sourceURL="+surfacesSource)
	_, err = p.ExecuteScript(context.Background(), surfacesSource, src)
	require.NoError(t, err)
}

func TestSurfaceScript_NilProfile(t *testing.T) {
	_, err := SurfaceScript(nil, SurfaceNavigator)
	assert.Error(t, err)
}

func TestSurfaceScript_InstallsEverySurface(t *testing.T) {
	p := newPage(t)
	install(t, p, testProfile("aaaa", schemas.TimezoneParams{ID: "Europe/Berlin", Offset: -60}), allSurfaces...)

	assert.Equal(t, "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/124.0.0.0 aaaa", eval(t, p, `navigator.userAgent`))
	assert.Equal(t, "Win32", eval(t, p, `navigator.platform`))
	assert.Equal(t, "de-DE", eval(t, p, `navigator.language`))
	assert.Equal(t, 12.0, toFloat(eval(t, p, `navigator.hardwareConcurrency`)))
	assert.Equal(t, 2560.0, toFloat(eval(t, p, `screen.width`)))
	assert.Equal(t, 1400.0, toFloat(eval(t, p, `screen.availHeight`)))
	assert.Equal(t, 1.5, toFloat(eval(t, p, `devicePixelRatio`)))
	assert.Equal(t, "ANGLE (AMD Radeon RX 6600)", eval(t, p, `new WebGLRenderingContext().getParameter(0x9246)`))
	assert.Equal(t, "Google Inc. (AMD)", eval(t, p, `new WebGLRenderingContext().getParameter(0x9245)`))
	assert.Equal(t, 48000.0, toFloat(eval(t, p, `new AudioBuffer({length: 4}).sampleRate`)))
	assert.Equal(t, true, eval(t, p, `document.fonts.check('12px "Segoe UI"')`))
	assert.Equal(t, false, eval(t, p, `document.fonts.check('12px Comic Sans')`))
	assert.Equal(t, "PDF Viewer", eval(t, p, `navigator.plugins.item(0).name`))
	assert.Equal(t, -60.0, toFloat(eval(t, p, `new Date().getTimezoneOffset()`)))

	// The host object stays out of enumeration.
	assert.Equal(t, false, eval(t, p, `Object.keys(globalThis).indexOf("__chameleon_surfaces") >= 0`))
}

func TestSurfaceScript_RerunSwapsProfileWithoutStacking(t *testing.T) {
	p := newPage(t)
	first := testProfile("aaaa", schemas.TimezoneParams{Offset: -60})
	install(t, p, first, allSurfaces...)

	probe := `(function () {
		var img = new CanvasRenderingContext2D().getImageData(0, 0, 4, 4), out = [];
		for (var i = 0; i < img.data.length; i++) {
			out.push(img.data[i] - ((i * 37) % 256));
		}
		return out.join(",");
	})()`
	before := eval(t, p, probe).(string)

	second := testProfile("bbbb", schemas.TimezoneParams{Offset: 300})
	install(t, p, second, allSurfaces...)
	assert.Contains(t, eval(t, p, `navigator.userAgent`), "bbbb")
	assert.Equal(t, 300.0, toFloat(eval(t, p, `new Date().getTimezoneOffset()`)))

	// Same canvas seed: one layer of noise, identical readback.
	after := eval(t, p, probe).(string)
	assert.Equal(t, before, after)
	for i, d := range strings.Split(after, ",") {
		if i%4 == 3 {
			assert.Equal(t, "0", d, "alpha at %d must not move", i)
			continue
		}
		assert.Contains(t, []string{"1", "-1"}, d, "channel %d", i)
	}
}

func TestDispatchScript_ReachesWindowListeners(t *testing.T) {
	p := newPage(t)

	got := make(chan interface{}, 1)
	p.Events().On(schemas.EventProfileData, func(d interface{}) { got <- d })

	src, err := dispatchScript(schemas.EventProfileData, &schemas.Profile{Archetype: "mac-safari"})
	require.NoError(t, err)
	eval(t, p, src)

	select {
	case d := <-got:
		m, ok := d.(map[string]interface{})
		require.True(t, ok, "detail is %T", d)
		assert.Equal(t, "mac-safari", m["archetype"])
	case <-time.After(time.Second):
		t.Fatal("event not dispatched")
	}
}

func TestRelayScript_ForwardsPageEvents(t *testing.T) {
	p := newPage(t)

	var mu sync.Mutex
	var msgs []relayMessage
	require.NoError(t, p.Bind(context.Background(), EventBinding, func(arg string) {
		var m relayMessage
		if json.Unmarshal([]byte(arg), &m) == nil {
			mu.Lock()
			msgs = append(msgs, m)
			mu.Unlock()
		}
	}))

	relay := relayScript(EventBinding, pageEvents...)
	eval(t, p, relay)
	// Installing twice keeps a single listener per event.
	eval(t, p, relay)

	eval(t, p, `window.dispatchEvent(new CustomEvent("chameleon-regenerate"))`)
	eval(t, p, `window.dispatchEvent(new CustomEvent("chameleon-get-profile"))`)
	eval(t, p, `window.dispatchEvent(new CustomEvent("chameleon-ready"))`)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(msgs) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, schemas.EventRegenerate, msgs[0].Name)
	assert.Equal(t, schemas.EventGetProfile, msgs[1].Name)
}

func TestTargetRelay_EmitsKnownEventsOnly(t *testing.T) {
	target := NewTarget(context.Background(), zaptest.NewLogger(t))

	var got []string
	for _, name := range []string{schemas.EventRegenerate, schemas.EventReady} {
		target.Events().On(name, func(interface{}) { got = append(got, name) })
	}

	target.relay(`{"name":"chameleon-regenerate","detail":null}`)
	target.relay(`{"name":"chameleon-ready"}`)
	target.relay(`not json`)

	assert.Equal(t, []string{schemas.EventRegenerate}, got)
}

func TestTarget_RequiresAttach(t *testing.T) {
	target := NewTarget(context.Background(), nil)
	err := target.Bind(context.Background(), schemas.BootstrapBinding, func(string) {})
	assert.True(t, errors.Is(err, ErrNotAttached))
	assert.ErrorIs(t, target.SetInitialized(context.Background()), ErrNotAttached)
}

func TestResolver(t *testing.T) {
	target := NewTarget(context.Background(), nil)
	r := Resolver(target, "", nil)
	ctx := context.Background()

	for _, d := range registry.DefaultDescriptors() {
		if !strings.HasPrefix(d.Locator, "interceptors/") {
			continue
		}
		m, err := r.Resolve(ctx, d)
		require.NoError(t, err, d.Name)
		if d.Name == registry.MetaInterceptor {
			assert.IsType(t, &Meta{}, m)
			continue
		}
		s, ok := m.(*Surface)
		require.True(t, ok, d.Name)
		assert.Equal(t, DefaultModuleBase+d.Locator, s.source)
		assert.True(t, strings.HasPrefix(d.Name, strings.ToUpper(s.Name()[:1])), d.Name)
	}

	_, err := r.Resolve(ctx, registry.Descriptor{Name: "X", Locator: "interceptors/unknown.js"})
	assert.ErrorIs(t, err, registry.ErrModuleNotFound)
}

func TestSurfaceInit_NilProfile(t *testing.T) {
	s := &Surface{name: SurfaceCanvas, source: surfacesSource, target: NewTarget(context.Background(), nil)}
	assert.Error(t, s.Init(nil))
}

func TestEmulation(t *testing.T) {
	p := testProfile("aaaa", schemas.TimezoneParams{ID: "Europe/Berlin", Locale: "de-DE"})
	assert.Len(t, emulateNavigator(p), 2)
	assert.Len(t, emulateScreen(p), 1)
	assert.Len(t, emulateTimezone(p), 4)

	p.Navigator.HardwareConcurrency = 0
	assert.Len(t, emulateNavigator(p), 1)
	p.Screen.AvailWidth = 0
	assert.Empty(t, emulateScreen(p))
	p.Timezone = schemas.TimezoneParams{}
	assert.Len(t, emulateTimezone(p), 2, "overrides are cleared even without a timezone")
}

func TestTarget_ForwardsHostEventsInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	target := NewTarget(ctx, zaptest.NewLogger(t))

	var mu sync.Mutex
	var got []string
	target.send = func(name string, detail interface{}) {
		// Slow deliveries must not let later events overtake earlier ones.
		time.Sleep(time.Millisecond)
		mu.Lock()
		got = append(got, fmt.Sprintf("%s#%v", name, detail))
		mu.Unlock()
	}
	target.forward()

	var want []string
	for i := 0; i < 30; i++ {
		name := hostEvents[i%len(hostEvents)]
		want = append(want, fmt.Sprintf("%s#%d", name, i))
		target.Events().Emit(name, i)
	}
	// Page events are not forwarded back into the page.
	target.Events().Emit(schemas.EventRegenerate, nil)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, want, got)
	mu.Unlock()

	target.Detach()
	target.Events().Emit(schemas.EventReady, "late")
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, len(want), "nothing is forwarded after Detach")
}
