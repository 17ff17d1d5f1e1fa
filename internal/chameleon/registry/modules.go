package registry

// Stable module names shared by the resolvers, the engine and the orchestrator.
const (
	SeedManager     = "SeedManager"
	SpoofingEngine  = "SpoofingEngine"
	RandomUtils     = "RandomUtils"
	JitterUtils     = "JitterUtils"
	MetaInterceptor = "MetaInterceptor"

	NavigatorInterceptor = "NavigatorInterceptor"
	ScreenInterceptor    = "ScreenInterceptor"
	CanvasInterceptor    = "CanvasInterceptor"
	WebGLInterceptor     = "WebGLInterceptor"
	AudioInterceptor     = "AudioInterceptor"
	FontsInterceptor     = "FontsInterceptor"
	PluginsInterceptor   = "PluginsInterceptor"
	TimezoneInterceptor  = "TimezoneInterceptor"
)

// DefaultDescriptors returns the fixed module set, in declaration order.
// The generator and its utilities are required; interceptors are optional so
// a missing surface never blocks the others.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{Name: SeedManager, Locator: "seedManager.js", Required: true},
		{Name: SpoofingEngine, Locator: "spoofingEngine.js", Required: true},
		{Name: RandomUtils, Locator: "utils/randomUtils.js", Required: true},
		{Name: JitterUtils, Locator: "utils/jitterUtils.js", Required: true},
		{Name: MetaInterceptor, Locator: "interceptors/metaInterceptor.js"},
		{Name: NavigatorInterceptor, Locator: "interceptors/navigatorInterceptor.js"},
		{Name: ScreenInterceptor, Locator: "interceptors/screenInterceptor.js"},
		{Name: CanvasInterceptor, Locator: "interceptors/canvasInterceptor.js"},
		{Name: WebGLInterceptor, Locator: "interceptors/webglInterceptor.js"},
		{Name: AudioInterceptor, Locator: "interceptors/audioInterceptor.js"},
		{Name: FontsInterceptor, Locator: "interceptors/fontsInterceptor.js"},
		{Name: PluginsInterceptor, Locator: "interceptors/pluginsInterceptor.js"},
		{Name: TimezoneInterceptor, Locator: "interceptors/timezoneInterceptor.js"},
	}
}

// Without drops the named descriptors. Required descriptors are kept.
func Without(descs []Descriptor, names ...string) []Descriptor {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
		drop[n+"Interceptor"] = struct{}{}
	}
	out := make([]Descriptor, 0, len(descs))
	for _, d := range descs {
		if _, ok := drop[d.Name]; ok && !d.Required {
			continue
		}
		out = append(out, d)
	}
	return out
}
