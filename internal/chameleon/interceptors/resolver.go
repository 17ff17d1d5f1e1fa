package interceptors

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/internal/chameleon/generator"
	"github.com/ElLumy/chameleon/internal/chameleon/registry"
)

// CoreResolver resolves the host-side modules: the seed manager, the
// spoofing engine and the shared utilities.
func CoreResolver(seeds *generator.SeedManager, engine *generator.SpoofingEngine) registry.Resolver {
	random := RandomUtils{}
	modules := map[string]interface{}{
		"seedManager.js":       seeds,
		"spoofingEngine.js":    engine,
		"utils/randomUtils.js": random,
		"utils/jitterUtils.js": JitterUtils{Random: random},
	}
	return registry.ResolverFunc(func(ctx context.Context, d registry.Descriptor) (interface{}, error) {
		m, ok := modules[d.Locator]
		if !ok {
			return nil, fmt.Errorf("%w: %s", registry.ErrModuleNotFound, d.Locator)
		}
		return m, nil
	})
}

// PageResolver resolves the interceptor modules for an in-process page.
// Each resolution builds a fresh interceptor bound to page.
func PageResolver(page Page, logger *zap.Logger) registry.Resolver {
	jitter := JitterUtils{}
	factories := map[string]func() interface{}{
		"interceptors/metaInterceptor.js":      func() interface{} { return NewMeta(page, logger) },
		"interceptors/navigatorInterceptor.js": func() interface{} { return NewNavigator(page) },
		"interceptors/screenInterceptor.js":    func() interface{} { return NewScreen(page) },
		"interceptors/canvasInterceptor.js":    func() interface{} { return NewCanvas(page, jitter) },
		"interceptors/webglInterceptor.js":     func() interface{} { return NewWebGL(page) },
		"interceptors/audioInterceptor.js":     func() interface{} { return NewAudio(page, jitter) },
		"interceptors/fontsInterceptor.js":     func() interface{} { return NewFonts(page) },
		"interceptors/pluginsInterceptor.js":   func() interface{} { return NewPlugins(page) },
		"interceptors/timezoneInterceptor.js":  func() interface{} { return NewTimezone(page) },
	}
	return registry.ResolverFunc(func(ctx context.Context, d registry.Descriptor) (interface{}, error) {
		build, ok := factories[d.Locator]
		if !ok {
			return nil, fmt.Errorf("%w: %s", registry.ErrModuleNotFound, d.Locator)
		}
		return build(), nil
	})
}
