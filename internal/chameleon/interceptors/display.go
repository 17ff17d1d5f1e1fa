package interceptors

import (
	"strconv"

	"github.com/dop251/goja"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/chameleon/registry"
)

// WebGL parameter names answered from the profile.
const (
	glVendor                = 0x1F00
	glRenderer              = 0x1F01
	glMaxTextureSize        = 0x0D33
	glUnmaskedVendorWebGL   = 0x9245
	glUnmaskedRendererWebGL = 0x9246
)

// Screen spoofs the screen metrics and devicePixelRatio.
type Screen struct{ surface }

// NewScreen creates the screen interceptor.
func NewScreen(page Page) *Screen {
	return &Screen{surface{name: registry.ScreenInterceptor, page: page}}
}

// Init installs the screen getters.
func (s *Screen) Init(p *schemas.Profile) error {
	return s.apply(p, func(vm *goja.Runtime) error {
		scr, err := object(vm, "screen")
		if err != nil {
			return err
		}
		fields := map[string]func() interface{}{
			"width":       func() interface{} { return s.current().Screen.Width },
			"height":      func() interface{} { return s.current().Screen.Height },
			"availWidth":  func() interface{} { return s.current().Screen.AvailWidth },
			"availHeight": func() interface{} { return s.current().Screen.AvailHeight },
			"colorDepth":  func() interface{} { return s.current().Screen.ColorDepth },
			"pixelDepth":  func() interface{} { return s.current().Screen.PixelDepth },
		}
		for name, value := range fields {
			if err := getter(vm, scr, name, value); err != nil {
				return err
			}
		}
		return getter(vm, vm.GlobalObject(), "devicePixelRatio", func() interface{} {
			return s.current().Screen.DevicePixelRatio
		})
	})
}

// Canvas adds seeded noise to canvas readback.
type Canvas struct {
	surface
	jitter JitterUtils
}

// NewCanvas creates the canvas interceptor.
func NewCanvas(page Page, jitter JitterUtils) *Canvas {
	return &Canvas{surface: surface{name: registry.CanvasInterceptor, page: page}, jitter: jitter}
}

// Init wraps CanvasRenderingContext2D.prototype.getImageData.
func (c *Canvas) Init(p *schemas.Profile) error {
	return c.apply(p, func(vm *goja.Runtime) error {
		proto, err := prototype(vm, "CanvasRenderingContext2D")
		if err != nil {
			return err
		}
		return wrap(vm, proto, "getImageData", func(orig goja.Callable, call goja.FunctionCall) goja.Value {
			res, err := orig(call.This, call.Arguments...)
			if err != nil {
				panic(err)
			}
			img, ok := res.(*goja.Object)
			if !ok {
				return res
			}
			data, ok := img.Get("data").(*goja.Object)
			if !ok {
				return res
			}
			params := c.current().Canvas
			n := int(data.Get("length").ToInteger())
			for i := 0; i < n; i++ {
				// Alpha channels stay untouched.
				if i%4 == 3 {
					continue
				}
				key := strconv.Itoa(i)
				v := data.Get(key).ToInteger()
				if nv := c.jitter.Channel(v, params.NoiseSeed, i, params.Intensity); nv != v {
					_ = data.Set(key, nv)
				}
			}
			return res
		})
	})
}

// WebGL reports the profile's GPU.
type WebGL struct{ surface }

// NewWebGL creates the WebGL interceptor.
func NewWebGL(page Page) *WebGL {
	return &WebGL{surface{name: registry.WebGLInterceptor, page: page}}
}

// Init wraps WebGLRenderingContext.prototype.getParameter.
func (w *WebGL) Init(p *schemas.Profile) error {
	return w.apply(p, func(vm *goja.Runtime) error {
		proto, err := prototype(vm, "WebGLRenderingContext")
		if err != nil {
			return err
		}
		return wrap(vm, proto, "getParameter", func(orig goja.Callable, call goja.FunctionCall) goja.Value {
			gl := w.current().WebGL
			switch call.Argument(0).ToInteger() {
			case glVendor:
				return vm.ToValue(gl.Vendor)
			case glRenderer:
				return vm.ToValue("WebKit WebGL")
			case glUnmaskedVendorWebGL:
				return vm.ToValue(gl.UnmaskedVendor)
			case glUnmaskedRendererWebGL:
				return vm.ToValue(gl.Renderer)
			case glMaxTextureSize:
				if gl.MaxTextureSize > 0 {
					return vm.ToValue(gl.MaxTextureSize)
				}
			}
			res, err := orig(call.This, call.Arguments...)
			if err != nil {
				panic(err)
			}
			return res
		})
	})
}
