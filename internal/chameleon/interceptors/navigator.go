package interceptors

import (
	"strings"

	"github.com/dop251/goja"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/chameleon/registry"
)

// Navigator spoofs the navigator identity fields.
type Navigator struct{ surface }

// NewNavigator creates the navigator interceptor.
func NewNavigator(page Page) *Navigator {
	return &Navigator{surface{name: registry.NavigatorInterceptor, page: page}}
}

// Init installs the navigator getters.
func (n *Navigator) Init(p *schemas.Profile) error {
	return n.apply(p, func(vm *goja.Runtime) error {
		nav, err := object(vm, "navigator")
		if err != nil {
			return err
		}
		fields := map[string]func() interface{}{
			"userAgent":           func() interface{} { return n.current().UserAgent },
			"platform":            func() interface{} { return n.current().OS.Platform },
			"vendor":              func() interface{} { return n.current().Navigator.Vendor },
			"hardwareConcurrency": func() interface{} { return n.current().Navigator.HardwareConcurrency },
			"deviceMemory":        func() interface{} { return n.current().Navigator.DeviceMemory },
			"maxTouchPoints":      func() interface{} { return n.current().Navigator.MaxTouchPoints },
			"languages": func() interface{} {
				langs := n.current().Navigator.Languages
				out := make([]interface{}, len(langs))
				for i, l := range langs {
					out[i] = l
				}
				return vm.NewArray(out...)
			},
			"language": func() interface{} {
				if langs := n.current().Navigator.Languages; len(langs) > 0 {
					return langs[0]
				}
				return "en-US"
			},
		}
		for name, value := range fields {
			if err := getter(vm, nav, name, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Plugins spoofs navigator.plugins.
type Plugins struct{ surface }

// NewPlugins creates the plugins interceptor.
func NewPlugins(page Page) *Plugins {
	return &Plugins{surface{name: registry.PluginsInterceptor, page: page}}
}

// Init installs the plugins getter.
func (pl *Plugins) Init(p *schemas.Profile) error {
	return pl.apply(p, func(vm *goja.Runtime) error {
		nav, err := object(vm, "navigator")
		if err != nil {
			return err
		}
		return getter(vm, nav, "plugins", func() interface{} {
			plugins := pl.current().Plugins.Plugins
			items := make([]interface{}, 0, len(plugins))
			for _, d := range plugins {
				o := vm.NewObject()
				_ = o.Set("name", d.Name)
				_ = o.Set("filename", d.Filename)
				_ = o.Set("description", d.Description)
				items = append(items, o)
			}
			return vm.NewArray(items...)
		})
	})
}

// Fonts answers document.fonts.check from the profile's font list.
type Fonts struct{ surface }

// NewFonts creates the fonts interceptor.
func NewFonts(page Page) *Fonts {
	return &Fonts{surface{name: registry.FontsInterceptor, page: page}}
}

// Init replaces document.fonts.check.
func (f *Fonts) Init(p *schemas.Profile) error {
	return f.apply(p, func(vm *goja.Runtime) error {
		doc, err := object(vm, "document")
		if err != nil {
			return err
		}
		fonts := doc.Get("fonts")
		if fonts == nil || goja.IsUndefined(fonts) {
			return errMissing("document.fonts")
		}
		return fonts.ToObject(vm).Set("check", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(f.has(FontFamily(call.Argument(0).String())))
		})
	})
}

func (f *Fonts) has(family string) bool {
	for _, name := range f.current().Fonts.Available {
		if strings.EqualFold(name, family) {
			return true
		}
	}
	return false
}

// FontFamily extracts the first family from a CSS font shorthand such as
// `bold 16px "Segoe UI", sans-serif`.
func FontFamily(spec string) string {
	spec = strings.TrimSpace(spec)
	if i := strings.IndexAny(spec, `"'`); i >= 0 {
		quote := spec[i]
		rest := spec[i+1:]
		if j := strings.IndexByte(rest, quote); j >= 0 {
			return rest[:j]
		}
		return rest
	}
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = spec[:i]
	}
	fields := strings.Fields(spec)
	if len(fields) == 0 {
		return ""
	}
	// The family follows the size token.
	for k, tok := range fields {
		if len(tok) > 0 && tok[0] >= '0' && tok[0] <= '9' && k+1 < len(fields) {
			return strings.Join(fields[k+1:], " ")
		}
	}
	return strings.Join(fields, " ")
}
