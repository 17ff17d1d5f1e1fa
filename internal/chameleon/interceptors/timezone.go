package interceptors

import (
	"github.com/dop251/goja"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/chameleon/registry"
)

// Timezone spoofs the timezone offset and the resolved Intl options.
type Timezone struct{ surface }

// NewTimezone creates the timezone interceptor.
func NewTimezone(page Page) *Timezone {
	return &Timezone{surface{name: registry.TimezoneInterceptor, page: page}}
}

// Init replaces Date.prototype.getTimezoneOffset and Intl.DateTimeFormat.
func (tz *Timezone) Init(p *schemas.Profile) error {
	return tz.apply(p, func(vm *goja.Runtime) error {
		dateProto, err := prototype(vm, "Date")
		if err != nil {
			return err
		}
		if err := dateProto.Set("getTimezoneOffset", func(goja.FunctionCall) goja.Value {
			return vm.ToValue(tz.current().Timezone.Offset)
		}); err != nil {
			return err
		}

		intl := vm.Get("Intl")
		if intl == nil || goja.IsUndefined(intl) {
			obj := vm.NewObject()
			if err := vm.GlobalObject().DefineDataProperty("Intl", obj, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
				return err
			}
			intl = obj
		}
		return intl.ToObject(vm).Set("DateTimeFormat", func(call goja.FunctionCall) goja.Value {
			params := tz.current().Timezone
			locale := params.Locale
			if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
				locale = arg.String()
			}
			formatter := vm.NewObject()
			_ = formatter.Set("resolvedOptions", func(goja.FunctionCall) goja.Value {
				opts := vm.NewObject()
				_ = opts.Set("timeZone", params.ID)
				_ = opts.Set("locale", locale)
				return opts
			})
			return formatter
		})
	})
}
