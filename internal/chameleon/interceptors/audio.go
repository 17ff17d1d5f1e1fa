package interceptors

import (
	"strconv"

	"github.com/dop251/goja"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/chameleon/registry"
)

// Audio perturbs AudioBuffer channel data and reports the profile's sample rate.
type Audio struct {
	surface
	jitter JitterUtils
}

// NewAudio creates the audio interceptor.
func NewAudio(page Page, jitter JitterUtils) *Audio {
	return &Audio{surface: surface{name: registry.AudioInterceptor, page: page}, jitter: jitter}
}

// Init wraps AudioBuffer.prototype.getChannelData. The wrapper returns a
// perturbed copy, so repeated reads of one buffer agree with each other.
func (a *Audio) Init(p *schemas.Profile) error {
	return a.apply(p, func(vm *goja.Runtime) error {
		proto, err := prototype(vm, "AudioBuffer")
		if err != nil {
			return err
		}
		if err := getter(vm, proto, "sampleRate", func() interface{} { return a.current().Audio.SampleRate }); err != nil {
			return err
		}
		return wrap(vm, proto, "getChannelData", func(orig goja.Callable, call goja.FunctionCall) goja.Value {
			res, err := orig(call.This, call.Arguments...)
			if err != nil {
				panic(err)
			}
			data, ok := res.(*goja.Object)
			if !ok {
				return res
			}
			params := a.current().Audio
			n := int(data.Get("length").ToInteger())
			out := make([]interface{}, n)
			for i := 0; i < n; i++ {
				v := data.Get(strconv.Itoa(i)).ToFloat()
				out[i] = a.jitter.Sample(v, params.NoiseSeed, i, params.Jitter)
			}
			return vm.NewArray(out...)
		})
	})
}
