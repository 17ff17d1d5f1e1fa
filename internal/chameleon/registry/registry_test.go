package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// mapResolver resolves locators from a fixed table; failures are per-locator.
func mapResolver(modules map[string]interface{}, failures map[string]error) Resolver {
	return ResolverFunc(func(ctx context.Context, d Descriptor) (interface{}, error) {
		if err, ok := failures[d.Locator]; ok {
			return nil, err
		}
		if m, ok := modules[d.Locator]; ok {
			return m, nil
		}
		return nil, ErrModuleNotFound
	})
}

func TestResolveAll_Success(t *testing.T) {
	descs := []Descriptor{
		{Name: "A", Locator: "a.js", Required: true},
		{Name: "B", Locator: "b.js"},
	}
	r := New(mapResolver(map[string]interface{}{"a.js": "mod-a", "b.js": "mod-b"}, nil), zaptest.NewLogger(t))

	set, err := r.ResolveAll(context.Background(), descs)
	require.NoError(t, err)

	a, ok := set.Lookup("A")
	require.True(t, ok)
	assert.Equal(t, "mod-a", a)
	assert.Equal(t, []string{"A", "B"}, set.Names())
}

func TestResolveAll_RequiredFailureFailsWhole(t *testing.T) {
	boom := errors.New("import rejected")
	descs := []Descriptor{
		{Name: "A", Locator: "a.js", Required: true},
		{Name: "B", Locator: "b.js", Required: true},
	}
	r := New(mapResolver(map[string]interface{}{"a.js": "mod-a"}, map[string]error{"b.js": boom}), zaptest.NewLogger(t))

	set, err := r.ResolveAll(context.Background(), descs)
	require.Error(t, err)
	assert.Nil(t, set)
	assert.ErrorIs(t, err, boom)

	var merr *ModuleError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "B", merr.Name)
	assert.Contains(t, err.Error(), "b.js")
}

func TestResolveAll_OptionalFailureRecorded(t *testing.T) {
	descs := []Descriptor{
		{Name: "A", Locator: "a.js", Required: true},
		{Name: "Opt", Locator: "missing.js"},
	}
	r := New(mapResolver(map[string]interface{}{"a.js": 1}, nil), zaptest.NewLogger(t))

	set, err := r.ResolveAll(context.Background(), descs)
	require.NoError(t, err)

	_, ok := set.Lookup("Opt")
	assert.False(t, ok)
	assert.ErrorIs(t, set.Missing("Opt"), ErrModuleNotFound)
	assert.NoError(t, set.Missing("A"))
}

func TestResolveAll_NilModuleIsAFailure(t *testing.T) {
	r := New(ResolverFunc(func(context.Context, Descriptor) (interface{}, error) { return nil, nil }), nil)
	_, err := r.ResolveAll(context.Background(), []Descriptor{{Name: "A", Locator: "a.js", Required: true}})
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestResolveAll_RunsInParallel(t *testing.T) {
	var inFlight, peak int32
	slow := ResolverFunc(func(ctx context.Context, d Descriptor) (interface{}, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return d.Name, nil
	})

	r := New(slow, nil, WithConcurrency(2))
	_, err := r.ResolveAll(context.Background(), DefaultDescriptors())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak), "resolution should use the configured parallelism")
}

func TestResolveAll_Validation(t *testing.T) {
	r := New(mapResolver(nil, nil), nil)

	_, err := r.ResolveAll(context.Background(), nil)
	assert.Error(t, err)

	_, err = r.ResolveAll(context.Background(), []Descriptor{{Name: "A", Locator: "a"}, {Name: "A", Locator: "b"}})
	assert.ErrorContains(t, err, "duplicate")

	_, err = r.ResolveAll(context.Background(), []Descriptor{{Name: "A"}})
	assert.ErrorContains(t, err, "needs a name and a locator")
}

func TestChain(t *testing.T) {
	first := mapResolver(map[string]interface{}{"a.js": "first"}, nil)
	second := mapResolver(map[string]interface{}{"a.js": "second", "b.js": "second-b"}, map[string]error{"c.js": errors.New("hard failure")})
	chain := Chain(first, second)

	m, err := chain.Resolve(context.Background(), Descriptor{Locator: "a.js"})
	require.NoError(t, err)
	assert.Equal(t, "first", m)

	m, err = chain.Resolve(context.Background(), Descriptor{Locator: "b.js"})
	require.NoError(t, err)
	assert.Equal(t, "second-b", m)

	_, err = chain.Resolve(context.Background(), Descriptor{Locator: "c.js"})
	assert.EqualError(t, err, "hard failure")

	_, err = chain.Resolve(context.Background(), Descriptor{Locator: "z.js"})
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestDefaultDescriptorsAndWithout(t *testing.T) {
	descs := DefaultDescriptors()
	require.Len(t, descs, 13)

	required := 0
	for _, d := range descs {
		if d.Required {
			required++
		}
	}
	assert.Equal(t, 4, required)

	trimmed := Without(descs, "Fonts", PluginsInterceptor, SeedManager)
	assert.Len(t, trimmed, 11, "required modules cannot be dropped")
	for _, d := range trimmed {
		assert.NotEqual(t, FontsInterceptor, d.Name)
		assert.NotEqual(t, PluginsInterceptor, d.Name)
	}
}
