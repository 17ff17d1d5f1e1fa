package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ElLumy/chameleon/internal/chameleon/bootstrap"
	"github.com/ElLumy/chameleon/internal/chameleon/registry"
)

// fakeDocument records every carrier placement and lets tests create the root.
type fakeDocument struct {
	mu        sync.Mutex
	root      bool
	observers map[int]func()
	nextID    int
	children  []*Script
	appended  []string
	removed   []string
	appendErr error
}

func newFakeDocument(root bool) *fakeDocument {
	return &fakeDocument{root: root, observers: make(map[int]func())}
}

func (d *fakeDocument) HasRoot() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root
}

func (d *fakeDocument) Observe(notify func()) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.observers[id] = notify
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

func (d *fakeDocument) Append(s *Script) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.root {
		return ErrNoRoot
	}
	if d.appendErr != nil {
		return d.appendErr
	}
	d.children = append(d.children, s)
	d.appended = append(d.appended, s.ID)
	return nil
}

func (d *fakeDocument) Remove(s *Script) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, c := range d.children {
		if c == s {
			d.children = append(d.children[:i], d.children[i+1:]...)
			d.removed = append(d.removed, s.ID)
			return nil
		}
	}
	return errors.New("not a child")
}

// mutate simulates a structural change, optionally creating the root.
func (d *fakeDocument) mutate(createRoot bool) {
	d.mu.Lock()
	if createRoot {
		d.root = true
	}
	obs := make([]func(), 0, len(d.observers))
	for _, fn := range d.observers {
		obs = append(obs, fn)
	}
	d.mu.Unlock()
	for _, fn := range obs {
		fn()
	}
}

func (d *fakeDocument) observerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.observers)
}

func testPayload(t *testing.T) bootstrap.Payload {
	t.Helper()
	p, err := bootstrap.Build(registry.DefaultDescriptors())
	require.NoError(t, err)
	return p
}

func TestInject_RootPresent(t *testing.T) {
	doc := newFakeDocument(true)
	b := New(doc, zaptest.NewLogger(t))

	require.NoError(t, b.Inject(context.Background(), testPayload(t)))

	assert.Len(t, doc.appended, 1)
	assert.Equal(t, doc.appended, doc.removed, "carrier must be removed right after insertion")
	assert.Empty(t, doc.children)
	assert.Zero(t, doc.observerCount(), "no watcher when the root exists")
}

func TestInject_DefersUntilRootExists(t *testing.T) {
	doc := newFakeDocument(false)
	b := New(doc, zaptest.NewLogger(t))

	require.NoError(t, b.Inject(context.Background(), testPayload(t)))
	assert.Empty(t, doc.appended)
	assert.Equal(t, 1, doc.observerCount())

	// Unrelated changes do not trigger injection.
	doc.mutate(false)
	assert.Empty(t, doc.appended)

	doc.mutate(true)
	assert.Len(t, doc.appended, 1)
	assert.Zero(t, doc.observerCount(), "watcher must detach after injecting")

	// Later changes never inject again.
	doc.mutate(false)
	doc.mutate(false)
	assert.Len(t, doc.appended, 1)
}

func TestInject_CancelDetachesWatcher(t *testing.T) {
	doc := newFakeDocument(false)
	b := New(doc, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Inject(ctx, testPayload(t)))
	require.Equal(t, 1, doc.observerCount())

	cancel()
	assert.Eventually(t, func() bool { return doc.observerCount() == 0 }, time.Second, 5*time.Millisecond)

	doc.mutate(true)
	assert.Empty(t, doc.appended)
}

func TestInject_Errors(t *testing.T) {
	t.Run("empty payload", func(t *testing.T) {
		b := New(newFakeDocument(true), nil)
		assert.Error(t, b.Inject(context.Background(), bootstrap.Payload{}))
	})

	t.Run("immediate append failure is returned", func(t *testing.T) {
		doc := newFakeDocument(true)
		doc.appendErr = errors.New("csp blocked")
		b := New(doc, zaptest.NewLogger(t))
		err := b.Inject(context.Background(), testPayload(t))
		assert.ErrorContains(t, err, "csp blocked")
	})

	t.Run("deferred failure is logged", func(t *testing.T) {
		core, logs := observer.New(zap.ErrorLevel)
		doc := newFakeDocument(false)
		doc.appendErr = errors.New("csp blocked")
		b := New(doc, zap.New(core))

		require.NoError(t, b.Inject(context.Background(), testPayload(t)))
		doc.mutate(true)

		require.Equal(t, 1, logs.FilterMessage("Injection failed").Len())
	})
}
