package waitfor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeTree stands in for a document: a flag plus structural-change observers.
type fakeTree struct {
	mu        sync.Mutex
	ready     bool
	observers map[int]func()
	next      int
}

func newFakeTree() *fakeTree {
	return &fakeTree{observers: make(map[int]func())}
}

func (f *fakeTree) cond() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeTree) subscribe(notify func()) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.observers[id] = notify
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.observers, id)
		f.mu.Unlock()
	}
}

// mutate fires every observer, optionally making the condition true first.
func (f *fakeTree) mutate(makeReady bool) {
	f.mu.Lock()
	if makeReady {
		f.ready = true
	}
	obs := make([]func(), 0, len(f.observers))
	for _, o := range f.observers {
		obs = append(obs, o)
	}
	f.mu.Unlock()
	for _, o := range obs {
		o()
	}
}

func (f *fakeTree) observerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.observers)
}

func TestOnce_ImmediateWhenConditionHolds(t *testing.T) {
	tree := newFakeTree()
	tree.ready = true
	runs := 0

	pending := Once(context.Background(), tree.cond, tree.subscribe, func() { runs++ })

	assert.False(t, pending)
	assert.Equal(t, 1, runs)
	assert.Equal(t, 0, tree.observerCount(), "no watcher should be registered")
}

func TestOnce_DefersUntilConditionAndDetaches(t *testing.T) {
	tree := newFakeTree()
	runs := 0

	pending := Once(context.Background(), tree.cond, tree.subscribe, func() { runs++ })
	assert.True(t, pending)
	assert.Equal(t, 1, tree.observerCount())

	tree.mutate(false) // unrelated change
	assert.Equal(t, 0, runs)

	tree.mutate(true)
	assert.Equal(t, 1, runs)
	assert.Equal(t, 0, tree.observerCount(), "watcher must detach after running")

	tree.mutate(true)
	assert.Equal(t, 1, runs, "fn must run exactly once")
}

func TestOnce_NotifyDuringSubscribe(t *testing.T) {
	tree := newFakeTree()
	runs := 0
	detached := false

	subscribe := func(notify func()) func() {
		tree.ready = true
		notify()
		return func() { detached = true }
	}

	pending := Once(context.Background(), tree.cond, subscribe, func() { runs++ })
	assert.True(t, pending)
	assert.Equal(t, 1, runs)
	assert.True(t, detached)
}

func TestOnce_CancelledContextDetaches(t *testing.T) {
	tree := newFakeTree()
	var runs int32
	ctx, cancel := context.WithCancel(context.Background())

	Once(ctx, tree.cond, tree.subscribe, func() { atomic.AddInt32(&runs, 1) })
	cancel()

	assert.Eventually(t, func() bool { return tree.observerCount() == 0 }, time.Second, 5*time.Millisecond)
	tree.mutate(true)
	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))
}

func TestOnce_ConcurrentNotificationsRunOnce(t *testing.T) {
	tree := newFakeTree()
	var runs int32

	Once(context.Background(), tree.cond, tree.subscribe, func() { atomic.AddInt32(&runs, 1) })

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tree.mutate(true)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}
