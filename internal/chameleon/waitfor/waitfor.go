// Package waitfor provides a "wait for a precondition, then run once" primitive.
package waitfor

import (
	"context"
	"sync"
)

// Subscribe registers notify to be called whenever the watched structure
// changes, and returns a function that detaches it.
type Subscribe func(notify func()) (detach func())

// Once runs fn exactly once, as soon as cond holds.
//
// If cond already holds, fn runs synchronously and Once returns false.
// Otherwise Once subscribes to changes, re-checks cond on every notification
// and returns true (pending). The subscription is detached right after fn
// runs, or when ctx is done, whichever comes first.
func Once(ctx context.Context, cond func() bool, subscribe Subscribe, fn func()) (pending bool) {
	if cond() {
		fn()
		return false
	}

	w := &watcher{cond: cond, fn: fn, stop: make(chan struct{})}
	detach := subscribe(w.notify)
	w.setDetach(detach)

	// The condition may have become true between the first check and the
	// subscription taking effect.
	w.notify()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				w.cancel()
			case <-w.stop:
			}
		}()
	}
	return true
}

type watcher struct {
	mu       sync.Mutex
	cond     func() bool
	fn       func()
	detach   func()
	done     bool
	detached bool
	stop     chan struct{}
}

func (w *watcher) setDetach(detach func()) {
	w.mu.Lock()
	w.detach = detach
	finished := w.done
	w.mu.Unlock()
	if finished {
		// notify fired synchronously from inside subscribe.
		w.runDetach()
	}
}

func (w *watcher) notify() {
	w.mu.Lock()
	if w.done || !w.cond() {
		w.mu.Unlock()
		return
	}
	w.done = true
	close(w.stop)
	w.mu.Unlock()

	w.runDetach()
	w.fn()
}

func (w *watcher) cancel() {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return
	}
	w.done = true
	close(w.stop)
	w.mu.Unlock()
	w.runDetach()
}

func (w *watcher) runDetach() {
	w.mu.Lock()
	if w.detached || w.detach == nil {
		w.mu.Unlock()
		return
	}
	w.detached = true
	detach := w.detach
	w.mu.Unlock()
	detach()
}
