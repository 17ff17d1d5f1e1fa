// Package events implements the page event target: named broadcast events
// with persistent and one-shot listeners.
package events

import "sync"

// Handler receives the event detail.
type Handler func(detail interface{})

type listener struct {
	id   uint64
	fn   Handler
	once bool
}

// Bus is a concurrency-safe event target. Emit runs listeners synchronously
// on the caller's goroutine, in registration order.
type Bus struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[string][]*listener
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[string][]*listener)}
}

// On registers a persistent listener and returns a function that removes it.
func (b *Bus) On(name string, fn Handler) (off func()) {
	return b.add(name, fn, false)
}

// Once registers a listener that is removed before its first invocation.
// A once-listener fires at most one time even under concurrent Emits.
func (b *Bus) Once(name string, fn Handler) (off func()) {
	return b.add(name, fn, true)
}

func (b *Bus) add(name string, fn Handler, once bool) func() {
	b.mu.Lock()
	b.nextID++
	l := &listener{id: b.nextID, fn: fn, once: once}
	b.listeners[name] = append(b.listeners[name], l)
	b.mu.Unlock()

	return func() { b.remove(name, l.id) }
}

func (b *Bus) remove(name string, id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ls := b.listeners[name]
	for i, l := range ls {
		if l.id == id {
			b.listeners[name] = append(ls[:i:i], ls[i+1:]...)
			if len(b.listeners[name]) == 0 {
				delete(b.listeners, name)
			}
			return true
		}
	}
	return false
}

// Emit dispatches detail to every listener of name and returns how many ran.
func (b *Bus) Emit(name string, detail interface{}) int {
	b.mu.Lock()
	snapshot := append([]*listener(nil), b.listeners[name]...)
	b.mu.Unlock()

	ran := 0
	for _, l := range snapshot {
		if l.once && !b.remove(name, l.id) {
			// Another Emit already claimed it.
			continue
		}
		l.fn(detail)
		ran++
	}
	return ran
}

// Count returns the number of listeners registered for name.
func (b *Bus) Count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[name])
}
