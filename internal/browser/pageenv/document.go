package pageenv

import (
	"errors"
	"sync"

	"github.com/ElLumy/chameleon/internal/chameleon/bridge"
)

// Document simulates the page's document tree: an optional root node,
// attached script carriers, and structural-change observers.
type Document struct {
	mu        sync.Mutex
	root      bool
	children  []*bridge.Script
	observers map[uint64]func()
	nextID    uint64
	mutations int

	// execute runs an attached carrier. It is called after the tree lock is released.
	execute func(s *bridge.Script)
}

func newDocument(execute func(s *bridge.Script)) *Document {
	return &Document{observers: make(map[uint64]func()), execute: execute}
}

// HasRoot reports whether the root node exists.
func (d *Document) HasRoot() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root
}

// CreateRoot creates the root node. Creating it twice is a no-op.
func (d *Document) CreateRoot() {
	d.mu.Lock()
	if d.root {
		d.mu.Unlock()
		return
	}
	d.root = true
	d.mu.Unlock()
	d.notify()
}

// Observe registers notify for every structural change.
func (d *Document) Observe(notify func()) (detach func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.observers[id] = notify
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.observers, id)
			d.mu.Unlock()
		})
	}
}

// Observers returns the number of attached observers.
func (d *Document) Observers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.observers)
}

// Append attaches s under the root and schedules its code.
func (d *Document) Append(s *bridge.Script) error {
	if s == nil {
		return errors.New("pageenv: nil script")
	}
	d.mu.Lock()
	if !d.root {
		d.mu.Unlock()
		return bridge.ErrNoRoot
	}
	d.children = append(d.children, s)
	d.mu.Unlock()

	if d.execute != nil {
		d.execute(s)
	}
	d.notify()
	return nil
}

// Remove detaches s.
func (d *Document) Remove(s *bridge.Script) error {
	d.mu.Lock()
	removed := false
	for i, c := range d.children {
		if c == s {
			d.children = append(d.children[:i], d.children[i+1:]...)
			removed = true
			break
		}
	}
	d.mu.Unlock()
	if !removed {
		return errors.New("pageenv: script is not attached")
	}
	d.notify()
	return nil
}

// Children returns the number of attached carriers.
func (d *Document) Children() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.children)
}

// Mutations returns the number of structural changes so far.
func (d *Document) Mutations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutations
}

func (d *Document) notify() {
	d.mu.Lock()
	d.mutations++
	obs := make([]func(), 0, len(d.observers))
	for _, fn := range d.observers {
		obs = append(obs, fn)
	}
	d.mu.Unlock()
	for _, fn := range obs {
		fn()
	}
}
