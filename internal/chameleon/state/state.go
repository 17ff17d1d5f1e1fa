// Package state models the orchestration lifecycle of a single page load.
package state

import (
	"errors"
	"fmt"
	"sync"
)

// State is a phase of the orchestration lifecycle.
type State int

const (
	Uninitialized State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// All lists every state, in lifecycle order.
var All = []State{Uninitialized, Loading, Ready, Failed}

// ErrInvalidTransition is returned for transitions the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid state transition")

// allowed maps each state to the states it may move to.
// Ready and Failed are terminal for a page load.
var allowed = map[State][]State{
	Uninitialized: {Loading},
	Loading:       {Ready, Failed},
}

// Machine owns the orchestration state. The zero value is Uninitialized.
type Machine struct {
	mu       sync.RWMutex
	current  State
	onChange []func(from, to State)
}

// New returns a machine in the Uninitialized state.
func New() *Machine {
	return &Machine{}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Ready reports whether the orchestration reached Ready.
func (m *Machine) Ready() bool {
	return m.Current() == Ready
}

// OnChange registers a callback invoked after every successful transition.
func (m *Machine) OnChange(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Transition moves the machine to next, or returns ErrInvalidTransition.
func (m *Machine) Transition(next State) error {
	m.mu.Lock()
	from := m.current
	if !canMove(from, next) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	m.current = next
	callbacks := append([]func(from, to State){}, m.onChange...)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(from, next)
	}
	return nil
}

func canMove(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
