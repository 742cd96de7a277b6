// Package connectivity reports whether the remote tiers are reachable.
package connectivity

import (
	"sync"
)

// Monitor reports the current connectivity and notifies transitions.
type Monitor interface {
	Online() bool
	// Watch registers fn for every transition and returns a function that
	// removes it. fn runs on its own goroutine.
	Watch(fn func(online bool)) (cancel func())
}

// Switch is a Monitor whose state is set explicitly.
type Switch struct {
	mu       sync.Mutex
	online   bool
	nextID   int
	watchers map[int]func(bool)
}

var _ Monitor = (*Switch)(nil)

// NewSwitch creates a switch in the given state.
func NewSwitch(online bool) *Switch {
	return &Switch{online: online, watchers: make(map[int]func(bool))}
}

// Online implements Monitor.
func (s *Switch) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set changes the state, notifying watchers when it differs from the current one.
func (s *Switch) Set(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	fns := make([]func(bool), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		go fn(online)
	}
}

// Watch implements Monitor.
func (s *Switch) Watch(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}
