package cache

import (
	"time"

	"github.com/aretw0/introspection"
)

// StoreState exposes internal state for observability.
type StoreState struct {
	Path     string     `json:"path"`
	Entries  int        `json:"entries"`
	LastLoad *time.Time `json:"last_load,omitempty"`
}

// State implements introspection.Introspectable.
func (s *Store) State() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := StoreState{
		Path:    s.path,
		Entries: s.lastSize,
	}
	if !s.lastLoad.IsZero() {
		t := s.lastLoad
		state.LastLoad = &t
	}
	return state
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "cache"
}

var _ introspection.Introspectable = (*Store)(nil)
var _ introspection.Component = (*Store)(nil)
