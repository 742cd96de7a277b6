package gitrepo

import (
	"time"

	"github.com/aretw0/introspection"
)

// StoreState exposes internal state for observability.
type StoreState struct {
	Path       string     `json:"path"`
	SystemDir  string     `json:"system_dir"`
	Gitless    bool       `json:"gitless"`
	Writes     int        `json:"writes"`
	LastCommit *time.Time `json:"last_commit,omitempty"`
	LastSync   *time.Time `json:"last_sync,omitempty"`
}

// State implements introspection.Introspectable.
func (s *Store) State() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StoreState{
		Path:       s.root,
		SystemDir:  s.config.SystemDir,
		Gitless:    s.config.Gitless,
		Writes:     s.writes,
		LastCommit: s.lastCommit,
		LastSync:   s.lastSync,
	}
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "repository"
}

var _ introspection.Introspectable = (*Store)(nil)
var _ introspection.Component = (*Store)(nil)
