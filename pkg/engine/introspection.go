package engine

import (
	"slices"
	"strings"
	"time"

	"github.com/aretw0/introspection"
)

// SessionState is the exported state of one session.
type SessionState struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	State         State     `json:"state"`
	Path          string    `json:"path,omitempty"`
	Revision      string    `json:"revision,omitempty"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
	MetadataDirty bool      `json:"metadata_dirty"`
	RepoDirty     bool      `json:"repository_dirty"`
	Resolving     bool      `json:"resolving,omitempty"`
	ConflictTier  string    `json:"conflict_tier,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// EngineState is the exported state of the engine.
type EngineState struct {
	SessionID string         `json:"session_id"`
	Online    bool           `json:"online"`
	Sessions  []SessionState `json:"sessions"`
	Timers    map[string]int `json:"timers"`
}

// State implements introspection.Introspectable.
func (s *Session) State() any {
	return s.snapshotState()
}

func (s *Session) snapshotState() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SessionState{
		ID:            s.id,
		Title:         s.note.Title,
		State:         s.m.state,
		Path:          s.note.Path,
		Revision:      s.note.Revision,
		ConfirmedAt:   s.confirmedAt,
		MetadataDirty: s.metaDirty,
		RepoDirty:     s.repoDirty,
		Resolving:     s.m.resolving,
	}
	if s.m.conflict != nil {
		st.ConflictTier = string(s.m.conflict.Tier)
	}
	if s.m.lastErr != nil {
		st.LastError = s.m.lastErr.Error()
	}
	return st
}

// ComponentType implements introspection.Component.
func (s *Session) ComponentType() string {
	return "session"
}

// State implements introspection.Introspectable.
func (e *Engine) State() any {
	sessions := e.openSessions()
	out := EngineState{
		SessionID: e.cfg.SessionID,
		Online:    e.Online(),
		Sessions:  make([]SessionState, 0, len(sessions)),
		Timers: map[string]int{
			"cache":      len(e.cacheTimers.Keys()),
			"metadata":   len(e.metaTimers.Keys()),
			"repository": len(e.repoTimers.Keys()),
		},
	}
	for _, s := range sessions {
		out.Sessions = append(out.Sessions, s.snapshotState())
	}
	slices.SortFunc(out.Sessions, func(a, b SessionState) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// ComponentType implements introspection.Component.
func (e *Engine) ComponentType() string {
	return "engine"
}

var _ introspection.Introspectable = (*Engine)(nil)
var _ introspection.Component = (*Engine)(nil)
