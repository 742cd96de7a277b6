package engine

import (
	"context"

	"github.com/YusukeImai797/Gitnote/pkg/bus"
	"github.com/YusukeImai797/Gitnote/pkg/core"
)

// handleMessage applies coordination messages from other sessions.
func (e *Engine) handleMessage(msg bus.Message) {
	if msg.SessionID == e.cfg.SessionID || msg.NoteID == "" {
		return
	}
	switch msg.Kind {
	case bus.KindEditing:
		s := e.session(msg.NoteID)
		if s == nil {
			e.logger.Debug("note edited elsewhere", "note", msg.NoteID, "from", msg.SessionID)
			return
		}
		s.logger.Warn("note is also being edited in another session", "from", msg.SessionID)
		e.send(Event{Type: EventEditing, NoteID: msg.NoteID, State: s.Status(), Session: msg.SessionID})
	case bus.KindSaved:
		if msg.Note == nil || msg.ConfirmedAt.IsZero() {
			return
		}
		if s := e.session(msg.NoteID); s != nil {
			s.applySaved(e.ctx, msg)
			return
		}
		e.applySavedToCache(e.ctx, msg)
	}
}

// applySaved adopts content another session saved to every tier unless
// this session holds edits of its own.
func (s *Session) applySaved(ctx context.Context, msg bus.Message) {
	remote := msg.Note.Clone()
	remote.ID = s.id
	if msg.Revision != "" {
		remote.Revision = msg.Revision
	}

	s.mu.Lock()
	if s.closed || s.m.resolving || s.m.state == StateConflict {
		s.mu.Unlock()
		return
	}
	if !msg.ConfirmedAt.After(s.confirmedAt) {
		// Same confirmed content: only the repository address can be news.
		if msg.ConfirmedAt.Equal(s.confirmedAt) && !s.repoDirty && remote.Path != "" && remote.Revision != "" && remote.SameContent(s.note) {
			s.note.Path, s.note.Revision = remote.Path, remote.Revision
			s.located = true
		}
		s.mu.Unlock()
		return
	}
	if s.metaDirty {
		s.mu.Unlock()
		s.logger.Debug("ignoring remote save while local edits are pending", "from", msg.SessionID)
		return
	}
	s.adoptLocked(remote, msg.ConfirmedAt)
	s.located = s.located || remote.Path != ""
	state := s.m.state
	s.mu.Unlock()

	s.e.cacheTimers.Cancel(s.id)
	s.e.metaTimers.Cancel(s.id)
	s.e.repoTimers.Cancel(s.id)
	if err := s.e.cfg.Cache.PutConfirmed(ctx, core.EntryFromNote(remote), msg.ConfirmedAt); err != nil {
		s.logger.Warn("cache write failed", "error", err)
	}
	s.e.emit(EventRemote, s.id, state, nil)
}

// applySavedToCache refreshes the cache entry of a note that is not open
// here, leaving unsynced entries alone.
func (e *Engine) applySavedToCache(ctx context.Context, msg bus.Message) {
	entry, ok, err := e.cfg.Cache.Get(ctx, msg.NoteID)
	if err != nil || !ok {
		return
	}
	if entry.Unsynced() || !msg.ConfirmedAt.After(entry.ConfirmedAt) {
		return
	}
	remote := msg.Note.Clone()
	remote.ID = msg.NoteID
	if err := e.cfg.Cache.PutConfirmed(ctx, core.EntryFromNote(remote), msg.ConfirmedAt); err != nil {
		e.logger.Warn("cache write failed", "note", msg.NoteID, "error", err)
	}
}
