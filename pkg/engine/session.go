package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/YusukeImai797/Gitnote/pkg/bus"
	"github.com/YusukeImai797/Gitnote/pkg/core"
	"github.com/YusukeImai797/Gitnote/pkg/notefile"
)

// Session is one open note. Its methods are safe for concurrent use.
type Session struct {
	e      *Engine
	id     string
	logger *slog.Logger

	// mu guards the fields below and is never held across a store call.
	mu          sync.Mutex
	note        core.Note
	confirmedAt time.Time
	metaDirty   bool
	repoDirty   bool
	// located is set once the repository address is known, or known to be
	// absent.
	located bool
	// epoch increases on resolution and close; results of attempts started
	// under an older epoch are discarded.
	epoch       uint64
	m           *machine
	lastEditing time.Time
	closed      bool
}

func newSession(e *Engine, n core.Note, confirmedAt time.Time) *Session {
	return &Session{
		e:           e,
		id:          n.ID,
		logger:      e.logger.With("note", n.ID),
		note:        n.Clone(),
		confirmedAt: confirmedAt,
		m:           newMachine(),
	}
}

// ID returns the note ID.
func (s *Session) ID() string {
	return s.id
}

// Note returns a copy of the in-memory note.
func (s *Session) Note() core.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.note.Clone()
}

// ConfirmedAt returns the last timestamp confirmed by the metadata store.
func (s *Session) ConfirmedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmedAt
}

// Status returns the current sync state.
func (s *Session) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.state
}

// Conflict returns the open conflict, or nil.
func (s *Session) Conflict() *core.ConflictError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.conflict
}

// Err returns the last synchronizer failure.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.lastErr
}

// Pending reports whether edits have not reached every remote tier yet.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending()
}

func (s *Session) pending() bool {
	return s.metaDirty || s.repoDirty
}

// Edit replaces the note's title, body, tags and folder with those of n and
// schedules every tier. Edits are refused while a resolution runs.
func (s *Session) Edit(n core.Note) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.m.resolving {
		s.mu.Unlock()
		return core.E(core.KindInResolution, "engine.edit", nil)
	}
	next := s.note.Clone()
	next.Title = n.Title
	next.Body = n.Body
	next.Tags = append([]string{}, n.Tags...)
	next.FolderID = n.FolderID
	if next.SameContent(s.note) {
		s.mu.Unlock()
		return nil
	}
	s.note = next
	s.metaDirty = true
	s.repoDirty = true
	s.m.edit()
	state := s.m.state
	announce := s.e.now().Sub(s.lastEditing) >= s.e.cfg.EditingThrottle
	if announce {
		s.lastEditing = s.e.now()
	}
	s.mu.Unlock()

	s.e.cacheTimers.Reset(s.id)
	s.e.metaTimers.Reset(s.id)
	s.e.repoTimers.Reset(s.id)
	s.e.emit(EventState, s.id, state, nil)
	if announce {
		s.publish(context.Background(), bus.Message{Kind: bus.KindEditing})
	}
	return nil
}

// Sync runs the cache, metadata and repository flushes now and returns the
// open conflict or the last failure.
func (s *Session) Sync(ctx context.Context) error {
	s.e.cacheTimers.Cancel(s.id)
	s.e.metaTimers.Cancel(s.id)
	s.e.repoTimers.Cancel(s.id)

	s.flushCache(ctx)
	s.flushMetadata(ctx)
	s.flushRepository(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.m.conflict != nil:
		return s.m.conflict
	case s.m.state == StateError:
		return s.m.lastErr
	case !s.e.Online() && s.pending():
		return core.E(core.KindNetwork, "engine.sync", core.ErrOffline)
	}
	return nil
}

// Close writes pending content to the cache and forgets the session. Timers
// and results of in-flight attempts are dropped; the cache keeps the edits
// flagged unsynced for Resume.
func (s *Session) Close(ctx context.Context) error {
	s.close(ctx)
	s.e.unregister(s)
	return nil
}

func (s *Session) close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.e.cacheTimers.Cancel(s.id)
	s.e.metaTimers.Cancel(s.id)
	s.e.repoTimers.Cancel(s.id)
	s.flushCache(ctx)

	s.mu.Lock()
	s.closed = true
	s.epoch++
	s.mu.Unlock()
}

// snapshot captures the state a synchronizer attempt works from.
type snapshot struct {
	note        core.Note
	confirmedAt time.Time
	epoch       uint64
}

func (s *Session) snapshot() snapshot {
	return snapshot{note: s.note.Clone(), confirmedAt: s.confirmedAt, epoch: s.epoch}
}

// stale reports whether an attempt started from snap must be discarded.
// Callers hold mu.
func (s *Session) stale(snap snapshot) bool {
	return s.closed || s.epoch != snap.epoch
}

// flushCache writes the in-memory content to the cache unless the cache
// already holds it.
func (s *Session) flushCache(ctx context.Context) {
	s.mu.Lock()
	n := s.note.Clone()
	s.mu.Unlock()
	s.writeCache(ctx, n)
}

func (s *Session) writeCache(ctx context.Context, n core.Note) {
	if entry, ok, err := s.e.cfg.Cache.Get(ctx, n.ID); err == nil && ok && entry.Apply(core.Note{}).SameContent(n) {
		return
	}
	if err := s.e.cfg.Cache.Put(ctx, core.EntryFromNote(n)); err != nil {
		// The edit stays in memory and is retried by the next flush.
		s.logger.Warn("cache write failed", "error", err)
	}
}

func (s *Session) flushMetadata(ctx context.Context) {
	if !s.e.Online() {
		return
	}
	s.mu.Lock()
	if s.closed || !s.metaDirty || !s.m.begin() {
		s.mu.Unlock()
		return
	}
	snap := s.snapshot()
	s.mu.Unlock()
	s.e.emit(EventState, s.id, StateSyncing, nil)

	s.writeCache(ctx, snap.note)
	rec := core.RecordFromNote(snap.note, notefile.WordCount(snap.note.Body))
	saved, err := s.e.cfg.Metadata.Save(ctx, rec, snap.confirmedAt)

	s.mu.Lock()
	if s.stale(snap) {
		s.m.abandon(s.pending())
		s.mu.Unlock()
		return
	}

	var ce *core.ConflictError
	switch {
	case err == nil:
		s.confirm(snap, saved.UpdatedAt)
		if s.note.Path == "" && saved.Path != "" {
			s.note.Path, s.note.Revision = saved.Path, saved.Revision
		}
		if s.note.CreatedAt.IsZero() {
			s.note.CreatedAt = saved.CreatedAt
		}
		s.note.UpdatedAt = saved.UpdatedAt
		changed := s.metaDirty
		s.m.succeed(core.TierMetadata, s.pending())
		state, current := s.m.state, s.note.Clone()
		settled, settledAt, announce := s.settledLocked()
		s.mu.Unlock()

		s.afterConfirm(ctx, current, saved.UpdatedAt, changed)
		if current.Path != "" && (saved.Path != current.Path || saved.Revision != current.Revision) {
			s.e.setLocation(ctx, current)
		}
		s.e.emit(EventState, s.id, state, nil)
		if announce {
			s.publishSaved(ctx, settled, settledAt)
		}

	case errors.As(err, &ce) && ce.Remote.SameContent(snap.note):
		// The store already holds this content, e.g. saved by another
		// session of the same user.
		s.confirm(snap, ce.RemoteUpdatedAt)
		changed := s.metaDirty
		s.m.succeed(core.TierMetadata, s.pending())
		state, current := s.m.state, s.note.Clone()
		s.mu.Unlock()

		s.afterConfirm(ctx, current, ce.RemoteUpdatedAt, changed)
		s.e.emit(EventState, s.id, state, nil)

	case ce != nil:
		s.m.diverge(ce)
		s.mu.Unlock()
		s.logger.Info("metadata conflict", "remote_updated_at", ce.RemoteUpdatedAt)
		s.e.emit(EventConflict, s.id, StateConflict, ce)

	default:
		s.m.fail(core.TierMetadata, err, s.pending())
		s.mu.Unlock()
		s.logger.Warn("metadata sync failed", "error", err, "kind", core.KindOf(err))
		s.e.emit(EventState, s.id, StateError, err)
		if core.KindOf(err).IsRetryable() {
			s.e.metaTimers.Reset(s.id)
		}
	}
}

// confirm records confirmedAt for the content in snap. Callers hold mu.
func (s *Session) confirm(snap snapshot, confirmedAt time.Time) {
	if confirmedAt.After(s.confirmedAt) {
		s.confirmedAt = confirmedAt
	}
	s.metaDirty = !s.note.SameContent(snap.note)
}

// afterConfirm mirrors a confirmation into the cache. Content edited while
// the save was in flight is written again so it reads as unsynced.
func (s *Session) afterConfirm(ctx context.Context, current core.Note, confirmedAt time.Time, changed bool) {
	if err := s.e.cfg.Cache.MarkConfirmed(ctx, s.id, confirmedAt); err != nil {
		s.logger.Warn("failed to record confirmation in cache", "error", err)
	}
	if changed {
		if err := s.e.cfg.Cache.Put(ctx, core.EntryFromNote(current)); err != nil {
			s.logger.Warn("cache write failed", "error", err)
		}
		s.e.metaTimers.Reset(s.id)
	}
}

func (s *Session) flushRepository(ctx context.Context) {
	if !s.e.Online() {
		return
	}
	if err := s.locate(ctx); err != nil {
		s.logger.Warn("failed to look up repository location", "error", err)
		if core.KindOf(err).IsRetryable() {
			s.e.repoTimers.Reset(s.id)
		}
		return
	}

	s.mu.Lock()
	if s.closed || !s.repoDirty || !s.m.begin() {
		s.mu.Unlock()
		return
	}
	snap := s.snapshot()
	s.mu.Unlock()
	s.e.emit(EventState, s.id, StateSyncing, nil)

	res, err := s.e.repo.sync(ctx, snap.note)

	s.mu.Lock()
	if s.stale(snap) {
		s.m.abandon(s.pending())
		s.mu.Unlock()
		return
	}

	var ce *core.ConflictError
	switch {
	case err == nil:
		moved := s.note.Path != res.Note.Path || s.note.Revision != res.Note.Revision
		s.note.Path = res.Note.Path
		s.note.Revision = res.Note.Revision
		if s.note.CreatedAt.IsZero() {
			s.note.CreatedAt = res.Note.CreatedAt
		}
		s.repoDirty = !s.note.SameContent(snap.note)
		again := s.repoDirty
		s.m.succeed(core.TierRepository, s.pending())
		state, current := s.m.state, s.note.Clone()
		settled, settledAt, announce := s.settledLocked()
		s.mu.Unlock()

		s.logger.Debug("repository synced", "outcome", res.Outcome, "path", current.Path, "revision", current.Revision)
		if err := s.e.cfg.Cache.MarkStored(ctx, s.id, core.EntryFromNote(snap.note)); err != nil {
			s.logger.Warn("failed to record repository write in cache", "error", err)
		}
		if moved {
			s.e.setLocation(ctx, current)
		}
		if again {
			s.e.repoTimers.Reset(s.id)
		}
		s.e.emit(EventState, s.id, state, nil)
		if announce {
			s.publishSaved(ctx, settled, settledAt)
		}

	case errors.As(err, &ce):
		s.m.diverge(ce)
		s.mu.Unlock()
		s.logger.Info("repository conflict", "path", snap.note.Path, "remote_revision", ce.RemoteRevision)
		s.e.emit(EventConflict, s.id, StateConflict, ce)

	default:
		s.m.fail(core.TierRepository, err, s.pending())
		current := s.note.Clone()
		s.mu.Unlock()
		s.logger.Warn("repository sync failed", "error", err, "kind", core.KindOf(err))
		// Keep the content safe locally; the recorded revision is unchanged.
		s.writeCache(ctx, current)
		s.e.emit(EventState, s.id, StateError, err)
		if core.KindOf(err).IsRetryable() {
			s.e.repoTimers.Reset(s.id)
		}
	}
}

// locate fetches the repository address of a note opened from the cache so
// the first repository sync never creates a duplicate file.
func (s *Session) locate(ctx context.Context) error {
	s.mu.Lock()
	if s.located {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	rec, err := s.e.cfg.Metadata.Get(ctx, s.id)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil && s.note.Path == "" {
		s.note.Path, s.note.Revision = rec.Path, rec.Revision
		if s.note.CreatedAt.IsZero() {
			s.note.CreatedAt = rec.CreatedAt
		}
	}
	s.located = true
	return nil
}

// Refresh rechecks the metadata record. Newer remote content is adopted
// when no local edits are pending; otherwise a conflict is opened. Refresh
// does nothing while offline or while a resolution runs.
func (s *Session) Refresh(ctx context.Context) error {
	if !s.e.Online() {
		return nil
	}
	s.mu.Lock()
	if s.closed || s.m.resolving {
		s.mu.Unlock()
		return nil
	}
	snap := s.snapshot()
	s.mu.Unlock()

	rec, err := s.e.cfg.Metadata.Get(ctx, s.id)
	if errors.Is(err, core.ErrNotFound) {
		s.mu.Lock()
		s.located = true
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.stale(snap) || s.m.resolving {
		s.mu.Unlock()
		return nil
	}
	if s.note.Path == "" {
		s.note.Path, s.note.Revision = rec.Path, rec.Revision
	}
	if s.note.CreatedAt.IsZero() {
		s.note.CreatedAt = rec.CreatedAt
	}
	s.located = true

	if !rec.UpdatedAt.After(s.confirmedAt) {
		s.mu.Unlock()
		return nil
	}
	remote := rec.Note()
	if remote.SameContent(s.note) {
		// Our own content, confirmed by a save we have not heard back from.
		s.confirmedAt = rec.UpdatedAt
		s.metaDirty = false
		s.mu.Unlock()
		if err := s.e.cfg.Cache.MarkConfirmed(ctx, s.id, rec.UpdatedAt); err != nil {
			s.logger.Warn("failed to record confirmation in cache", "error", err)
		}
		return nil
	}
	if s.metaDirty {
		ce := &core.ConflictError{
			NoteID:          s.id,
			Tier:            core.TierMetadata,
			Remote:          remote,
			RemoteUpdatedAt: rec.UpdatedAt,
			RemoteRevision:  rec.Revision,
		}
		s.m.open(ce)
		s.mu.Unlock()
		s.e.emit(EventConflict, s.id, StateConflict, ce)
		return nil
	}

	s.adoptLocked(remote, rec.UpdatedAt)
	state := s.m.state
	s.mu.Unlock()

	if err := s.e.cfg.Cache.PutConfirmed(ctx, core.EntryFromNote(remote), rec.UpdatedAt); err != nil {
		s.logger.Warn("cache write failed", "error", err)
	}
	s.e.emit(EventRemote, s.id, state, nil)
	return nil
}

// adoptLocked replaces the note with confirmed remote content. Callers hold mu.
func (s *Session) adoptLocked(remote core.Note, confirmedAt time.Time) {
	path, rev, created := s.note.Path, s.note.Revision, s.note.CreatedAt
	s.note = remote.Clone()
	if s.note.Path == "" {
		s.note.Path, s.note.Revision = path, rev
	}
	if s.note.CreatedAt.IsZero() {
		s.note.CreatedAt = created
	}
	s.confirmedAt = confirmedAt
	s.metaDirty = false
	s.repoDirty = false
	s.m.adopted()
}

// ForceOverwrite resolves the open conflict by writing the local content
// over the repository file and the metadata record.
func (s *Session) ForceOverwrite(ctx context.Context) (core.Note, error) {
	s.mu.Lock()
	if _, err := s.m.beginResolution(); err != nil {
		s.mu.Unlock()
		return core.Note{}, err
	}
	s.epoch++
	local := s.note.Clone()
	s.mu.Unlock()

	s.e.metaTimers.Cancel(s.id)
	s.e.repoTimers.Cancel(s.id)

	n, confirmedAt, err := s.e.forceTiers(ctx, local)

	s.mu.Lock()
	if err != nil {
		s.m.endResolution(false)
		s.mu.Unlock()
		s.logger.Warn("force overwrite failed", "error", err)
		return core.Note{}, err
	}
	s.note = n.Clone()
	s.confirmedAt = confirmedAt
	s.metaDirty = false
	s.repoDirty = false
	s.located = true
	s.m.endResolution(true)
	s.mu.Unlock()

	s.logger.Info("conflict resolved by force overwrite", "path", n.Path, "revision", n.Revision)
	s.e.emit(EventResolved, s.id, StateSynced, nil)
	s.publishSaved(ctx, n, confirmedAt)
	return n, nil
}

// AcceptRemote resolves the open conflict by discarding local pending edits
// and adopting the remote side.
func (s *Session) AcceptRemote(ctx context.Context) (core.Note, error) {
	s.mu.Lock()
	ce, err := s.m.beginResolution()
	if err != nil {
		s.mu.Unlock()
		return core.Note{}, err
	}
	s.epoch++
	local := s.note.Clone()
	s.mu.Unlock()

	s.e.metaTimers.Cancel(s.id)
	s.e.repoTimers.Cancel(s.id)

	remote, confirmedAt, err := s.remoteSide(ctx, ce, local)
	if err == nil {
		err = s.e.cfg.Cache.PutConfirmed(ctx, core.EntryFromNote(remote), confirmedAt)
	}

	s.mu.Lock()
	if err != nil {
		s.m.endResolution(false)
		s.mu.Unlock()
		s.logger.Warn("accept remote failed", "error", err)
		return core.Note{}, err
	}
	s.note = remote.Clone()
	s.confirmedAt = confirmedAt
	s.metaDirty = false
	s.repoDirty = false
	s.located = true
	s.m.endResolution(true)
	s.mu.Unlock()

	s.logger.Info("conflict resolved by accepting remote", "tier", ce.Tier)
	s.e.emit(EventResolved, s.id, StateSynced, nil)
	return remote, nil
}

// remoteSide returns the remote content of ce and its confirmation
// timestamp. Repository content is pushed to the metadata store first so
// the two remote tiers agree.
func (s *Session) remoteSide(ctx context.Context, ce *core.ConflictError, local core.Note) (core.Note, time.Time, error) {
	remote := ce.Remote.Clone()
	if remote.ID == "" {
		remote.ID = s.id
	}
	if remote.FolderID == "" {
		remote.FolderID = local.FolderID
	}
	if ce.Tier == core.TierMetadata && !ce.RemoteUpdatedAt.IsZero() {
		if remote.Path == "" {
			remote.Path, remote.Revision = local.Path, local.Revision
		}
		return remote, ce.RemoteUpdatedAt, nil
	}

	saved, err := s.e.forceMetadata(ctx, remote)
	if err != nil {
		return core.Note{}, time.Time{}, err
	}
	remote.UpdatedAt = saved.UpdatedAt
	return remote, saved.UpdatedAt, nil
}

// settledLocked returns the note to announce once the metadata store has
// confirmed it and the repository holds it at a known revision. Callers
// hold mu.
func (s *Session) settledLocked() (core.Note, time.Time, bool) {
	if s.pending() || s.confirmedAt.IsZero() || s.note.Revision == "" {
		return core.Note{}, time.Time{}, false
	}
	return s.note.Clone(), s.confirmedAt, true
}

func (s *Session) publishSaved(ctx context.Context, n core.Note, confirmedAt time.Time) {
	n = n.Clone()
	s.publish(ctx, bus.Message{Kind: bus.KindSaved, Note: &n, ConfirmedAt: confirmedAt, Revision: n.Revision})
}

func (s *Session) publish(ctx context.Context, msg bus.Message) {
	if s.e.cfg.Bus == nil {
		return
	}
	msg.Topic = bus.Topic
	msg.SessionID = s.e.cfg.SessionID
	msg.NoteID = s.id
	if err := s.e.cfg.Bus.Publish(ctx, msg); err != nil {
		s.logger.Debug("bus publish failed", "kind", msg.Kind, "error", err)
	}
}
