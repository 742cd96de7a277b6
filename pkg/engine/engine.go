// Package engine keeps notes consistent across the local cache, the
// metadata store and the repository.
//
// Every open note is a Session. Edits land in memory first and are pushed
// to each tier by a per-tier debounce timer; the three synchronizers run
// independently and never hold the session lock across a remote call.
// Conflicts stop background syncing for the note until the user resolves
// them with ForceOverwrite or AcceptRemote.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/google/uuid"

	"github.com/YusukeImai797/Gitnote/pkg/bus"
	"github.com/YusukeImai797/Gitnote/pkg/connectivity"
	"github.com/YusukeImai797/Gitnote/pkg/core"
	"github.com/YusukeImai797/Gitnote/pkg/notefile"
	"github.com/YusukeImai797/Gitnote/pkg/schedule"
)

// Default debounce delays.
const (
	DefaultCacheDelay      = 1 * time.Second
	DefaultMetadataDelay   = 3 * time.Second
	DefaultRepositoryDelay = 30 * time.Second
	DefaultEditingThrottle = 2 * time.Second
)

// DefaultTitle is the title given to new drafts.
const DefaultTitle = "Untitled Note"

// ErrClosed is returned by operations on a closed engine or session.
var ErrClosed = errors.New("engine closed")

// Config wires an Engine to its stores.
type Config struct {
	Cache      core.CacheStore
	Metadata   core.MetadataStore
	Repository core.FileStore
	// Bus carries coordination messages between sessions. Optional.
	Bus bus.Broker
	// Connectivity gates every remote call. Defaults to always online.
	Connectivity connectivity.Monitor

	Logger *slog.Logger
	Now    func() time.Time

	CacheDelay      time.Duration
	MetadataDelay   time.Duration
	RepositoryDelay time.Duration
	// EditingThrottle spaces out "editing" announcements for one note.
	EditingThrottle time.Duration

	// DefaultFolder receives notes whose folder is unknown.
	DefaultFolder string
	// Folders maps folder IDs to repository folder paths.
	Folders map[string]string

	// SessionID identifies this engine on the bus. Defaults to a random UUID.
	SessionID string
}

func (c Config) validate() error {
	switch {
	case c.Cache == nil:
		return fmt.Errorf("engine: cache store is required")
	case c.Metadata == nil:
		return fmt.Errorf("engine: metadata store is required")
	case c.Repository == nil:
		return fmt.Errorf("engine: repository store is required")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Connectivity == nil {
		c.Connectivity = connectivity.NewSwitch(true)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.CacheDelay <= 0 {
		c.CacheDelay = DefaultCacheDelay
	}
	if c.MetadataDelay <= 0 {
		c.MetadataDelay = DefaultMetadataDelay
	}
	if c.RepositoryDelay <= 0 {
		c.RepositoryDelay = DefaultRepositoryDelay
	}
	if c.EditingThrottle <= 0 {
		c.EditingThrottle = DefaultEditingThrottle
	}
	if c.DefaultFolder == "" {
		c.DefaultFolder = notefile.DefaultFolder
	}
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	return c
}

// Engine coordinates the sessions of one process.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	repo   *repoSyncer

	cacheTimers *schedule.Debouncer
	metaTimers  *schedule.Debouncer
	repoTimers  *schedule.Debouncer

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	sessions  map[string]*Session
	sub       bus.Subscription
	stopWatch func()
	started   bool
	closed    bool
}

// New creates an engine. Call Start to join the bus and follow connectivity.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	e := &Engine{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "engine", "session", cfg.SessionID),
		events:   make(chan Event, 100),
		sessions: make(map[string]*Session),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.repo = &repoSyncer{store: cfg.Repository, folder: e.folderPath, now: cfg.Now}

	e.cacheTimers = schedule.New(cfg.CacheDelay, func(id string) {
		if s := e.session(id); s != nil {
			s.flushCache(e.ctx)
		}
	})
	e.metaTimers = schedule.New(cfg.MetadataDelay, func(id string) {
		if s := e.session(id); s != nil {
			s.flushMetadata(e.ctx)
		}
	})
	e.repoTimers = schedule.New(cfg.RepositoryDelay, func(id string) {
		if s := e.session(id); s != nil {
			s.flushRepository(e.ctx)
		}
	})
	return e, nil
}

// SessionID returns the identifier this engine uses on the bus.
func (e *Engine) SessionID() string {
	return e.cfg.SessionID
}

// Events returns the stream of sync state changes.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Online reports the current connectivity.
func (e *Engine) Online() bool {
	return e.cfg.Connectivity.Online()
}

// Start subscribes to the coordination topic and to connectivity changes.
// The engine closes itself when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.started {
		return nil
	}

	if e.cfg.Bus != nil {
		sub, err := e.cfg.Bus.Subscribe(bus.Topic, e.handleMessage)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", bus.Topic, err)
		}
		e.sub = sub
	}
	e.stopWatch = e.cfg.Connectivity.Watch(e.handleConnectivity)
	e.started = true

	lifecycle.Go(ctx, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return e.Close()
		case <-e.ctx.Done():
			return nil
		}
	})
	return nil
}

// Close writes pending edits to the cache and stops every timer. In-flight
// remote calls finish but their results are discarded.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	sub, stopWatch := e.sub, e.stopWatch
	e.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if stopWatch != nil {
		stopWatch()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range sessions {
		s.close(ctx)
	}

	for _, d := range []*schedule.Debouncer{e.cacheTimers, e.metaTimers, e.repoTimers} {
		if !d.Stop(5 * time.Second) {
			e.logger.Warn("timed out waiting for sync callbacks")
		}
	}
	e.cancel()
	return nil
}

func (e *Engine) session(id string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[id]
}

func (e *Engine) openSessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// register stores s unless a session for the same note won the race.
func (e *Engine) register(s *Session) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if existing, ok := e.sessions[s.id]; ok {
		return existing, nil
	}
	e.sessions[s.id] = s
	return s, nil
}

func (e *Engine) unregister(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessions[s.id] == s {
		delete(e.sessions, s.id)
	}
}

func (e *Engine) folderPath(folderID string) string {
	if p, ok := e.cfg.Folders[folderID]; ok && p != "" {
		return p
	}
	return e.cfg.DefaultFolder
}

func (e *Engine) now() time.Time {
	return e.cfg.Now()
}

// Create starts a new draft in folderID. The draft is written to the cache
// before any remote write.
func (e *Engine) Create(ctx context.Context, folderID string) (*Session, error) {
	now := e.now()
	n := core.Note{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		Tags:      []string{},
		FolderID:  folderID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.cfg.Cache.Put(ctx, core.EntryFromNote(n)); err != nil {
		return nil, fmt.Errorf("failed to store draft: %w", err)
	}
	s := newSession(e, n, time.Time{})
	s.located = true
	s.metaDirty = true
	s.repoDirty = true
	return e.register(s)
}

// Open returns the session for id, loading the note when it is not open.
// A cached note is returned immediately and reconciled with the metadata
// store in the background; otherwise the metadata record is fetched.
func (e *Engine) Open(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, core.Errorf(core.KindValidation, "engine.open", "note ID cannot be empty")
	}
	if s := e.session(id); s != nil {
		return s, nil
	}

	entry, ok, err := e.cfg.Cache.Get(ctx, id)
	if err != nil {
		e.logger.Warn("cache read failed, loading from metadata store", "note", id, "error", err)
	}
	if err == nil && ok {
		n := entry.Apply(core.Note{})
		s := newSession(e, n, entry.ConfirmedAt)
		s.metaDirty = entry.Unconfirmed()
		s.repoDirty = entry.Unsynced()
		s, err := e.register(s)
		if err != nil {
			return nil, err
		}
		lifecycle.Go(e.ctx, func(ctx context.Context) error {
			if err := s.Refresh(ctx); err != nil {
				s.logger.Debug("background refresh failed", "error", err)
			}
			return nil
		})
		return s, nil
	}

	if !e.Online() {
		return nil, core.E(core.KindNetwork, "engine.open", core.ErrOffline)
	}
	rec, err := e.cfg.Metadata.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.cfg.Cache.PutConfirmed(ctx, entryFromRecord(rec), rec.UpdatedAt); err != nil {
		e.logger.Warn("failed to cache loaded note", "note", id, "error", err)
	}
	s := newSession(e, rec.Note(), rec.UpdatedAt)
	s.located = true
	return e.register(s)
}

// LoadNote returns the note and its confirmation timestamp.
func (e *Engine) LoadNote(ctx context.Context, id string) (core.Note, time.Time, error) {
	s, err := e.Open(ctx, id)
	if err != nil {
		return core.Note{}, time.Time{}, err
	}
	return s.Note(), s.ConfirmedAt(), nil
}

// SaveMetadata writes note to the metadata store under the optimistic lock
// without involving a session.
func (e *Engine) SaveMetadata(ctx context.Context, note core.Note, expected time.Time) (core.Note, time.Time, error) {
	if !e.Online() {
		return core.Note{}, time.Time{}, core.E(core.KindNetwork, "engine.save_metadata", core.ErrOffline)
	}
	saved, err := e.cfg.Metadata.Save(ctx, core.RecordFromNote(note, notefile.WordCount(note.Body)), expected)
	if err != nil {
		return core.Note{}, time.Time{}, err
	}
	return saved.Note(), saved.UpdatedAt, nil
}

// SaveToRepository writes note to the repository without involving a
// session and records the new location on the metadata record.
func (e *Engine) SaveToRepository(ctx context.Context, note core.Note) (core.Note, error) {
	if !e.Online() {
		return core.Note{}, core.E(core.KindNetwork, "engine.save_repository", core.ErrOffline)
	}
	res, err := e.repo.sync(ctx, note)
	if err != nil {
		return core.Note{}, err
	}
	out := note.Clone()
	out.Path = res.Note.Path
	out.Revision = res.Note.Revision
	if out.CreatedAt.IsZero() {
		out.CreatedAt = res.Note.CreatedAt
	}
	if out.Path != note.Path || out.Revision != note.Revision {
		e.setLocation(ctx, out)
	}
	return out, nil
}

// setLocation records the repository address on the metadata record. A
// missing record is left alone; the next metadata save carries the address.
func (e *Engine) setLocation(ctx context.Context, n core.Note) {
	err := e.cfg.Metadata.SetLocation(ctx, n.ID, n.Path, n.Revision)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		e.logger.Warn("failed to record repository location", "note", n.ID, "path", n.Path, "error", err)
	}
}

// ForceOverwrite resolves the conflict of the note's session with note's
// content. Without an open conflict, the content is forced onto both remote
// tiers directly.
func (e *Engine) ForceOverwrite(ctx context.Context, note core.Note) (core.Note, error) {
	if s := e.session(note.ID); s != nil && s.Status() == StateConflict {
		if err := s.Edit(note); err != nil {
			return core.Note{}, err
		}
		return s.ForceOverwrite(ctx)
	}
	if !e.Online() {
		return core.Note{}, core.E(core.KindNetwork, "engine.force", core.ErrOffline)
	}
	n, _, err := e.forceTiers(ctx, note)
	return n, err
}

// AcceptRemote resolves the conflict of an open session by adopting the
// remote side.
func (e *Engine) AcceptRemote(ctx context.Context, id string) (core.Note, error) {
	s := e.session(id)
	if s == nil {
		return core.Note{}, core.E(core.KindNoConflict, "engine.accept_remote", nil)
	}
	return s.AcceptRemote(ctx)
}

// forceTiers writes n over whatever the repository and metadata store hold.
func (e *Engine) forceTiers(ctx context.Context, n core.Note) (core.Note, time.Time, error) {
	if err := e.cfg.Cache.Put(ctx, core.EntryFromNote(n)); err != nil {
		e.logger.Warn("cache write failed", "note", n.ID, "error", err)
	}

	res, err := e.repo.force(ctx, n)
	if err != nil {
		return core.Note{}, time.Time{}, err
	}
	n = n.Clone()
	n.Path = res.Note.Path
	n.Revision = res.Note.Revision
	if n.CreatedAt.IsZero() {
		n.CreatedAt = res.Note.CreatedAt
	}

	saved, err := e.forceMetadata(ctx, n)
	if err != nil {
		return core.Note{}, time.Time{}, err
	}
	n.UpdatedAt = saved.UpdatedAt
	if err := e.cfg.Cache.PutConfirmed(ctx, core.EntryFromNote(n), saved.UpdatedAt); err != nil {
		e.logger.Warn("cache write failed", "note", n.ID, "error", err)
	}
	return n, saved.UpdatedAt, nil
}

// forceMetadata saves n expecting whatever the store holds now. One retry
// covers a writer slipping in between the read and the save.
func (e *Engine) forceMetadata(ctx context.Context, n core.Note) (core.MetadataRecord, error) {
	rec := core.RecordFromNote(n, notefile.WordCount(n.Body))
	var expected time.Time
	current, err := e.cfg.Metadata.Get(ctx, n.ID)
	switch {
	case err == nil:
		expected = current.UpdatedAt
	case !errors.Is(err, core.ErrNotFound):
		return core.MetadataRecord{}, err
	}

	saved, err := e.cfg.Metadata.Save(ctx, rec, expected)
	var ce *core.ConflictError
	if errors.As(err, &ce) {
		saved, err = e.cfg.Metadata.Save(ctx, rec, ce.RemoteUpdatedAt)
	}
	return saved, err
}

// Unsynced lists cached notes with edits missing from a remote tier.
func (e *Engine) Unsynced(ctx context.Context) ([]core.CacheEntry, error) {
	return e.cfg.Cache.Unsynced(ctx)
}

type cacheLister interface {
	List(ctx context.Context) ([]core.CacheEntry, error)
}

// MostRecent returns the most recently edited cached note.
func (e *Engine) MostRecent(ctx context.Context) (core.CacheEntry, bool, error) {
	l, ok := e.cfg.Cache.(cacheLister)
	if !ok {
		return core.CacheEntry{}, false, fmt.Errorf("cache store cannot list entries")
	}
	entries, err := l.List(ctx)
	if err != nil || len(entries) == 0 {
		return core.CacheEntry{}, false, err
	}
	best := entries[0]
	for _, en := range entries[1:] {
		if en.LocalEditedAt.After(best.LocalEditedAt) {
			best = en
		}
	}
	return best, true, nil
}

// Resume reopens every note with unsynced edits and schedules its flushes.
// It returns the opened sessions.
func (e *Engine) Resume(ctx context.Context) ([]*Session, error) {
	entries, err := e.cfg.Cache.Unsynced(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced notes: %w", err)
	}
	out := make([]*Session, 0, len(entries))
	for _, entry := range entries {
		s, err := e.Open(ctx, entry.ID)
		if err != nil {
			e.logger.Warn("failed to resume note", "note", entry.ID, "error", err)
			continue
		}
		s.mu.Lock()
		s.metaDirty = s.metaDirty || entry.Unconfirmed()
		s.repoDirty = s.repoDirty || entry.Unsynced()
		meta, repo := s.metaDirty, s.repoDirty
		s.mu.Unlock()
		if meta {
			e.metaTimers.Reset(s.id)
		}
		if repo {
			e.repoTimers.Reset(s.id)
		}
		out = append(out, s)
	}
	return out, nil
}

// SyncNote runs every pending flush for id now and reports the outcome.
func (e *Engine) SyncNote(ctx context.Context, id string) error {
	s := e.session(id)
	if s == nil {
		return core.Errorf(core.KindNotFound, "engine.sync", "note %s is not open", id)
	}
	return s.Sync(ctx)
}

// Sync flushes every open session, then exchanges changes with the
// repository upstream when the repository supports it.
func (e *Engine) Sync(ctx context.Context) error {
	var errs []error
	for _, s := range e.openSessions() {
		if err := s.Sync(ctx); err != nil {
			errs = append(errs, fmt.Errorf("note %s: %w", s.id, err))
		}
	}
	if syncer, ok := e.cfg.Repository.(core.Syncable); ok && e.Online() {
		if err := syncer.Sync(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func entryFromRecord(rec core.MetadataRecord) core.CacheEntry {
	return core.EntryFromNote(rec.Note())
}
