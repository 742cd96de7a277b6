// Package cache implements the local persistent cache as a JSON index file
// under the workspace system directory.
//
// The file is shared by every process working on the same workspace: each
// operation takes a lock file, reloads the index, applies its change and
// writes it back atomically.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/YusukeImai797/Gitnote/internal/fsutil"
	"github.com/YusukeImai797/Gitnote/pkg/core"
)

const (
	indexVersion = 1
	// FileName is the name of the index file inside the system directory.
	FileName = "cache.json"
)

// index represents the persistent cache state.
type index struct {
	Version int                        `json:"version"`
	Entries map[string]core.CacheEntry `json:"entries"` // Key is the note ID
}

// Config configures a Store.
type Config struct {
	// Dir is the directory holding the index file (e.g. {root}/.gitnote).
	Dir    string
	Logger *slog.Logger
	// Now overrides the clock used for LocalEditedAt. Defaults to time.Now.
	Now func() time.Time
}

// Store is a core.CacheStore backed by a JSON file.
type Store struct {
	path     string
	lockPath string
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSize int
	lastLoad time.Time
}

var _ core.CacheStore = (*Store)(nil)

// New creates a cache store in cfg.Dir. The file is created on first write.
func New(cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		path:     filepath.Join(cfg.Dir, FileName),
		lockPath: filepath.Join(cfg.Dir, FileName+".lock"),
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// Path returns the location of the index file.
func (s *Store) Path() string {
	return s.path
}

// load reads the index from disk. If not found or invalid, returns an empty
// index (no error).
func (s *Store) load() (*index, error) {
	idx := &index{Version: indexVersion, Entries: make(map[string]core.CacheEntry)}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return idx, nil // Start fresh
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	if err := json.Unmarshal(data, idx); err != nil {
		// Corruption self-heals to an empty cache; the remote tiers still
		// hold every confirmed note.
		s.logger.Warn("cache index corrupted, starting empty", "path", s.path, "error", err)
		return &index{Version: indexVersion, Entries: make(map[string]core.CacheEntry)}, nil
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]core.CacheEntry)
	}
	return idx, nil
}

func (s *Store) save(idx *index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// view runs fn against a fresh copy of the index.
func (s *Store) view(ctx context.Context, fn func(idx *index)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := fsutil.Lock(ctx, s.lockPath)
	if err != nil {
		return err
	}
	defer unlock()

	idx, err := s.load()
	if err != nil {
		return err
	}
	s.remember(idx)
	fn(idx)
	return nil
}

// update runs fn against the index and persists the result when fn reports
// a change.
func (s *Store) update(ctx context.Context, fn func(idx *index) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := fsutil.Lock(ctx, s.lockPath)
	if err != nil {
		return err
	}
	defer unlock()

	idx, err := s.load()
	if err != nil {
		return err
	}
	changed, err := fn(idx)
	if err != nil {
		return err
	}
	s.remember(idx)
	if !changed {
		return nil
	}
	return s.save(idx)
}

func (s *Store) remember(idx *index) {
	s.lastSize = len(idx.Entries)
	s.lastLoad = s.now()
}

func validateID(op, id string) error {
	if id == "" {
		return core.Errorf(core.KindValidation, op, "note ID cannot be empty")
	}
	return nil
}

// Put stores the content of entry, preserving the stored ConfirmedAt unless
// core.OverwriteConfirmed is given. The entry is pending for the repository
// until MarkStored.
func (s *Store) Put(ctx context.Context, entry core.CacheEntry, opts ...core.PutOption) error {
	if err := validateID("cache.put", entry.ID); err != nil {
		return err
	}
	var o core.PutOptions
	for _, opt := range opts {
		opt(&o)
	}

	return s.update(ctx, func(idx *index) (bool, error) {
		prev, exists := idx.Entries[entry.ID]

		e := entry
		e.Tags = slices.Clone(entry.Tags)
		e.RepositoryPending = true
		if e.LocalEditedAt.IsZero() {
			e.LocalEditedAt = s.now()
		}

		if !o.OverwriteConfirmed {
			e.ConfirmedAt = prev.ConfirmedAt
			// A local edit must always read as newer than anything the store
			// has seen, even when the device clock lags the server.
			if exists && !e.LocalEditedAt.After(prev.LocalEditedAt) {
				e.LocalEditedAt = prev.LocalEditedAt.Add(time.Millisecond)
			}
			if !e.LocalEditedAt.After(e.ConfirmedAt) {
				e.LocalEditedAt = e.ConfirmedAt.Add(time.Millisecond)
			}
		}

		idx.Entries[e.ID] = e
		return true, nil
	})
}

// Get retrieves the entry for id.
func (s *Store) Get(ctx context.Context, id string) (core.CacheEntry, bool, error) {
	var (
		entry core.CacheEntry
		ok    bool
	)
	err := s.view(ctx, func(idx *index) {
		entry, ok = idx.Entries[id]
	})
	return entry, ok, err
}

// MarkConfirmed records that the stored content was confirmed at
// confirmedAt. The entry reads as synced afterwards even when the server
// clock lags ours. Unknown IDs are ignored.
func (s *Store) MarkConfirmed(ctx context.Context, id string, confirmedAt time.Time) error {
	if err := validateID("cache.mark_confirmed", id); err != nil {
		return err
	}
	return s.update(ctx, func(idx *index) (bool, error) {
		e, ok := idx.Entries[id]
		if !ok {
			return false, nil
		}
		e.ConfirmedAt = confirmedAt
		if e.LocalEditedAt.After(confirmedAt) {
			e.LocalEditedAt = confirmedAt
		}
		idx.Entries[id] = e
		return true, nil
	})
}

// MarkStored clears the repository flag of id when the entry still holds
// the title, body, tags and folder of content. Unknown IDs are ignored.
func (s *Store) MarkStored(ctx context.Context, id string, content core.CacheEntry) error {
	if err := validateID("cache.mark_stored", id); err != nil {
		return err
	}
	return s.update(ctx, func(idx *index) (bool, error) {
		e, ok := idx.Entries[id]
		if !ok || !e.RepositoryPending {
			return false, nil
		}
		if !e.Apply(core.Note{}).SameContent(content.Apply(core.Note{})) {
			return false, nil
		}
		e.RepositoryPending = false
		idx.Entries[id] = e
		return true, nil
	})
}

// PutConfirmed stores remote content with both timestamps set to confirmedAt.
func (s *Store) PutConfirmed(ctx context.Context, entry core.CacheEntry, confirmedAt time.Time) error {
	if err := validateID("cache.put_confirmed", entry.ID); err != nil {
		return err
	}
	return s.update(ctx, func(idx *index) (bool, error) {
		e := entry
		e.Tags = slices.Clone(entry.Tags)
		e.LocalEditedAt = confirmedAt
		e.ConfirmedAt = confirmedAt
		e.RepositoryPending = false
		idx.Entries[e.ID] = e
		return true, nil
	})
}

// Delete evicts the entry for id.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.update(ctx, func(idx *index) (bool, error) {
		if _, ok := idx.Entries[id]; !ok {
			return false, nil
		}
		delete(idx.Entries, id)
		return true, nil
	})
}

// Unsynced lists entries with edits missing from a remote tier, most
// recent edit first.
func (s *Store) Unsynced(ctx context.Context) ([]core.CacheEntry, error) {
	var out []core.CacheEntry
	err := s.view(ctx, func(idx *index) {
		for _, e := range idx.Entries {
			if e.Unsynced() {
				out = append(out, e)
			}
		}
	})
	sortByEdit(out)
	return out, err
}

// List returns every entry, most recent edit first.
func (s *Store) List(ctx context.Context) ([]core.CacheEntry, error) {
	var out []core.CacheEntry
	err := s.view(ctx, func(idx *index) {
		for _, e := range idx.Entries {
			out = append(out, e)
		}
	})
	sortByEdit(out)
	return out, err
}

// MostRecent returns the most recently edited entry.
func (s *Store) MostRecent(ctx context.Context) (core.CacheEntry, bool, error) {
	all, err := s.List(ctx)
	if err != nil || len(all) == 0 {
		return core.CacheEntry{}, false, err
	}
	return all[0], true, nil
}

func sortByEdit(entries []core.CacheEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LocalEditedAt.Equal(entries[j].LocalEditedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].LocalEditedAt.After(entries[j].LocalEditedAt)
	})
}
