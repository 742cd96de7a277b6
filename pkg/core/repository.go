package core

import (
	"context"
	"time"
)

// DefaultTolerance is the optimistic lock margin used by metadata stores.
// It absorbs clock skew and rapid re-saves from the same device.
const DefaultTolerance = 5000 * time.Millisecond

// PutOptions tunes a cache write.
type PutOptions struct {
	// OverwriteConfirmed makes Put store entry.ConfirmedAt as given instead of
	// preserving the stored value.
	OverwriteConfirmed bool
}

// PutOption configures a single Put call.
type PutOption func(*PutOptions)

// OverwriteConfirmed disables the preserve-confirmedAt rule for one Put.
func OverwriteConfirmed() PutOption {
	return func(o *PutOptions) {
		o.OverwriteConfirmed = true
	}
}

// CacheStore is the local persistent cache, keyed by note ID.
//
// Every writer goes through Put, MarkConfirmed or PutConfirmed; Put never
// resets ConfirmedAt unless OverwriteConfirmed is passed explicitly.
type CacheStore interface {
	// Put stores the content of entry and flags it pending for the
	// repository. LocalEditedAt defaults to the store's clock and is kept
	// strictly after both the previous LocalEditedAt and the stored
	// ConfirmedAt.
	Put(ctx context.Context, entry CacheEntry, opts ...PutOption) error

	// Get returns the entry for id and whether it exists.
	Get(ctx context.Context, id string) (CacheEntry, bool, error)

	// MarkConfirmed records a server-provided confirmation timestamp for the
	// stored content. Content edited after the confirmed save must be Put
	// again so it reads as unsynced.
	MarkConfirmed(ctx context.Context, id string, confirmedAt time.Time) error

	// MarkStored records that the repository holds content. The pending
	// flag is only cleared while the entry still carries that content.
	MarkStored(ctx context.Context, id string, content CacheEntry) error

	// PutConfirmed stores remote content verbatim with LocalEditedAt and
	// ConfirmedAt both set to confirmedAt. The entry is not pending.
	PutConfirmed(ctx context.Context, entry CacheEntry, confirmedAt time.Time) error

	// Delete evicts the entry for id. Deleting a missing entry is not an error.
	Delete(ctx context.Context, id string) error

	// Unsynced lists entries holding edits not yet confirmed by the metadata
	// store or not yet written to the repository.
	Unsynced(ctx context.Context) ([]CacheEntry, error)
}

// MetadataStore is the authoritative low-latency store.
type MetadataStore interface {
	// Get returns the record for id or an error matching ErrNotFound.
	Get(ctx context.Context, id string) (MetadataRecord, error)

	// Save writes rec under an optimistic lock. expected is the caller's last
	// confirmed timestamp; the zero value asserts the record does not exist yet.
	// The save is rejected with a *ConflictError carrying the stored record
	// when the stored UpdatedAt exceeds expected by more than the tolerance.
	// Empty Path and Revision fields leave the stored values untouched.
	// On success the stored record, with its new UpdatedAt, is returned.
	Save(ctx context.Context, rec MetadataRecord, expected time.Time) (MetadataRecord, error)

	// SetLocation records where the repository tier stored the note without
	// touching UpdatedAt, so it never invalidates another writer's lock.
	SetLocation(ctx context.Context, id, path, revision string) error

	// Delete removes the record for id. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error

	// List returns every record, most recently updated first.
	List(ctx context.Context) ([]MetadataRecord, error)
}

// FileStore is the durable, revision-tracked repository tier.
// Commit messages are taken from the context (see WithChangeReason).
type FileStore interface {
	// Get fetches the file at path or returns an error matching ErrNotFound.
	Get(ctx context.Context, path string) (RepositoryFile, error)

	// Put writes content at path and returns the new revision.
	// baseRevision must equal the stored revision; an empty baseRevision
	// creates the file and fails if it already exists.
	Put(ctx context.Context, path string, content []byte, baseRevision string) (string, error)

	// Delete removes the file at path when its revision equals baseRevision.
	Delete(ctx context.Context, path string, baseRevision string) error
}

// Syncable is implemented by file stores that can exchange changes with an
// upstream (e.g. git pull/push).
type Syncable interface {
	Sync(ctx context.Context) error
}

// WithinTolerance reports whether a stored timestamp is still acceptable for
// a writer that last confirmed expected.
func WithinTolerance(stored, expected time.Time, tolerance time.Duration) bool {
	return stored.Sub(expected) <= tolerance
}
