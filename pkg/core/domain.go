// Package core holds the domain model of the sync engine and the contracts
// every storage tier must satisfy.
package core

import (
	"context"
	"slices"
	"time"
)

// Note is the logical document the user edits.
// Path and Revision address the file in the repository tier; both are empty
// until the note has been written there for the first time.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags"`
	FolderID  string    `json:"folderId,omitempty"`
	Path      string    `json:"path,omitempty"`
	Revision  string    `json:"revision,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SameContent reports whether two notes carry identical user content.
// Timestamps and repository addressing are ignored.
func (n Note) SameContent(o Note) bool {
	return n.Title == o.Title &&
		n.Body == o.Body &&
		n.FolderID == o.FolderID &&
		slices.Equal(n.Tags, o.Tags)
}

// Clone returns a deep copy of the note.
func (n Note) Clone() Note {
	n.Tags = slices.Clone(n.Tags)
	return n
}

// CacheEntry is the per-device projection of a note kept by the local cache.
type CacheEntry struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	Tags          []string  `json:"tags"`
	FolderID      string    `json:"folderRef,omitempty"`
	LocalEditedAt time.Time `json:"localEditedAt"`
	// ConfirmedAt is only ever assigned from a timestamp returned by a remote
	// store. The zero value means the note was never confirmed.
	ConfirmedAt time.Time `json:"confirmedAt"`
	// RepositoryPending is set by every local write and cleared once the
	// repository holds this content.
	RepositoryPending bool `json:"repositoryPending,omitempty"`
}

// Unconfirmed reports whether the entry holds edits the metadata store has
// not confirmed yet.
func (e CacheEntry) Unconfirmed() bool {
	return e.LocalEditedAt.After(e.ConfirmedAt)
}

// Unsynced reports whether the entry holds edits that have not reached
// every remote tier.
func (e CacheEntry) Unsynced() bool {
	return e.Unconfirmed() || e.RepositoryPending
}

// Apply copies the content fields of e onto n.
func (e CacheEntry) Apply(n Note) Note {
	n.ID = e.ID
	n.Title = e.Title
	n.Body = e.Body
	n.Tags = slices.Clone(e.Tags)
	n.FolderID = e.FolderID
	return n
}

// EntryFromNote builds a cache entry carrying the content of n.
// Timestamps are left for the cache store to assign.
func EntryFromNote(n Note) CacheEntry {
	return CacheEntry{
		ID:       n.ID,
		Title:    n.Title,
		Body:     n.Body,
		Tags:     slices.Clone(n.Tags),
		FolderID: n.FolderID,
	}
}

// MetadataRecord is the row held by the authoritative metadata store.
type MetadataRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags"`
	FolderID  string    `json:"folderId,omitempty"`
	Path      string    `json:"path,omitempty"`
	Revision  string    `json:"revision,omitempty"`
	WordCount int       `json:"wordCount"`
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is assigned by the store and never decreases for an ID.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Note converts the record into a note.
func (r MetadataRecord) Note() Note {
	return Note{
		ID:        r.ID,
		Title:     r.Title,
		Body:      r.Body,
		Tags:      slices.Clone(r.Tags),
		FolderID:  r.FolderID,
		Path:      r.Path,
		Revision:  r.Revision,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// RecordFromNote builds a metadata record from a note. UpdatedAt is left to
// the store.
func RecordFromNote(n Note, wordCount int) MetadataRecord {
	return MetadataRecord{
		ID:        n.ID,
		Title:     n.Title,
		Body:      n.Body,
		Tags:      slices.Clone(n.Tags),
		FolderID:  n.FolderID,
		Path:      n.Path,
		Revision:  n.Revision,
		WordCount: wordCount,
		CreatedAt: n.CreatedAt,
	}
}

// RepositoryFile is a file as stored by the repository tier.
type RepositoryFile struct {
	Path string
	// Revision is a hash of Content: identical bytes yield the same revision.
	Revision string
	Content  []byte
}

// Tier names one of the three storage tiers.
type Tier string

const (
	TierCache      Tier = "cache"
	TierMetadata   Tier = "metadata"
	TierRepository Tier = "repository"
)

type contextKey string

// ChangeReasonKey is the context key carrying the commit message for
// repository writes and deletes.
const ChangeReasonKey contextKey = "change_reason"

// WithChangeReason returns a context carrying msg as the change reason.
func WithChangeReason(ctx context.Context, msg string) context.Context {
	return context.WithValue(ctx, ChangeReasonKey, msg)
}

// ChangeReason extracts the change reason from ctx, or fallback when unset.
func ChangeReason(ctx context.Context, fallback string) string {
	if msg, ok := ctx.Value(ChangeReasonKey).(string); ok && msg != "" {
		return msg
	}
	return fallback
}
