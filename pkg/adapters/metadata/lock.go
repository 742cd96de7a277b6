// Package metadata provides the authoritative metadata stores: an in-memory
// store and a SQLite store. Both apply the same optimistic lock with a
// tolerance window and assign UpdatedAt from their own clock.
package metadata

import (
	"slices"
	"time"

	"github.com/YusukeImai797/Gitnote/pkg/core"
)

// Options shared by the store implementations.
type Options struct {
	// Tolerance is the optimistic lock margin. Defaults to core.DefaultTolerance.
	Tolerance time.Duration
	// Now is the server clock. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Tolerance <= 0 {
		o.Tolerance = core.DefaultTolerance
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// resolveSave decides the outcome of saving rec over stored (nil when no
// record exists) for a writer that last confirmed expected.
func resolveSave(stored *core.MetadataRecord, rec core.MetadataRecord, expected time.Time, o Options) (core.MetadataRecord, error) {
	if rec.ID == "" {
		return core.MetadataRecord{}, core.Errorf(core.KindValidation, "metadata.save", "note ID cannot be empty")
	}

	now := time.UnixMilli(o.Now().UnixMilli())
	next := rec
	next.Tags = slices.Clone(rec.Tags)
	if next.Tags == nil {
		next.Tags = []string{}
	}

	if stored == nil {
		// A record deleted elsewhere is recreated: the writer still holds the
		// only copy of its content.
		if next.CreatedAt.IsZero() {
			next.CreatedAt = now
		}
		next.UpdatedAt = now
		return next, nil
	}

	if expected.IsZero() || !core.WithinTolerance(stored.UpdatedAt, expected, o.Tolerance) {
		return core.MetadataRecord{}, &core.ConflictError{
			NoteID:          stored.ID,
			Tier:            core.TierMetadata,
			Remote:          stored.Note(),
			RemoteUpdatedAt: stored.UpdatedAt,
			RemoteRevision:  stored.Revision,
		}
	}

	if next.Path == "" {
		next.Path = stored.Path
	}
	if next.Revision == "" {
		next.Revision = stored.Revision
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = stored.CreatedAt
	}
	next.UpdatedAt = now
	if next.UpdatedAt.Before(stored.UpdatedAt) {
		next.UpdatedAt = stored.UpdatedAt
	}
	return next, nil
}
