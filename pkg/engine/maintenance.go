package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/YusukeImai797/Gitnote/pkg/core"
	"github.com/YusukeImai797/Gitnote/pkg/notefile"
)

const (
	stepAttempts = 3
	stepBackoff  = 200 * time.Millisecond
)

// retryStep runs fn until it succeeds, fails permanently or runs out of
// attempts.
func retryStep(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < stepAttempts; attempt++ {
		if err = fn(); err == nil || !core.KindOf(err).IsRetryable() {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(stepBackoff << attempt):
		}
	}
	return err
}

// Delete removes the note from the repository, the metadata store and the
// cache, in that order. Each step is idempotent, so a failed delete can
// simply be repeated.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if !e.Online() {
		return core.E(core.KindNetwork, "engine.delete", core.ErrOffline)
	}

	var n core.Note
	if s := e.session(id); s != nil {
		n = s.Note()
		if err := s.Close(ctx); err != nil {
			return err
		}
	} else if entry, ok, err := e.cfg.Cache.Get(ctx, id); err == nil && ok {
		n = entry.Apply(core.Note{})
	}
	n.ID = id

	rec, err := e.cfg.Metadata.Get(ctx, id)
	switch {
	case err == nil:
		if n.Path == "" {
			n.Path = rec.Path
		}
		if n.Title == "" {
			n.Title = rec.Title
		}
	case !errors.Is(err, core.ErrNotFound):
		return err
	}

	if n.Path != "" {
		rctx := core.WithChangeReason(ctx, notefile.CommitMessage(notefile.ActionDelete, n.Title))
		err := retryStep(ctx, func() error {
			err := e.cfg.Repository.Delete(rctx, n.Path, "")
			if errors.Is(err, core.ErrNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to delete repository file %s: %w", n.Path, err)
		}
	}
	if err := retryStep(ctx, func() error { return e.cfg.Metadata.Delete(ctx, id) }); err != nil {
		return fmt.Errorf("failed to delete metadata record: %w", err)
	}
	if err := e.cfg.Cache.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to evict cache entry: %w", err)
	}

	e.logger.Info("note deleted", "note", id, "path", n.Path)
	e.emit(EventDeleted, id, "", nil)
	return nil
}

// Move puts the note into folderID. A note already in the repository is
// written at its new path before the old file is removed.
func (e *Engine) Move(ctx context.Context, id, folderID string) (core.Note, error) {
	s, err := e.Open(ctx, id)
	if err != nil {
		return core.Note{}, err
	}
	if e.Online() {
		if err := s.locate(ctx); err != nil {
			return core.Note{}, err
		}
	}

	s.mu.Lock()
	switch {
	case s.m.resolving:
		s.mu.Unlock()
		return core.Note{}, core.E(core.KindInResolution, "engine.move", nil)
	case s.m.conflict != nil:
		ce := s.m.conflict
		s.mu.Unlock()
		return core.Note{}, ce
	}
	n := s.note.Clone()
	s.mu.Unlock()

	folder := e.folderPath(folderID)
	n.FolderID = folderID

	relocated := false
	if n.Path != "" && notefile.Rebase(n.Path, folder) != n.Path {
		if !e.Online() {
			return core.Note{}, core.E(core.KindNetwork, "engine.move", core.ErrOffline)
		}
		moved, err := e.moveFile(ctx, n, folder)
		if err != nil {
			return core.Note{}, err
		}
		n = moved
		relocated = true
	}

	s.mu.Lock()
	s.note.FolderID = folderID
	repoSynced := relocated && s.note.SameContent(n)
	s.note.Path = n.Path
	s.note.Revision = n.Revision
	s.metaDirty = true
	if repoSynced {
		s.repoDirty = false
	}
	s.mu.Unlock()

	s.flushCache(ctx)
	if repoSynced {
		if err := e.cfg.Cache.MarkStored(ctx, id, core.EntryFromNote(n)); err != nil {
			e.logger.Warn("failed to record repository write in cache", "note", id, "error", err)
		}
	}
	s.flushMetadata(ctx)
	if s.Pending() {
		e.repoTimers.Reset(id)
	}
	return s.Note(), nil
}

func (e *Engine) moveFile(ctx context.Context, n core.Note, folder string) (core.Note, error) {
	oldPath, oldRev := n.Path, n.Revision
	newPath := notefile.Rebase(oldPath, folder)
	mctx := core.WithChangeReason(ctx, notefile.MoveMessage(n.Title, folder))

	created := n.CreatedAt
	if created.IsZero() {
		created = e.now()
	}
	doc := notefile.FromNote(n, created, e.now())
	rev, err := e.cfg.Repository.Put(mctx, newPath, notefile.Encode(doc), "")
	if err != nil {
		return core.Note{}, fmt.Errorf("failed to write %s: %w", newPath, err)
	}
	n.Path, n.Revision, n.CreatedAt = newPath, rev, created

	err = e.cfg.Repository.Delete(mctx, oldPath, oldRev)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		// The note now lives at newPath; report the stale copy.
		e.logger.Warn("failed to remove old file after move", "note", n.ID, "path", oldPath, "error", err)
	}
	e.setLocation(ctx, n)
	return n, nil
}
