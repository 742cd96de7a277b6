package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/YusukeImai797/Gitnote/pkg/core"
	"github.com/YusukeImai797/Gitnote/pkg/notefile"
)

// maxCreateAttempts bounds the path suffix bumps when a derived path is taken.
const maxCreateAttempts = 5

// repoOutcome describes what a repository sync did.
type repoOutcome string

const (
	outcomeCreated   repoOutcome = "created"
	outcomeWritten   repoOutcome = "written"
	outcomeAdopted   repoOutcome = "adopted"
	outcomeUnchanged repoOutcome = "unchanged"
)

// repoResult is the note as addressed in the repository after a sync.
type repoResult struct {
	Note    core.Note
	Outcome repoOutcome
}

// repoSyncer writes notes to a core.FileStore, comparing content rather than
// revisions before declaring a conflict.
type repoSyncer struct {
	store  core.FileStore
	folder func(folderID string) string
	now    func() time.Time
}

func (r *repoSyncer) sync(ctx context.Context, n core.Note) (repoResult, error) {
	if n.Path == "" {
		return r.create(ctx, n, "")
	}

	remote, err := r.store.Get(ctx, n.Path)
	if errors.Is(err, core.ErrNotFound) {
		return r.create(ctx, n, n.Path)
	}
	if err != nil {
		return repoResult{}, err
	}
	remoteDoc := decodeRemote(remote.Content)
	local := notefile.FromNote(n, createdAt(n, remoteDoc, r.now()), r.now())

	if n.Revision != remote.Revision {
		return r.reconcile(n, local, remote, remoteDoc)
	}
	if notefile.Identical(local, remoteDoc) {
		return repoResult{Note: adopt(n, remote, remoteDoc), Outcome: outcomeUnchanged}, nil
	}
	return r.write(ctx, n, local, remote.Revision, notefile.ActionUpdate)
}

// force overwrites the repository file with n using the revision it holds
// right now.
func (r *repoSyncer) force(ctx context.Context, n core.Note) (repoResult, error) {
	if n.Path == "" {
		return r.create(ctx, n, "")
	}
	remote, err := r.store.Get(ctx, n.Path)
	if errors.Is(err, core.ErrNotFound) {
		return r.create(ctx, n, n.Path)
	}
	if err != nil {
		return repoResult{}, err
	}
	local := notefile.FromNote(n, createdAt(n, decodeRemote(remote.Content), r.now()), r.now())
	return r.write(ctx, n, local, remote.Revision, notefile.ActionForce)
}

// reconcile handles a remote revision the note does not know about.
func (r *repoSyncer) reconcile(n core.Note, local notefile.Document, remote core.RepositoryFile, remoteDoc notefile.Document) (repoResult, error) {
	if notefile.Equivalent(local, remoteDoc) {
		return repoResult{Note: adopt(n, remote, remoteDoc), Outcome: outcomeAdopted}, nil
	}
	return repoResult{}, &core.ConflictError{
		NoteID:         n.ID,
		Tier:           core.TierRepository,
		Remote:         adopt(n, remote, remoteDoc),
		RemoteRevision: remote.Revision,
	}
}

func (r *repoSyncer) write(ctx context.Context, n core.Note, doc notefile.Document, base, action string) (repoResult, error) {
	ctx = core.WithChangeReason(ctx, notefile.CommitMessage(action, n.Title))
	rev, err := r.store.Put(ctx, n.Path, notefile.Encode(doc), base)
	switch {
	case err == nil:
		return repoResult{Note: addressed(n, n.Path, rev, doc), Outcome: outcomeWritten}, nil
	case errors.Is(err, core.ErrNotFound):
		return r.create(ctx, n, n.Path)
	case core.KindOf(err) == core.KindConflict:
		return r.refetch(ctx, n, doc, err)
	}
	return repoResult{}, err
}

// create writes a new file. An empty path is derived from the title and
// bumped when the derived name is taken.
func (r *repoSyncer) create(ctx context.Context, n core.Note, path string) (repoResult, error) {
	now := r.now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	doc := notefile.FromNote(n, n.CreatedAt, now)
	content := notefile.Encode(doc)
	ctx = core.WithChangeReason(ctx, notefile.CommitMessage(notefile.ActionCreate, n.Title))

	derived := path == ""
	suffix := now.UnixMilli()
	for attempt := 0; ; attempt++ {
		if derived {
			path = notefile.FilePath(r.folder(n.FolderID), n.Title, suffix+int64(attempt))
		}
		rev, err := r.store.Put(ctx, path, content, "")
		if err == nil {
			return repoResult{Note: addressed(n, path, rev, doc), Outcome: outcomeCreated}, nil
		}
		if core.KindOf(err) != core.KindConflict {
			return repoResult{}, err
		}
		if !derived {
			n.Path = path
			return r.refetch(ctx, n, doc, err)
		}
		if attempt+1 >= maxCreateAttempts {
			return repoResult{}, fmt.Errorf("no free path for note %s: %w", n.ID, err)
		}
	}
}

// refetch turns a rejected write into a reconciliation against what the
// repository holds now.
func (r *repoSyncer) refetch(ctx context.Context, n core.Note, local notefile.Document, cause error) (repoResult, error) {
	remote, err := r.store.Get(ctx, n.Path)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return repoResult{}, cause
		}
		return repoResult{}, err
	}
	return r.reconcile(n, local, remote, decodeRemote(remote.Content))
}

// decodeRemote decodes a stored file. Files with a broken header are treated
// as body-only so their content still reaches the user.
func decodeRemote(content []byte) notefile.Document {
	doc, err := notefile.Decode(content)
	if err != nil {
		return notefile.Document{Body: string(content)}
	}
	return doc
}

func createdAt(n core.Note, remote notefile.Document, now time.Time) time.Time {
	if t, ok := remote.Created(); ok {
		return t
	}
	if !n.CreatedAt.IsZero() {
		return n.CreatedAt
	}
	return now
}

// adopt returns n addressed at the remote file, with the remote content.
func adopt(n core.Note, remote core.RepositoryFile, doc notefile.Document) core.Note {
	n = doc.ApplyTo(n.Clone())
	if remote.Path != "" {
		n.Path = remote.Path
	}
	n.Revision = remote.Revision
	return n
}

func addressed(n core.Note, path, rev string, doc notefile.Document) core.Note {
	n = n.Clone()
	n.Path = path
	n.Revision = rev
	if t, ok := doc.Created(); ok {
		n.CreatedAt = t
	}
	if t, ok := doc.Updated(); ok {
		n.UpdatedAt = t
	}
	return n
}
