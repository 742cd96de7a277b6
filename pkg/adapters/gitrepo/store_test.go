package gitrepo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YusukeImai797/Gitnote/pkg/core"
	"github.com/YusukeImai797/Gitnote/pkg/git"
	"github.com/YusukeImai797/Gitnote/pkg/notefile"
)

func newStore(t *testing.T, gitless bool) *Store {
	t.Helper()
	if !gitless && !git.IsInstalled() {
		t.Skip("git not installed")
	}
	s := New(Config{
		Path:     t.TempDir(),
		Gitless:  gitless,
		AutoInit: true,
		Identity: git.Identity{Name: "Test", Email: "test@example.com"},
	})
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func TestStore_RevisionChecks(t *testing.T) {
	for _, gitless := range []bool{true, false} {
		name := "Git"
		if gitless {
			name = "Gitless"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t, gitless)

			rev1, err := s.Put(ctx, "notes/a.md", []byte("one"), "")
			require.NoError(t, err)
			assert.Equal(t, notefile.Revision([]byte("one")), rev1)

			t.Run("Create Over Existing Conflicts", func(t *testing.T) {
				_, err := s.Put(ctx, "notes/a.md", []byte("dup"), "")
				assert.ErrorIs(t, err, core.ErrConflict)
			})

			t.Run("Stale Base Conflicts", func(t *testing.T) {
				_, err := s.Put(ctx, "notes/a.md", []byte("x"), "deadbeef")
				assert.ErrorIs(t, err, core.ErrConflict)
			})

			t.Run("Update Missing File Is NotFound", func(t *testing.T) {
				_, err := s.Put(ctx, "notes/missing.md", []byte("x"), rev1)
				assert.ErrorIs(t, err, core.ErrNotFound)
			})

			rev2, err := s.Put(ctx, "notes/a.md", []byte("two"), rev1)
			require.NoError(t, err)

			f, err := s.Get(ctx, "notes/a.md")
			require.NoError(t, err)
			assert.Equal(t, "two", string(f.Content))
			assert.Equal(t, rev2, f.Revision)

			assert.ErrorIs(t, s.Delete(ctx, "notes/a.md", rev1), core.ErrConflict)
			require.NoError(t, s.Delete(ctx, "notes/a.md", rev2))

			_, err = s.Get(ctx, "notes/a.md")
			assert.ErrorIs(t, err, core.ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, "notes/a.md", rev2), core.ErrNotFound)
		})
	}
}

func TestStore_RejectsUnsafePaths(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, true)

	for _, p := range []string{"../escape.md", "/abs.md", "notes/a.txt", "notes//a.md"} {
		_, err := s.Put(ctx, p, []byte("x"), "")
		assert.ErrorIs(t, err, core.ErrValidation, p)
	}
}

func TestStore_CommitsWithChangeReason(t *testing.T) {
	s := newStore(t, false)
	ctx := core.WithChangeReason(context.Background(), "Create note: Hello")

	_, err := s.Put(ctx, "notes/hello-1.md", []byte("hi"), "")
	require.NoError(t, err)

	out, err := s.git.Run(context.Background(), "log", "-1", "--format=%s")
	require.NoError(t, err)
	assert.Equal(t, "Create note: Hello", out)

	ignore, err := os.ReadFile(filepath.Join(s.Root(), ".gitignore"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(ignore), ".gitnote/"))

	state := s.State().(StoreState)
	assert.Equal(t, 1, state.Writes)
	assert.NotNil(t, state.LastCommit)
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, true)

	for _, p := range []string{"notes/b.md", "notes/a.md", "work/deep/c.md"} {
		_, err := s.Put(ctx, p, []byte(p), "")
		require.NoError(t, err)
	}
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), ".gitnote"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), ".gitnote", "hidden.md"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "notes", "readme.txt"), []byte("x"), 0644))

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"notes/a.md", "notes/b.md", "work/deep/c.md"}, all)

	notes, err := s.List(ctx, "notes/*.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"notes/a.md", "notes/b.md"}, notes)

	_, err = s.List(ctx, "notes/[")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestStore_SyncGitless(t *testing.T) {
	s := newStore(t, true)
	assert.NoError(t, s.Sync(context.Background()))
}
