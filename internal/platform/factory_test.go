package platform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YusukeImai797/Gitnote/pkg/adapters/metadata"
	"github.com/YusukeImai797/Gitnote/pkg/engine"
)

func gitlessConfig() Config {
	cfg := DefaultConfig()
	cfg.Repository.Gitless = true
	return cfg
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("Default Backends", func(t *testing.T) {
		root := t.TempDir()
		ws, err := Open(ctx, root, WithConfig(gitlessConfig()))
		require.NoError(t, err)
		defer ws.Close()

		assert.IsType(t, &metadata.SQLiteStore{}, ws.Metadata)
		require.NotNil(t, ws.Bus)
		assert.FileExists(t, filepath.Join(root, SystemDir, "metadata.db"))

		s, err := ws.Engine.Create(ctx, "")
		require.NoError(t, err)
		n := s.Note()
		n.Title = "Groceries"
		n.Body = "eggs"
		require.NoError(t, s.Edit(n))
		require.NoError(t, s.Sync(ctx))

		saved := s.Note()
		require.True(t, strings.HasPrefix(saved.Path, "notes/groceries-"), saved.Path)
		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(saved.Path)))
		require.NoError(t, err)
		assert.Contains(t, string(content), "title: \"Groceries\"")

		rec, err := ws.Metadata.Get(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, saved.Path, rec.Path)
		assert.Equal(t, 1, rec.WordCount)
	})

	t.Run("Injected Stores", func(t *testing.T) {
		meta := metadata.NewMemoryStore(metadata.Options{})
		cfg := gitlessConfig()
		cfg.Bus.Backend = BackendNone
		ws, err := Open(ctx, t.TempDir(), WithConfig(cfg), WithMetadata(meta))
		require.NoError(t, err)
		defer ws.Close()

		assert.Same(t, meta, ws.Metadata)
		assert.Nil(t, ws.Bus)
		assert.True(t, ws.Engine.Online())
	})

	t.Run("Reads The Workspace File", func(t *testing.T) {
		root := t.TempDir()
		cfg := gitlessConfig()
		cfg.Metadata.Backend = BackendMemory
		_, err := WriteConfig(root, cfg, false)
		require.NoError(t, err)

		ws, err := Open(ctx, root)
		require.NoError(t, err)
		defer ws.Close()
		assert.IsType(t, &metadata.MemoryStore{}, ws.Metadata)
	})

	t.Run("Invalid Config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Repository.Backend = "svn"
		_, err := Open(ctx, t.TempDir(), WithConfig(cfg))
		assert.Error(t, err)
	})

	t.Run("Close Is Repeatable", func(t *testing.T) {
		ws, err := Open(ctx, t.TempDir(), WithConfig(gitlessConfig()))
		require.NoError(t, err)
		require.NoError(t, ws.Close())
		assert.NoError(t, ws.Close())

		_, err = ws.Engine.Create(ctx, "")
		assert.ErrorIs(t, err, engine.ErrClosed)
	})
}
