package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YusukeImai797/Gitnote/pkg/core"
)

func ms(v int64) time.Time { return time.UnixMilli(v) }

// fixedClock returns a clock that can be moved by the test.
func fixedClock(start int64) (func() time.Time, func(int64)) {
	now := start
	return func() time.Time { return ms(now) }, func(v int64) { now = v }
}

func newTestStore(t *testing.T, now func() time.Time) *Store {
	t.Helper()
	return New(Config{Dir: t.TempDir(), Now: now})
}

func TestStore_Put(t *testing.T) {
	ctx := context.Background()

	t.Run("Preserves ConfirmedAt", func(t *testing.T) {
		now, set := fixedClock(5000)
		s := newTestStore(t, now)

		require.NoError(t, s.PutConfirmed(ctx, core.CacheEntry{ID: "n1", Title: "A", Body: "hello"}, ms(1000)))

		set(6000)
		require.NoError(t, s.Put(ctx, core.CacheEntry{ID: "n1", Title: "A", Body: "hello world"}))

		e, ok, err := s.Get(ctx, "n1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "hello world", e.Body)
		assert.True(t, e.ConfirmedAt.Equal(ms(1000)), "confirmedAt was reset: %v", e.ConfirmedAt)
		assert.True(t, e.LocalEditedAt.Equal(ms(6000)))
		assert.True(t, e.RepositoryPending)
		assert.True(t, e.Unsynced())
	})

	t.Run("Ignores ConfirmedAt Supplied By Caller", func(t *testing.T) {
		now, _ := fixedClock(5000)
		s := newTestStore(t, now)

		require.NoError(t, s.Put(ctx, core.CacheEntry{ID: "n1", ConfirmedAt: ms(9000)}))

		e, _, err := s.Get(ctx, "n1")
		require.NoError(t, err)
		assert.True(t, e.ConfirmedAt.IsZero())
	})

	t.Run("Overwrite Option Stores Given ConfirmedAt", func(t *testing.T) {
		now, _ := fixedClock(5000)
		s := newTestStore(t, now)

		require.NoError(t, s.Put(ctx, core.CacheEntry{ID: "n1", ConfirmedAt: ms(4000)}, core.OverwriteConfirmed()))

		e, _, err := s.Get(ctx, "n1")
		require.NoError(t, err)
		assert.True(t, e.ConfirmedAt.Equal(ms(4000)))
	})

	t.Run("Edit Stays Newer Than Server Clock", func(t *testing.T) {
		// Device clock lags the server: the edit must still read as unsynced.
		now, _ := fixedClock(1000)
		s := newTestStore(t, now)

		require.NoError(t, s.PutConfirmed(ctx, core.CacheEntry{ID: "n1"}, ms(2000)))
		require.NoError(t, s.Put(ctx, core.CacheEntry{ID: "n1", Body: "later"}))

		e, _, err := s.Get(ctx, "n1")
		require.NoError(t, err)
		assert.True(t, e.LocalEditedAt.After(e.ConfirmedAt))
		assert.True(t, e.Unsynced())
	})

	t.Run("LocalEditedAt Is Monotonic", func(t *testing.T) {
		now, set := fixedClock(3000)
		s := newTestStore(t, now)

		require.NoError(t, s.Put(ctx, core.CacheEntry{ID: "n1", Body: "a"}))
		set(2000)
		require.NoError(t, s.Put(ctx, core.CacheEntry{ID: "n1", Body: "b"}))

		e, _, err := s.Get(ctx, "n1")
		require.NoError(t, err)
		assert.True(t, e.LocalEditedAt.After(ms(3000)))
	})

	t.Run("Rejects Empty ID", func(t *testing.T) {
		s := newTestStore(t, nil)
		err := s.Put(ctx, core.CacheEntry{})
		assert.ErrorIs(t, err, core.ErrValidation)
	})
}

func TestStore_Confirmation(t *testing.T) {
	ctx := context.Background()
	now, set := fixedClock(1500)
	s := newTestStore(t, now)

	require.NoError(t, s.Put(ctx, core.CacheEntry{ID: "n1", Body: "x"}))
	require.NoError(t, s.MarkConfirmed(ctx, "n1", ms(2000)))

	e, _, err := s.Get(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, e.ConfirmedAt.Equal(ms(2000)))
	assert.False(t, e.Unconfirmed())
	assert.True(t, e.Unsynced(), "the repository has not stored the edit yet")

	t.Run("Server Clock Behind", func(t *testing.T) {
		set(9000)
		require.NoError(t, s.Put(ctx, core.CacheEntry{ID: "n1", Body: "y"}))
		require.NoError(t, s.MarkConfirmed(ctx, "n1", ms(3000)))
		e, _, err := s.Get(ctx, "n1")
		require.NoError(t, err)
		assert.False(t, e.Unconfirmed())

		require.NoError(t, s.Put(ctx, core.CacheEntry{ID: "n1", Body: "z"}))
		e, _, err = s.Get(ctx, "n1")
		require.NoError(t, err)
		assert.True(t, e.Unsynced(), "a later edit must read as unsynced")
	})

	t.Run("Unknown ID Is Ignored", func(t *testing.T) {
		require.NoError(t, s.MarkConfirmed(ctx, "missing", ms(1)))
		_, ok, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("PutConfirmed Is Never Pending", func(t *testing.T) {
		require.NoError(t, s.PutConfirmed(ctx, core.CacheEntry{ID: "n2", Body: "remote"}, ms(7000)))
		e, _, err := s.Get(ctx, "n2")
		require.NoError(t, err)
		assert.True(t, e.LocalEditedAt.Equal(ms(7000)))
		assert.True(t, e.ConfirmedAt.Equal(ms(7000)))
		assert.False(t, e.Unsynced())
	})
}

func TestStore_MarkStored(t *testing.T) {
	ctx := context.Background()
	now, set := fixedClock(1000)
	s := newTestStore(t, now)

	require.NoError(t, s.Put(ctx, core.CacheEntry{ID: "n1", Title: "T", Body: "v1", Tags: []string{"a"}}))
	require.NoError(t, s.MarkConfirmed(ctx, "n1", ms(2000)))

	t.Run("Other Content Stays Pending", func(t *testing.T) {
		require.NoError(t, s.MarkStored(ctx, "n1", core.CacheEntry{ID: "n1", Title: "T", Body: "v0", Tags: []string{"a"}}))
		e, _, err := s.Get(ctx, "n1")
		require.NoError(t, err)
		assert.True(t, e.RepositoryPending)
		assert.True(t, e.Unsynced())

		unsynced, err := s.Unsynced(ctx)
		require.NoError(t, err)
		require.Len(t, unsynced, 1)
	})

	t.Run("Stored Content Is Synced", func(t *testing.T) {
		require.NoError(t, s.MarkStored(ctx, "n1", core.CacheEntry{ID: "n1", Title: "T", Body: "v1", Tags: []string{"a"}}))
		e, _, err := s.Get(ctx, "n1")
		require.NoError(t, err)
		assert.False(t, e.RepositoryPending)
		assert.False(t, e.Unsynced())

		unsynced, err := s.Unsynced(ctx)
		require.NoError(t, err)
		assert.Empty(t, unsynced)
	})

	t.Run("Next Edit Is Pending Again", func(t *testing.T) {
		set(3000)
		require.NoError(t, s.Put(ctx, core.CacheEntry{ID: "n1", Title: "T", Body: "v2"}))
		e, _, err := s.Get(ctx, "n1")
		require.NoError(t, err)
		assert.True(t, e.RepositoryPending)
	})

	t.Run("Unknown ID Is Ignored", func(t *testing.T) {
		require.NoError(t, s.MarkStored(ctx, "missing", core.CacheEntry{ID: "missing"}))
		_, ok, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_Listing(t *testing.T) {
	ctx := context.Background()
	now, set := fixedClock(1000)
	s := newTestStore(t, now)

	require.NoError(t, s.PutConfirmed(ctx, core.CacheEntry{ID: "synced"}, ms(500)))
	require.NoError(t, s.Put(ctx, core.CacheEntry{ID: "older"}))
	set(2000)
	require.NoError(t, s.Put(ctx, core.CacheEntry{ID: "newer"}))

	unsynced, err := s.Unsynced(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 2)
	assert.Equal(t, "newer", unsynced[0].ID)
	assert.Equal(t, "older", unsynced[1].ID)

	recent, ok, err := s.MostRecent(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "newer", recent.ID)

	require.NoError(t, s.Delete(ctx, "newer"))
	require.NoError(t, s.Delete(ctx, "newer"))
	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("Survives Reopen", func(t *testing.T) {
		first := New(Config{Dir: dir})
		require.NoError(t, first.PutConfirmed(ctx, core.CacheEntry{ID: "n1", Title: "T", Tags: []string{"a"}}, ms(1000)))

		second := New(Config{Dir: dir})
		e, ok, err := second.Get(ctx, "n1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "T", e.Title)
		assert.Equal(t, []string{"a"}, e.Tags)
		assert.True(t, e.ConfirmedAt.Equal(ms(1000)))
	})

	t.Run("Writers Share The File", func(t *testing.T) {
		a := New(Config{Dir: dir})
		b := New(Config{Dir: dir})
		require.NoError(t, a.Put(ctx, core.CacheEntry{ID: "from-a"}))
		require.NoError(t, b.Put(ctx, core.CacheEntry{ID: "from-b"}))

		all, err := a.List(ctx)
		require.NoError(t, err)
		ids := map[string]bool{}
		for _, e := range all {
			ids[e.ID] = true
		}
		assert.True(t, ids["from-a"])
		assert.True(t, ids["from-b"])
	})

	t.Run("Resets On Corrupted JSON", func(t *testing.T) {
		corrupt := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(corrupt, FileName), []byte("{ invalid json"), 0644))

		s := New(Config{Dir: corrupt})
		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("Layout Uses Documented Field Names", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, FileName))
		require.NoError(t, err)
		for _, field := range []string{`"title"`, `"body"`, `"tags"`, `"localEditedAt"`, `"confirmedAt"`} {
			assert.Contains(t, string(data), field)
		}
	})
}

func TestStore_State(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.Put(context.Background(), core.CacheEntry{ID: "n1"}))

	state, ok := s.State().(StoreState)
	require.True(t, ok)
	assert.Equal(t, 1, state.Entries)
	assert.Equal(t, "cache", s.ComponentType())
}
