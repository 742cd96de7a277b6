package metadata

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YusukeImai797/Gitnote/pkg/core"
)

func ms(v int64) time.Time { return time.UnixMilli(v) }

type clock struct{ now int64 }

func (c *clock) Now() time.Time { return ms(c.now) }

// storeFactories runs every test against both implementations.
func storeFactories() map[string]func(t *testing.T, c *clock) core.MetadataStore {
	return map[string]func(t *testing.T, c *clock) core.MetadataStore{
		"Memory": func(t *testing.T, c *clock) core.MetadataStore {
			return NewMemoryStore(Options{Now: c.Now})
		},
		"SQLite": func(t *testing.T, c *clock) core.MetadataStore {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "meta.db"), Options{Now: c.Now})
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

// seed stores a record with UpdatedAt == at by saving it at that clock.
func seed(t *testing.T, s core.MetadataStore, c *clock, rec core.MetadataRecord, at int64) {
	t.Helper()
	prev := c.now
	c.now = at
	_, err := s.Save(context.Background(), rec, time.Time{})
	require.NoError(t, err)
	c.now = prev
}

func TestStore_ToleranceWindow(t *testing.T) {
	ctx := context.Background()

	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Run("Within Tolerance Succeeds", func(t *testing.T) {
				c := &clock{now: 4000}
				s := factory(t, c)
				seed(t, s, c, core.MetadataRecord{ID: "n1", Body: "a"}, 3500)

				got, err := s.Save(ctx, core.MetadataRecord{ID: "n1", Body: "b"}, ms(1000))
				require.NoError(t, err)
				assert.True(t, got.UpdatedAt.Equal(ms(4000)))
			})

			t.Run("Beyond Tolerance Conflicts", func(t *testing.T) {
				c := &clock{now: 12000}
				s := factory(t, c)
				seed(t, s, c, core.MetadataRecord{ID: "n1", Title: "Remote", Body: "server", Tags: []string{"x"}}, 11000)

				_, err := s.Save(ctx, core.MetadataRecord{ID: "n1", Body: "local"}, ms(1000))
				require.Error(t, err)
				assert.ErrorIs(t, err, core.ErrConflict)

				var ce *core.ConflictError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, core.TierMetadata, ce.Tier)
				assert.Equal(t, "server", ce.Remote.Body)
				assert.Equal(t, []string{"x"}, ce.Remote.Tags)
				assert.True(t, ce.RemoteUpdatedAt.Equal(ms(11000)))

				stored, err := s.Get(ctx, "n1")
				require.NoError(t, err)
				assert.Equal(t, "server", stored.Body, "conflicting save must not be applied")
			})

			t.Run("Exactly At Tolerance Succeeds", func(t *testing.T) {
				c := &clock{now: 7000}
				s := factory(t, c)
				seed(t, s, c, core.MetadataRecord{ID: "n1"}, 6000)

				_, err := s.Save(ctx, core.MetadataRecord{ID: "n1"}, ms(1000))
				assert.NoError(t, err)
			})
		})
	}
}

func TestStore_Save(t *testing.T) {
	ctx := context.Background()

	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Run("Server Assigns Confirmation", func(t *testing.T) {
				c := &clock{}
				s := factory(t, c)
				seed(t, s, c, core.MetadataRecord{ID: "n1", Title: "A", Body: "hello"}, 1000)

				c.now = 2000
				got, err := s.Save(ctx, core.MetadataRecord{ID: "n1", Title: "A", Body: "hello world"}, ms(1000))
				require.NoError(t, err)
				assert.Equal(t, int64(2000), got.UpdatedAt.UnixMilli())
				assert.Equal(t, "hello world", got.Body)
			})

			t.Run("UpdatedAt Never Decreases", func(t *testing.T) {
				c := &clock{}
				s := factory(t, c)
				seed(t, s, c, core.MetadataRecord{ID: "n1"}, 5000)

				c.now = 4000 // server clock stepped back
				got, err := s.Save(ctx, core.MetadataRecord{ID: "n1"}, ms(5000))
				require.NoError(t, err)
				assert.Equal(t, int64(5000), got.UpdatedAt.UnixMilli())
			})

			t.Run("Existing Record Requires Expected", func(t *testing.T) {
				c := &clock{now: 1000}
				s := factory(t, c)
				seed(t, s, c, core.MetadataRecord{ID: "n1"}, 1000)

				_, err := s.Save(ctx, core.MetadataRecord{ID: "n1"}, time.Time{})
				assert.ErrorIs(t, err, core.ErrConflict)
			})

			t.Run("Missing Record Is Recreated", func(t *testing.T) {
				c := &clock{now: 9000}
				s := factory(t, c)

				got, err := s.Save(ctx, core.MetadataRecord{ID: "n1", Body: "kept"}, ms(1000))
				require.NoError(t, err)
				assert.Equal(t, int64(9000), got.CreatedAt.UnixMilli())
			})

			t.Run("Empty Addressing Keeps Stored Values", func(t *testing.T) {
				c := &clock{}
				s := factory(t, c)
				seed(t, s, c, core.MetadataRecord{ID: "n1", Path: "notes/a.md", Revision: "abc", CreatedAt: ms(10)}, 1000)

				c.now = 1500
				got, err := s.Save(ctx, core.MetadataRecord{ID: "n1", Body: "new"}, ms(1000))
				require.NoError(t, err)
				assert.Equal(t, "notes/a.md", got.Path)
				assert.Equal(t, "abc", got.Revision)
				assert.Equal(t, int64(10), got.CreatedAt.UnixMilli())

				stored, err := s.Get(ctx, "n1")
				require.NoError(t, err)
				assert.Equal(t, "abc", stored.Revision)
			})

			t.Run("Rejects Empty ID", func(t *testing.T) {
				s := factory(t, &clock{})
				_, err := s.Save(ctx, core.MetadataRecord{}, time.Time{})
				assert.ErrorIs(t, err, core.ErrValidation)
			})
		})
	}
}

func TestStore_ReadDelete(t *testing.T) {
	ctx := context.Background()

	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			c := &clock{}
			s := factory(t, c)
			seed(t, s, c, core.MetadataRecord{ID: "old", Tags: []string{"a", "b"}, WordCount: 3}, 1000)
			seed(t, s, c, core.MetadataRecord{ID: "new"}, 2000)

			rec, err := s.Get(ctx, "old")
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, rec.Tags)
			assert.Equal(t, 3, rec.WordCount)

			all, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "new", all[0].ID)

			require.NoError(t, s.Delete(ctx, "old"))
			require.NoError(t, s.Delete(ctx, "old"))

			_, err = s.Get(ctx, "old")
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestStore_SetLocation(t *testing.T) {
	ctx := context.Background()

	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			c := &clock{}
			s := factory(t, c)
			seed(t, s, c, core.MetadataRecord{ID: "n1", Body: "keep"}, 1000)

			c.now = 50000
			require.NoError(t, s.SetLocation(ctx, "n1", "notes/a-1.md", "abc"))

			rec, err := s.Get(ctx, "n1")
			require.NoError(t, err)
			assert.Equal(t, "notes/a-1.md", rec.Path)
			assert.Equal(t, "abc", rec.Revision)
			assert.Equal(t, "keep", rec.Body)
			assert.Equal(t, int64(1000), rec.UpdatedAt.UnixMilli(), "location updates must not move the lock")

			assert.ErrorIs(t, s.SetLocation(ctx, "missing", "x.md", "r"), core.ErrNotFound)
		})
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "meta.db")
	c := &clock{now: 1000}

	first, err := OpenSQLite(ctx, path, Options{Now: c.Now})
	require.NoError(t, err)
	_, err = first.Save(ctx, core.MetadataRecord{ID: "n1", Title: "Persisted"}, time.Time{})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := OpenSQLite(ctx, path, Options{Now: c.Now})
	require.NoError(t, err)
	defer second.Close()

	rec, err := second.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "Persisted", rec.Title)
	assert.Equal(t, []string{}, rec.Tags)
}
