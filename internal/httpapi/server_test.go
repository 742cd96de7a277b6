package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YusukeImai797/Gitnote/pkg/adapters/cache"
	"github.com/YusukeImai797/Gitnote/pkg/adapters/gitrepo"
	"github.com/YusukeImai797/Gitnote/pkg/adapters/metadata"
	"github.com/YusukeImai797/Gitnote/pkg/adapters/remotemeta"
	"github.com/YusukeImai797/Gitnote/pkg/bus"
	"github.com/YusukeImai797/Gitnote/pkg/core"
	"github.com/YusukeImai797/Gitnote/pkg/engine"
)

type request struct {
	method string
	path   string
	token  string
	body   any
}

func doRequest(t *testing.T, h http.Handler, req request) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if req.body != nil {
		var err error
		payload, err = json.Marshal(req.body)
		require.NoError(t, err)
	}
	r := httptest.NewRequest(req.method, req.path, bytes.NewReader(payload))
	if req.token != "" {
		r.Header.Set("Authorization", "Bearer "+req.token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

type clock struct{ now atomic.Int64 }

func (c *clock) Now() time.Time { return time.UnixMilli(c.now.Load()) }

func TestAuth(t *testing.T) {
	server := NewServer(ServerConfig{Records: metadata.NewMemoryStore(metadata.Options{}), Token: "secret"})

	t.Run("Health Is Public", func(t *testing.T) {
		rec := doRequest(t, server, request{method: http.MethodGet, path: "/healthz"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Missing Token", func(t *testing.T) {
		rec := doRequest(t, server, request{method: http.MethodGet, path: "/v1/records"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		resp := decode[remotemeta.ErrorResponse](t, rec)
		assert.Equal(t, string(core.KindPermission), resp.ErrorKind)
	})

	t.Run("Wrong Token", func(t *testing.T) {
		rec := doRequest(t, server, request{method: http.MethodGet, path: "/v1/records", token: "nope"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Valid Token", func(t *testing.T) {
		rec := doRequest(t, server, request{method: http.MethodGet, path: "/v1/records", token: "secret"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
	})

	t.Run("Notes Disabled Without Engine", func(t *testing.T) {
		rec := doRequest(t, server, request{method: http.MethodGet, path: "/v1/notes/n1", token: "secret"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

// The remote metadata client and the records routes must agree on the lock.
func TestRecords_RemoteClient(t *testing.T) {
	ctx := context.Background()
	c := &clock{}
	c.now.Store(1000)
	store := metadata.NewMemoryStore(metadata.Options{Now: c.Now})
	srv := httptest.NewServer(NewServer(ServerConfig{Records: store, Token: "secret"}))
	defer srv.Close()

	client := remotemeta.New(remotemeta.Config{BaseURL: srv.URL, Token: "secret", RetryDelay: time.Millisecond})
	rec := core.MetadataRecord{ID: "n/1", Title: "Alpha", Body: "one two", Tags: []string{"a"}, WordCount: 2}

	saved, err := client.Save(ctx, rec, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), saved.UpdatedAt.UnixMilli())

	t.Run("Create Over Existing Conflicts", func(t *testing.T) {
		c.now.Store(1500)
		_, err := client.Save(ctx, rec, time.Time{})
		var ce *core.ConflictError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, core.TierMetadata, ce.Tier)
		assert.Equal(t, "n/1", ce.NoteID)
		assert.Equal(t, "Alpha", ce.Remote.Title)
		assert.Equal(t, int64(1000), ce.RemoteUpdatedAt.UnixMilli())
	})

	t.Run("Save Within Tolerance", func(t *testing.T) {
		c.now.Store(4000)
		rec.Body = "one two three"
		out, err := client.Save(ctx, rec, saved.UpdatedAt)
		require.NoError(t, err)
		assert.Equal(t, int64(4000), out.UpdatedAt.UnixMilli())
		saved = out
	})

	t.Run("Stale Writer Conflicts", func(t *testing.T) {
		c.now.Store(20000)
		out, err := client.Save(ctx, rec, saved.UpdatedAt)
		require.NoError(t, err)

		c.now.Store(21000)
		_, err = client.Save(ctx, rec, saved.UpdatedAt)
		var ce *core.ConflictError
		require.ErrorAs(t, err, &ce)
		assert.True(t, ce.RemoteUpdatedAt.Equal(out.UpdatedAt))
	})

	t.Run("Location Keeps UpdatedAt", func(t *testing.T) {
		before, err := client.Get(ctx, "n/1")
		require.NoError(t, err)
		require.NoError(t, client.SetLocation(ctx, "n/1", "notes/alpha-1.md", "abc"))
		after, err := client.Get(ctx, "n/1")
		require.NoError(t, err)
		assert.Equal(t, "notes/alpha-1.md", after.Path)
		assert.Equal(t, "abc", after.Revision)
		assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))

		err = client.SetLocation(ctx, "missing", "x.md", "r")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("List And Delete", func(t *testing.T) {
		recs, err := client.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "n/1", recs[0].ID)

		require.NoError(t, client.Delete(ctx, "n/1"))
		require.NoError(t, client.Delete(ctx, "n/1"))
		_, err = client.Get(ctx, "n/1")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

type notesEnv struct {
	server *Server
	meta   *metadata.MemoryStore
	repo   *gitrepo.Store
}

func newNotesEnv(t *testing.T) *notesEnv {
	t.Helper()
	repo := gitrepo.New(gitrepo.Config{Path: t.TempDir(), Gitless: true, AutoInit: true})
	require.NoError(t, repo.Initialize(context.Background()))
	meta := metadata.NewMemoryStore(metadata.Options{})

	e, err := engine.New(engine.Config{
		Cache:           cache.New(cache.Config{Dir: t.TempDir()}),
		Metadata:        meta,
		Repository:      repo,
		CacheDelay:      time.Hour,
		MetadataDelay:   time.Hour,
		RepositoryDelay: time.Hour,
		Folders:         map[string]string{"work": "work/"},
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = e.Close()
	})
	return &notesEnv{server: NewServer(ServerConfig{Engine: e, Records: meta}), meta: meta, repo: repo}
}

func TestNotes_Lifecycle(t *testing.T) {
	ctx := context.Background()
	env := newNotesEnv(t)
	note := core.Note{Title: "Alpha", Body: "one two", Tags: []string{"x"}}

	rec := doRequest(t, env.server, request{
		method: http.MethodPut,
		path:   "/v1/notes/n1/metadata",
		body:   MetadataSaveRequest{Note: note},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[NoteResponse](t, rec)
	assert.Equal(t, "n1", saved.Note.ID)
	assert.NotZero(t, saved.NewConfirmedAt)

	t.Run("Metadata Conflict Carries The Stored Record", func(t *testing.T) {
		rec := doRequest(t, env.server, request{
			method: http.MethodPut,
			path:   "/v1/notes/n1/metadata",
			body:   MetadataSaveRequest{Note: core.Note{Title: "Other"}},
		})
		require.Equal(t, http.StatusConflict, rec.Code)
		resp := decode[remotemeta.ErrorResponse](t, rec)
		assert.Equal(t, string(core.KindConflict), resp.ErrorKind)
		assert.Equal(t, core.TierMetadata, resp.Tier)
		require.NotNil(t, resp.Remote)
		assert.Equal(t, "Alpha", resp.Remote.Title)
		assert.Equal(t, saved.NewConfirmedAt, resp.RemoteUpdatedAt)
	})

	rec = doRequest(t, env.server, request{
		method: http.MethodPut,
		path:   "/v1/notes/n1/repository",
		body:   NoteRequest{Note: saved.Note},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	written := decode[NoteResponse](t, rec)
	assert.NotEmpty(t, written.NewRevision)
	assert.True(t, strings.HasPrefix(written.Note.Path, "notes/alpha-"), written.Note.Path)

	stored, err := env.meta.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, written.Note.Path, stored.Path)

	t.Run("Repository Conflict Carries The Remote Body", func(t *testing.T) {
		theirs, err := env.repo.Put(ctx, written.Note.Path, []byte("edited elsewhere"), written.NewRevision)
		require.NoError(t, err)

		mine := written.Note
		mine.Body = "mine"
		rec := doRequest(t, env.server, request{
			method: http.MethodPut,
			path:   "/v1/notes/n1/repository",
			body:   NoteRequest{Note: mine},
		})
		require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
		resp := decode[remotemeta.ErrorResponse](t, rec)
		assert.Equal(t, core.TierRepository, resp.Tier)
		assert.Equal(t, theirs, resp.RemoteRevision)
		require.NotNil(t, resp.Remote)
		assert.Equal(t, "edited elsewhere", resp.Remote.Body)

		rec = doRequest(t, env.server, request{
			method: http.MethodPost,
			path:   "/v1/notes/n1/force",
			body:   NoteRequest{Note: mine},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		forced := decode[NoteResponse](t, rec)
		assert.NotEqual(t, theirs, forced.NewRevision)
	})

	t.Run("Load Returns The Confirmed Note", func(t *testing.T) {
		rec := doRequest(t, env.server, request{method: http.MethodGet, path: "/v1/notes/n1"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		loaded := decode[NoteResponse](t, rec)
		assert.Equal(t, "mine", loaded.Note.Body)
		assert.NotZero(t, loaded.ConfirmedAt)
	})

	t.Run("Accept Remote Without Conflict", func(t *testing.T) {
		rec := doRequest(t, env.server, request{method: http.MethodPost, path: "/v1/notes/n1/accept-remote"})
		require.Equal(t, http.StatusPreconditionFailed, rec.Code)
		resp := decode[remotemeta.ErrorResponse](t, rec)
		assert.Equal(t, string(core.KindNoConflict), resp.ErrorKind)
	})

	t.Run("Move", func(t *testing.T) {
		rec := doRequest(t, env.server, request{
			method: http.MethodPost,
			path:   "/v1/notes/n1/move",
			body:   MoveRequest{FolderID: "work"},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		moved := decode[NoteResponse](t, rec)
		assert.Equal(t, "work", moved.Note.FolderID)
		assert.True(t, strings.HasPrefix(moved.Note.Path, "work/alpha-"), moved.Note.Path)

		_, err := env.repo.Get(ctx, written.Note.Path)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		rec := doRequest(t, env.server, request{method: http.MethodDelete, path: "/v1/notes/n1"})
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		rec = doRequest(t, env.server, request{method: http.MethodGet, path: "/v1/records/n1"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Bad Body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPut, "/v1/notes/n2/metadata", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		env.server.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestBusRelay(t *testing.T) {
	hub := bus.NewHub(nil)
	defer hub.Close()
	srv := httptest.NewServer(NewServer(ServerConfig{Bus: hub, Token: "secret"}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := bus.NewClient(bus.ClientConfig{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/bus",
		Token:          "secret",
		ReconnectDelay: 10 * time.Millisecond,
	})
	defer client.Close()
	require.NoError(t, client.Start(ctx))
	require.Eventually(t, client.Connected, 2*time.Second, 10*time.Millisecond)

	got := make(chan bus.Message, 1)
	_, err := client.Subscribe(bus.Topic, func(m bus.Message) { got <- m })
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, bus.Message{Topic: bus.Topic, Kind: bus.KindSaved, SessionID: "s1", NoteID: "n1"}))
	select {
	case m := <-got:
		assert.Equal(t, "n1", m.NoteID)
		assert.Equal(t, bus.KindSaved, m.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("message not relayed")
	}

	t.Run("Unauthorized Dial Is Rejected", func(t *testing.T) {
		rec := doRequest(t, NewServer(ServerConfig{Bus: hub, Token: "secret"}), request{method: http.MethodGet, path: "/v1/bus"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
