package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/YusukeImai797/Gitnote/pkg/adapters/cache"
	"github.com/YusukeImai797/Gitnote/pkg/adapters/metadata"
	"github.com/YusukeImai797/Gitnote/pkg/bus"
	"github.com/YusukeImai797/Gitnote/pkg/connectivity"
	"github.com/YusukeImai797/Gitnote/pkg/core"
	"github.com/YusukeImai797/Gitnote/pkg/notefile"
)

func ms(v int64) time.Time { return time.UnixMilli(v) }

// memRepo is an in-memory core.FileStore with failure injection.
type memRepo struct {
	mu       sync.Mutex
	files    map[string]core.RepositoryFile
	puts     int
	messages []string
	putErr   error
}

func newMemRepo() *memRepo {
	return &memRepo{files: make(map[string]core.RepositoryFile)}
}

func (r *memRepo) Get(ctx context.Context, path string) (core.RepositoryFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[path]
	if !ok {
		return core.RepositoryFile{}, core.Errorf(core.KindNotFound, "mem.get", "%s not found", path)
	}
	f.Content = append([]byte(nil), f.Content...)
	return f, nil
}

func (r *memRepo) Put(ctx context.Context, path string, content []byte, base string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.putErr != nil {
		return "", r.putErr
	}
	cur, exists := r.files[path]
	switch {
	case base == "" && exists:
		return "", core.Errorf(core.KindConflict, "mem.put", "%s exists", path)
	case base != "" && !exists:
		return "", core.Errorf(core.KindNotFound, "mem.put", "%s not found", path)
	case base != "" && base != cur.Revision:
		return "", core.Errorf(core.KindConflict, "mem.put", "%s moved on", path)
	}
	rev := notefile.Revision(content)
	r.files[path] = core.RepositoryFile{Path: path, Revision: rev, Content: append([]byte(nil), content...)}
	r.puts++
	r.messages = append(r.messages, core.ChangeReason(ctx, ""))
	return rev, nil
}

func (r *memRepo) Delete(ctx context.Context, path string, base string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, exists := r.files[path]
	if !exists {
		return core.Errorf(core.KindNotFound, "mem.delete", "%s not found", path)
	}
	if base != "" && base != cur.Revision {
		return core.Errorf(core.KindConflict, "mem.delete", "%s moved on", path)
	}
	delete(r.files, path)
	r.messages = append(r.messages, core.ChangeReason(ctx, ""))
	return nil
}

// overwrite replaces a file behind the engine's back.
func (r *memRepo) overwrite(path string, content []byte) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rev := notefile.Revision(content)
	r.files[path] = core.RepositoryFile{Path: path, Revision: rev, Content: content}
	return rev
}

func (r *memRepo) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.files))
	for p := range r.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *memRepo) putCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.puts
}

func (r *memRepo) lastMessage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1]
}

func (r *memRepo) failPuts(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putErr = err
}

// flakyMeta fails saves while saveErr is set.
type flakyMeta struct {
	*metadata.MemoryStore
	saveErr atomic.Pointer[error]
}

func (f *flakyMeta) Save(ctx context.Context, rec core.MetadataRecord, expected time.Time) (core.MetadataRecord, error) {
	if err := f.saveErr.Load(); err != nil {
		return core.MetadataRecord{}, *err
	}
	return f.MemoryStore.Save(ctx, rec, expected)
}

func (f *flakyMeta) fail(err error) {
	if err == nil {
		f.saveErr.Store(nil)
		return
	}
	f.saveErr.Store(&err)
}

// serverClock is the metadata store clock, settable from tests.
type serverClock struct{ now atomic.Int64 }

func (c *serverClock) Now() time.Time { return ms(c.now.Load()) }
func (c *serverClock) set(v int64)   { c.now.Store(v) }

type env struct {
	e      *Engine
	cache  *cache.Store
	meta   *flakyMeta
	repo   *memRepo
	net    *connectivity.Switch
	server *serverClock
}

// slow keeps every timer out of the way so tests drive syncing explicitly.
func slow(c *Config) {
	c.CacheDelay = time.Hour
	c.MetadataDelay = time.Hour
	c.RepositoryDelay = time.Hour
}

func newEnv(t *testing.T, opts ...func(*Config)) *env {
	t.Helper()
	server := &serverClock{}
	server.set(time.Now().UnixMilli())
	meta := &flakyMeta{MemoryStore: metadata.NewMemoryStore(metadata.Options{Now: server.Now})}
	return newEnvWith(t, meta, newMemRepo(), server, opts...)
}

func newEnvWith(t *testing.T, meta *flakyMeta, repo *memRepo, server *serverClock, opts ...func(*Config)) *env {
	t.Helper()
	ev := &env{
		cache:  cache.New(cache.Config{Dir: t.TempDir()}),
		meta:   meta,
		repo:   repo,
		net:    connectivity.NewSwitch(true),
		server: server,
	}
	cfg := Config{
		Cache:        ev.cache,
		Metadata:     ev.meta,
		Repository:   ev.repo,
		Connectivity: ev.net,
	}
	slow(&cfg)
	for _, opt := range opts {
		opt(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = e.Close()
	})
	ev.e = e
	return ev
}

func withBus(b bus.Broker) func(*Config) {
	return func(c *Config) { c.Bus = b }
}

// seedNote stores n as confirmed at `at` in both the metadata store and the
// cache.
func (ev *env) seedNote(t *testing.T, n core.Note, at int64) {
	t.Helper()
	rec := core.RecordFromNote(n, notefile.WordCount(n.Body))
	rec.CreatedAt = ms(at)
	rec.UpdatedAt = ms(at)
	ev.meta.Seed(rec)
	require.NoError(t, ev.cache.PutConfirmed(context.Background(), core.EntryFromNote(n), ms(at)))
}
