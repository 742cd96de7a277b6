package metadata

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/YusukeImai797/Gitnote/pkg/core"
)

// MemoryStore is an in-process core.MetadataStore.
type MemoryStore struct {
	opts    Options
	mu      sync.RWMutex
	records map[string]core.MetadataRecord
}

var _ core.MetadataStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:    opts.withDefaults(),
		records: make(map[string]core.MetadataRecord),
	}
}

// Seed stores rec verbatim, bypassing the optimistic lock. Used to load
// fixtures and by tests.
func (m *MemoryStore) Seed(rec core.MetadataRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
}

func (m *MemoryStore) Get(ctx context.Context, id string) (core.MetadataRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return core.MetadataRecord{}, core.Errorf(core.KindNotFound, "metadata.get", "note %s not found", id)
	}
	rec.Tags = slices.Clone(rec.Tags)
	return rec, nil
}

func (m *MemoryStore) Save(ctx context.Context, rec core.MetadataRecord, expected time.Time) (core.MetadataRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stored *core.MetadataRecord
	if cur, ok := m.records[rec.ID]; ok {
		stored = &cur
	}
	next, err := resolveSave(stored, rec, expected, m.opts)
	if err != nil {
		return core.MetadataRecord{}, err
	}
	m.records[next.ID] = next
	return next, nil
}

func (m *MemoryStore) SetLocation(ctx context.Context, id, path, revision string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return core.Errorf(core.KindNotFound, "metadata.set_location", "note %s not found", id)
	}
	rec.Path = path
	rec.Revision = revision
	m.records[id] = rec
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]core.MetadataRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.MetadataRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
