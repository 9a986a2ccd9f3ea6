package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memGeneration struct {
	seq     int
	entries map[string]Snapshot
}

// MemStore is a CacheStore keeping all generations in memory.
type MemStore struct {
	mutex   *sync.RWMutex
	db      map[string]*memGeneration
	nextSeq int
	closed  bool
	now     func() time.Time
}

var _ CacheStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		mutex: &sync.RWMutex{},
		db:    make(map[string]*memGeneration),
		now:   time.Now,
	}
}

func (m *MemStore) Open(ctx context.Context, name string) (Handle, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if _, ok := m.db[name]; !ok {
		m.db[name] = &memGeneration{seq: m.nextSeq, entries: make(map[string]Snapshot)}
		m.nextSeq++
	}
	return memHandle{store: m, name: name}, nil
}

func (m *MemStore) Has(ctx context.Context, name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[name]
	return ok, nil
}

func (m *MemStore) Keys(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.orderedNames(), nil
}

func (m *MemStore) Delete(ctx context.Context, name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.db[name]; !ok {
		return false, nil
	}
	delete(m.db, name)
	return true, nil
}

func (m *MemStore) Match(ctx context.Context, key string) (*Snapshot, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, name := range m.orderedNames() {
		if s, ok := m.db[name].entries[key]; ok {
			c := s.Clone()
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemStore) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	return nil
}

// orderedNames must be called with the mutex held.
func (m *MemStore) orderedNames() []string {
	names := make([]string, 0, len(m.db))
	for name := range m.db {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return m.db[names[i]].seq < m.db[names[j]].seq
	})
	return names
}

type memHandle struct {
	store *MemStore
	name  string
}

func (h memHandle) Name() string {
	return h.name
}

func (h memHandle) Get(ctx context.Context, key string) (*Snapshot, error) {
	h.store.mutex.RLock()
	defer h.store.mutex.RUnlock()
	gen, ok := h.store.db[h.name]
	if !ok {
		return nil, nil
	}
	s, ok := gen.entries[key]
	if !ok {
		return nil, nil
	}
	c := s.Clone()
	return &c, nil
}

func (h memHandle) Put(ctx context.Context, key string, snapshot Snapshot) error {
	return h.PutAll(ctx, map[string]Snapshot{key: snapshot})
}

func (h memHandle) PutAll(ctx context.Context, snapshots map[string]Snapshot) error {
	h.store.mutex.Lock()
	defer h.store.mutex.Unlock()
	if h.store.closed {
		return ErrClosed
	}
	gen, ok := h.store.db[h.name]
	// a handle outlives a deleted generation, writing recreates it
	if !ok {
		gen = &memGeneration{seq: h.store.nextSeq, entries: make(map[string]Snapshot)}
		h.store.nextSeq++
		h.store.db[h.name] = gen
	}
	now := h.store.now()
	for key, s := range snapshots {
		c := s.Clone()
		c.StoredAt = now
		gen.entries[key] = c
	}
	return nil
}

func (h memHandle) Keys(ctx context.Context) ([]string, error) {
	h.store.mutex.RLock()
	defer h.store.mutex.RUnlock()
	gen, ok := h.store.db[h.name]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(gen.entries))
	for key := range gen.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
