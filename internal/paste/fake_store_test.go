package paste

import (
	"context"
	"sync"
	"sync/atomic"

	"clibin/internal/storage"
)

type memoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{blobs: make(map[string][]byte)}
}

func (m *memoryStore) Create(ctx context.Context, id string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[id]; ok {
		return storage.ErrExists
	}
	m.blobs[id] = append([]byte(nil), blob...)
	return nil
}

func (m *memoryStore) Read(ctx context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *memoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.blobs, id)
	return nil
}

func (m *memoryStore) ListIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.blobs))
	for id := range m.blobs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[id]
	return ok
}

// countingStore counts calls and can inject failures.
type countingStore struct {
	storage.Store
	calls        atomic.Int32
	createErrs   []error
	deleteErr    error
	createCalled atomic.Int32
}

func (c *countingStore) Create(ctx context.Context, id string, blob []byte) error {
	c.calls.Add(1)
	n := int(c.createCalled.Add(1)) - 1
	if n < len(c.createErrs) && c.createErrs[n] != nil {
		return c.createErrs[n]
	}
	return c.Store.Create(ctx, id, blob)
}

func (c *countingStore) Read(ctx context.Context, id string) ([]byte, error) {
	c.calls.Add(1)
	return c.Store.Read(ctx, id)
}

func (c *countingStore) Delete(ctx context.Context, id string) error {
	c.calls.Add(1)
	if c.deleteErr != nil {
		return c.deleteErr
	}
	return c.Store.Delete(ctx, id)
}

func (c *countingStore) ListIDs(ctx context.Context) ([]string, error) {
	c.calls.Add(1)
	return c.Store.ListIDs(ctx)
}
