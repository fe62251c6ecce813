package store

import (
	"context"
	"sync"

	"accord"
)

// MemoryStore is the default Executor backend (configs.Memory): an
// in-process map guarded by a mutex, with no durability of its own beyond
// whatever the node's Log records. It exists so a cluster can be exercised
// in tests and local simulation without a real database.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Read(ctx context.Context, id accord.TxId, keys accord.KeySet[string]) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ReadPayload, 0, keys.Len())
	for _, k := range keys.Slice() {
		v, ok := m.data[k]
		out = append(out, ReadPayload{Key: k, Value: v, Found: ok})
	}
	return out, nil
}

func (m *MemoryStore) Apply(ctx context.Context, id accord.TxId, writes any) (any, error) {
	if writes == nil {
		return nil, nil
	}
	ws, ok := writes.(WriteSet)
	if !ok {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[ws.Key] = ws.Value
	return nil, nil
}

// Snapshot returns a defensive copy, for tests asserting on applied state.
func (m *MemoryStore) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}
