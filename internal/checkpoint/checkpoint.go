// Package checkpoint defines the store of per-flow read-progress markers.
// The store is the sole source of truth for which input units a Source-Flow
// and which upstream rows a Derived-Flow have already consumed.
package checkpoint

import (
	"context"
	"sort"
	"sync"

	"github.com/arkilian/flowgraph/pkg/types"
)

// Store persists flow checkpoints keyed by flow name.
type Store interface {
	// Get returns the checkpoint for flow, or nil if none was recorded.
	Get(ctx context.Context, flow string) (*types.Checkpoint, error)

	// Put records cp, replacing any previous checkpoint of cp.Flow.
	Put(ctx context.Context, cp types.Checkpoint) error

	// Reset removes the checkpoint of flow so the next pass starts from scratch.
	Reset(ctx context.Context, flow string) error

	// List returns all checkpoints ordered by flow name.
	List(ctx context.Context) ([]types.Checkpoint, error)
}

// MemoryStore is an in-process Store. It does not survive restarts.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]types.Checkpoint
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[string]types.Checkpoint)}
}

// Get returns the checkpoint for flow, or nil if none was recorded.
func (m *MemoryStore) Get(ctx context.Context, flow string) (*types.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[flow]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

// Put records cp.
func (m *MemoryStore) Put(ctx context.Context, cp types.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.checkpoints[cp.Flow] = cp
	m.mu.Unlock()
	return nil
}

// Reset removes the checkpoint of flow.
func (m *MemoryStore) Reset(ctx context.Context, flow string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.checkpoints, flow)
	m.mu.Unlock()
	return nil
}

// List returns all checkpoints ordered by flow name.
func (m *MemoryStore) List(ctx context.Context) ([]types.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]types.Checkpoint, 0, len(m.checkpoints))
	for _, cp := range m.checkpoints {
		out = append(out, cp)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Flow < out[j].Flow })
	return out, nil
}
