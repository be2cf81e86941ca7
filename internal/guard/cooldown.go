package guard

import (
	"context"
	"sync"
	"time"
)

// CooldownStore persists the last trade time per asset
type CooldownStore interface {
	LastTrade(ctx context.Context, assetID string) (time.Time, bool, error)
	SetLastTrade(ctx context.Context, assetID string, at time.Time) error
	ClearLastTrade(ctx context.Context, assetID string) error
}

// MemoryCooldowns is a process-local CooldownStore
type MemoryCooldowns struct {
	mu   sync.RWMutex
	last map[string]time.Time
}

// NewMemoryCooldowns creates an empty store
func NewMemoryCooldowns() *MemoryCooldowns {
	return &MemoryCooldowns{last: make(map[string]time.Time)}
}

func (m *MemoryCooldowns) LastTrade(_ context.Context, assetID string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.last[assetID]
	return t, ok, nil
}

func (m *MemoryCooldowns) SetLastTrade(_ context.Context, assetID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[assetID] = at
	return nil
}

func (m *MemoryCooldowns) ClearLastTrade(_ context.Context, assetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.last, assetID)
	return nil
}

// Snapshot returns a copy of every stamp
func (m *MemoryCooldowns) Snapshot() map[string]time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]time.Time, len(m.last))
	for k, v := range m.last {
		out[k] = v
	}
	return out
}
