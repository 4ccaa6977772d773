package store

import (
	"context"
	"sync"

	"github.com/steveyegge/fiberwatch/internal/types"
)

// Memory is an in-process Store. The host holds it across simulated reloads
// (tearing down one watchdog service and constructing the next over the same
// Memory), which is exactly the persistence contract the watchdog needs:
// survives code reload, not process restart.
type Memory struct {
	mu       sync.Mutex
	services map[string]*RegistrySnapshot
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{services: make(map[string]*RegistrySnapshot)}
}

// LoadRegistry returns a deep copy of the persisted registry for service.
func (m *Memory) LoadRegistry(_ context.Context, service string) (*RegistrySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := NewRegistrySnapshot()
	held, ok := m.services[service]
	if !ok {
		return snap, nil
	}
	for id, e := range held.Permanent {
		snap.Permanent[id] = e.Clone()
	}
	for id, e := range held.Temporary {
		snap.Temporary[id] = e.Clone()
	}
	return snap, nil
}

// SaveEntry upserts a deep copy of entry into the mapping selected by its
// IsPermanent flag, removing any copy from the other mapping.
func (m *Memory) SaveEntry(_ context.Context, service string, entry *types.MonitorEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.services[service]
	if !ok {
		held = NewRegistrySnapshot()
		m.services[service] = held
	}

	c := entry.Clone()
	if c.IsPermanent {
		delete(held.Temporary, c.ID)
		held.Permanent[c.ID] = c
	} else {
		delete(held.Permanent, c.ID)
		held.Temporary[c.ID] = c
	}
	return nil
}

// DeleteEntry removes the entry for id from both mappings.
func (m *Memory) DeleteEntry(_ context.Context, service string, id types.FiberID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.services[service]
	if !ok {
		return nil
	}
	delete(held.Permanent, id)
	delete(held.Temporary, id)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }
