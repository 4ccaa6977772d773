// Package store defines the cross-reload registry store: a key-value surface
// that survives hot code reload (and, for the SQLite backend, process restart)
// so a newly loaded generation can observe and migrate the previous
// generation's registrations.
package store

import (
	"context"

	"github.com/steveyegge/fiberwatch/internal/types"
)

// RegistrySnapshot is the persisted form of the watchdog registry: the
// permanent and temporary mappings, keyed by fiber id.
type RegistrySnapshot struct {
	Permanent map[types.FiberID]*types.MonitorEntry
	Temporary map[types.FiberID]*types.MonitorEntry
}

// NewRegistrySnapshot returns an empty snapshot with both mappings allocated.
func NewRegistrySnapshot() *RegistrySnapshot {
	return &RegistrySnapshot{
		Permanent: make(map[types.FiberID]*types.MonitorEntry),
		Temporary: make(map[types.FiberID]*types.MonitorEntry),
	}
}

// Store persists registry state across reload boundaries, keyed by a stable
// service identity. The watchdog writes through on every registry mutation and
// reads once at construction.
type Store interface {
	// LoadRegistry returns the persisted registry for the given service
	// identity. A service never seen before yields an empty snapshot.
	LoadRegistry(ctx context.Context, service string) (*RegistrySnapshot, error)

	// SaveEntry upserts one entry. The entry's IsPermanent flag selects the
	// mapping; a save removes any stale copy from the other mapping.
	SaveEntry(ctx context.Context, service string, entry *types.MonitorEntry) error

	// DeleteEntry removes the entry for the given fiber id from both mappings.
	DeleteEntry(ctx context.Context, service string, id types.FiberID) error

	// Close releases backend resources.
	Close() error
}
