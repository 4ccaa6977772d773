package watchdog

import (
	"context"

	"github.com/steveyegge/fiberwatch/internal/types"
)

// migrateGeneration runs once at construction, before any new registrations.
// Every permanent entry created by an older reload generation is demoted to a
// temporary entry with a grace-period TTL: the previously-permanent fiber gets
// one grace window to re-register (overwriting the temporary copy) before the
// reload takes full effect, or to be reaped as genuinely gone.
//
// Name, generation tag, context-switch counters, and heartbeat timestamps are
// preserved; RegisteredAt is reset so the TTL counts from the transition.
func (s *Service) migrateGeneration(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	var demoted []*types.MonitorEntry
	for id, entry := range s.permanent {
		if entry.Generation == s.generation {
			continue
		}
		delete(s.permanent, id)

		entry.IsPermanent = false
		ttl := entry.GracePeriod
		if ttl <= 0 {
			ttl = s.cfg.Delay
		}
		entry.TTL = ttl
		entry.GracePeriod = 0
		entry.RegisteredAt = now
		s.temporary[id] = entry

		demoted = append(demoted, entry.Clone())
	}
	s.mu.Unlock()

	for _, entry := range demoted {
		s.saveClone(ctx, entry)
	}
}
