package watchdog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/fiberwatch/internal/types"
)

// AnomalyType categorizes a classified fiber anomaly.
type AnomalyType string

const (
	// AnomalyStuck: the context-switch count has not changed past its threshold
	AnomalyStuck AnomalyType = "fiber_stuck"
	// AnomalyComa: heartbeat silence past the heartbeat threshold
	AnomalyComa AnomalyType = "fiber_coma"
	// AnomalyZombie: declared done but still observed alive
	AnomalyZombie AnomalyType = "fiber_zombie"
	// AnomalyUndead: temporary entry alive past its time-to-live
	AnomalyUndead AnomalyType = "fiber_undead"
	// AnomalyDead: permanent entry missing from the live scheduler
	AnomalyDead AnomalyType = "fiber_dead"
	// AnomalyCrashed: vanished without declaring completion
	AnomalyCrashed AnomalyType = "fiber_crashed"
	// AnomalyBastard: live fiber with no monitor entry at all
	AnomalyBastard AnomalyType = "fiber_bastard"
)

// Short returns the anomaly name without the fiber_ prefix, as rendered in
// the human-readable table.
func (a AnomalyType) Short() string {
	return strings.TrimPrefix(string(a), "fiber_")
}

// Anomaly is one classified problem on a fiber report.
type Anomaly struct {
	// Type identifies the anomaly class
	Type AnomalyType `json:"type"`
	// Deadline is when the violated threshold expired (zero when the anomaly
	// has no deadline semantics, e.g. bastard)
	Deadline time.Time `json:"deadline,omitempty"`
	// UpdatedAt is the last relevant bookkeeping update
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	// ObservedAt is the evaluation time
	ObservedAt time.Time `json:"observed_at"`
}

// Status is the liveness of a reported fiber.
type Status string

const (
	StatusAlive Status = "alive"
	StatusDead  Status = "dead"
)

// Report is the evaluator's verdict on one fiber.
type Report struct {
	ID              types.FiberID    `json:"id"`
	Name            string           `json:"name"`
	ContextSwitches uint64           `json:"context_switches"`
	Generation      types.Generation `json:"generation"`
	Monitored       bool             `json:"monitored"`
	Status          Status           `json:"status"`
	Anomalies       []Anomaly        `json:"anomalies,omitempty"`
}

// PS evaluates the live scheduler snapshot against the registry and returns a
// per-fiber report. Clean dead temporary entries are not reported; they are
// marked eligible for reaping instead.
func (s *Service) PS(ctx context.Context) map[types.FiberID]*Report {
	return s.evaluate(ctx, false)
}

// PSTable evaluates like PS but renders the reports as a fixed-column table,
// sorted by fiber name descending. Table mode never marks entries for reaping.
func (s *Service) PSTable(ctx context.Context) []string {
	reports := s.evaluate(ctx, true)

	sorted := make([]*Report, 0, len(reports))
	for _, r := range reports {
		sorted = append(sorted, r)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name > sorted[j].Name
	})

	const rowFormat = "%-8s %-32s %-6s %-10s %-11s %s"
	lines := make([]string, 0, len(sorted)+1)
	lines = append(lines, fmt.Sprintf(rowFormat, "id", "name", "status", "monitored", "generation", "errors"))
	for _, r := range sorted {
		errs := "-"
		if len(r.Anomalies) > 0 {
			names := make([]string, len(r.Anomalies))
			for i, a := range r.Anomalies {
				names[i] = a.Type.Short()
			}
			errs = strings.Join(names, ",")
		}
		lines = append(lines, fmt.Sprintf(rowFormat,
			fmt.Sprintf("%d", r.ID),
			r.Name,
			string(r.Status),
			fmt.Sprintf("%t", r.Monitored),
			fmt.Sprintf("%d", r.Generation),
			errs))
	}
	return lines
}

// evaluate is the health-classification engine. It holds the registry lock
// for the whole pass: counter refresh, anomaly classification, and the
// reported-flag handshake are a single atomic step with respect to the
// monitor API and the reaper.
func (s *Service) evaluate(ctx context.Context, humanReadable bool) map[types.FiberID]*Report {
	snap := s.scheduler.Snapshot()
	now := s.clock.Now()

	reports := make(map[types.FiberID]*Report)
	var dirty []*types.MonitorEntry

	s.mu.Lock()

	for id, info := range snap {
		entry, monitored := s.lookupLocked(id)
		r := &Report{
			ID:              id,
			Name:            info.Name,
			ContextSwitches: info.ContextSwitches,
			Monitored:       monitored,
			Status:          StatusAlive,
		}

		if !monitored {
			if !s.bastardExempt(info.Name) {
				r.Anomalies = append(r.Anomalies, Anomaly{Type: AnomalyBastard, ObservedAt: now})
			}
			reports[id] = r
			continue
		}

		r.Generation = entry.Generation

		if info.ContextSwitches == entry.ContextSwitches {
			deadline := entry.ContextSwitchUpdatedAt.Add(entry.StuckThreshold)
			if now.After(deadline) {
				r.Anomalies = append(r.Anomalies, Anomaly{
					Type:       AnomalyStuck,
					Deadline:   deadline,
					UpdatedAt:  entry.ContextSwitchUpdatedAt,
					ObservedAt: now,
				})
			}
		} else {
			// The evaluator is the counter's only update path.
			entry.ContextSwitches = info.ContextSwitches
			entry.ContextSwitchUpdatedAt = now
			dirty = append(dirty, entry.Clone())
		}

		if entry.HeartbeatEnabled() {
			deadline := entry.HeartbeatUpdatedAt.Add(entry.HeartbeatThreshold)
			if now.After(deadline) {
				r.Anomalies = append(r.Anomalies, Anomaly{
					Type:       AnomalyComa,
					Deadline:   deadline,
					UpdatedAt:  entry.HeartbeatUpdatedAt,
					ObservedAt: now,
				})
			}
			if entry.CompletedAt != nil {
				r.Anomalies = append(r.Anomalies, Anomaly{
					Type:       AnomalyZombie,
					UpdatedAt:  *entry.CompletedAt,
					ObservedAt: now,
				})
			}
		}

		if !entry.IsPermanent {
			deadline := entry.RegisteredAt.Add(entry.TTL)
			if now.After(deadline) {
				r.Anomalies = append(r.Anomalies, Anomaly{
					Type:       AnomalyUndead,
					Deadline:   deadline,
					UpdatedAt:  entry.RegisteredAt,
					ObservedAt: now,
				})
			}
		}

		reports[id] = r
	}

	// Entries whose fiber is absent from the live snapshot.
	for _, mapping := range []map[types.FiberID]*types.MonitorEntry{s.permanent, s.temporary} {
		for id, entry := range mapping {
			if _, live := snap[id]; live {
				continue
			}

			r := &Report{
				ID:              id,
				Name:            entry.Name,
				ContextSwitches: entry.ContextSwitches,
				Generation:      entry.Generation,
				Monitored:       true,
				Status:          StatusDead,
			}
			if entry.IsPermanent {
				r.Anomalies = append(r.Anomalies, Anomaly{Type: AnomalyDead, ObservedAt: now})
			}
			if entry.HeartbeatEnabled() && entry.CompletedAt == nil {
				r.Anomalies = append(r.Anomalies, Anomaly{Type: AnomalyCrashed, ObservedAt: now})
			}

			if len(r.Anomalies) == 0 {
				// Surfaced clean: hand the entry over to the reaper instead of
				// reporting it. Table mode is read-only and skips the handshake.
				if !entry.IsPermanent && !humanReadable && !entry.Reported {
					entry.Reported = true
					dirty = append(dirty, entry.Clone())
				}
				continue
			}
			reports[id] = r
		}
	}

	permanentCount := len(s.permanent)
	temporaryCount := len(s.temporary)
	s.mu.Unlock()

	for _, entry := range dirty {
		s.saveClone(ctx, entry)
	}

	s.metrics.SetMonitored(permanentCount, temporaryCount)
	for _, r := range reports {
		for _, a := range r.Anomalies {
			s.metrics.AnomalyObserved(a.Type)
		}
	}

	return reports
}

// bastardExempt reports whether an unmonitored fiber name escapes the bastard
// anomaly: globally when bastards are allowed, otherwise by the exemption
// policy (default: ordered name masks, first match wins).
func (s *Service) bastardExempt(name string) bool {
	if s.cfg.AllowsBastards() {
		return true
	}
	return s.exempt(name)
}
