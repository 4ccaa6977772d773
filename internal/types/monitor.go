package types

import "time"

// MonitorEntry is the registry record for one monitored fiber.
//
// Exactly one of TTL (temporary entries) or GracePeriod (permanent entries) is
// meaningful, selected by IsPermanent. An entry lives in at most one of the two
// registry mappings at a time.
type MonitorEntry struct {
	// ID is the scheduler-assigned fiber identifier captured at registration
	ID FiberID `json:"id"`
	// Name is the fiber display name captured at registration
	Name string `json:"name"`
	// Generation is the reload generation that created this entry
	Generation Generation `json:"generation"`

	// RegisteredAt is when the entry was created (reset when a generation
	// transition rewrites a permanent entry into a temporary one)
	RegisteredAt time.Time `json:"registered_at"`

	// ContextSwitches is the last context-switch count observed by the evaluator.
	// It is zero until the first evaluation; evaluation is its only update path.
	ContextSwitches uint64 `json:"context_switches"`
	// ContextSwitchUpdatedAt advances only when the observed counter changes
	ContextSwitchUpdatedAt time.Time `json:"context_switch_updated_at"`

	// StuckThreshold is the maximum time the context-switch count may remain
	// unchanged before the fiber is classified stuck
	StuckThreshold time.Duration `json:"stuck_threshold"`

	// HeartbeatThreshold is the maximum silence before the fiber is classified
	// comatose. Negative disables heartbeat monitoring for this entry.
	HeartbeatThreshold time.Duration `json:"heartbeat_threshold"`
	// HeartbeatUpdatedAt is the time of the most recent beat
	HeartbeatUpdatedAt time.Time `json:"heartbeat_updated_at"`

	// TTL is the time-to-live for temporary entries, counted from RegisteredAt
	TTL time.Duration `json:"ttl,omitempty"`
	// GracePeriod is the temporary TTL a permanent entry receives when it is
	// demoted across a generation transition
	GracePeriod time.Duration `json:"grace_period,omitempty"`
	// IsPermanent selects which registry mapping owns the entry
	IsPermanent bool `json:"is_permanent"`

	// CompletedAt is set when the fiber declares end-of-life via done()
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Reported is set once the evaluator has surfaced this entry clean (dead with
	// no anomalies); it marks the entry eligible for silent reclamation
	Reported bool `json:"reported"`
}

// HeartbeatEnabled reports whether heartbeat monitoring is active for this entry.
func (e *MonitorEntry) HeartbeatEnabled() bool {
	return e.HeartbeatThreshold >= 0
}

// Clone returns a deep copy of the entry.
func (e *MonitorEntry) Clone() *MonitorEntry {
	c := *e
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
