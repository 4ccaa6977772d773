// Package events defines the typed event surface of the watchdog: alert and
// loop-time events, the sink contract observers register through, and the
// dispatcher that fans events out to sinks.
package events

import (
	"time"
)

// Category classifies an event at the top level.
type Category string

const (
	// CategoryAlert indicates an operational alert (usage error, unmonitored
	// signal, reconfiguration, background loop failure, scheduler lag)
	CategoryAlert Category = "alert"
	// CategoryLoopTime carries a scheduling-loop latency measurement
	CategoryLoopTime Category = "loop_time"
)

// AlertCode identifies the specific condition behind an alert event.
type AlertCode string

const (
	// AlertIncorrectUsage indicates a malformed call into the monitor API
	AlertIncorrectUsage AlertCode = "fiber_incorrect_usage"
	// AlertUnmonitoredBeat indicates beat() from a fiber with no monitor entry
	AlertUnmonitoredBeat AlertCode = "fiber_unmonitored_beat"
	// AlertUnmonitoredDone indicates done() from a fiber with no monitor entry
	AlertUnmonitoredDone AlertCode = "fiber_unmonitored_done"
	// AlertBastardsReconfigured indicates the stability controller flipped the
	// bastard policy flags to allow unmonitored fibers
	AlertBastardsReconfigured AlertCode = "fiber_bastards_reconfigured"
	// AlertReaperError indicates a reaper scan iteration failed
	AlertReaperError AlertCode = "fiber_reaper_error"
	// AlertSchedulerLag indicates the lag detector measured excess loop latency
	AlertSchedulerLag AlertCode = "fiber_scheduler_lag"
	// AlertStoreError indicates a cross-reload store write failed
	AlertStoreError AlertCode = "fiber_store_error"
)

// Severity indicates how urgent an event is.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a single structured event emitted by the watchdog.
type Event struct {
	// ID is a unique event identifier
	ID string `json:"id"`
	// Category is the top-level event class
	Category Category `json:"category"`
	// Code identifies the alert condition; empty for loop_time events
	Code AlertCode `json:"code,omitempty"`
	// Timestamp is when the event was created
	Timestamp time.Time `json:"timestamp"`
	// Severity indicates urgency
	Severity Severity `json:"severity"`
	// Message is a human-readable description
	Message string `json:"message"`
	// Data carries structured detail (fiber id, measured durations, errors)
	Data map[string]interface{} `json:"data,omitempty"`
}

// Sink receives events from the dispatcher. Implementations must not block;
// slow consumers should buffer on their side.
type Sink interface {
	HandleEvent(e *Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e *Event)

// HandleEvent invokes the function.
func (f SinkFunc) HandleEvent(e *Event) { f(e) }
