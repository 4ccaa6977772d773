package events

import (
	"sync"

	"golang.org/x/time/rate"
)

// Dispatcher fans events out to registered sinks.
//
// Alert events are throttled per alert code so a misbehaving fiber cannot
// flood observers; loop_time events always pass through since external
// telemetry expects every measurement.
type Dispatcher struct {
	mu       sync.RWMutex
	sinks    []Sink
	limiters map[AlertCode]*rate.Limiter

	alertRate  rate.Limit
	alertBurst int
}

// DispatcherOptions controls alert throttling.
type DispatcherOptions struct {
	// AlertsPerSecond is the sustained alert rate allowed per alert code.
	// Default: 1.
	AlertsPerSecond float64
	// AlertBurst is the burst size allowed per alert code. Default: 20.
	AlertBurst int
}

// NewDispatcher creates a dispatcher with default throttling.
func NewDispatcher() *Dispatcher {
	return NewDispatcherWithOptions(DispatcherOptions{})
}

// NewDispatcherWithOptions creates a dispatcher with explicit throttling.
func NewDispatcherWithOptions(opts DispatcherOptions) *Dispatcher {
	perSecond := opts.AlertsPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := opts.AlertBurst
	if burst <= 0 {
		burst = 20
	}
	return &Dispatcher{
		limiters:   make(map[AlertCode]*rate.Limiter),
		alertRate:  rate.Limit(perSecond),
		alertBurst: burst,
	}
}

// Subscribe registers a sink. Sinks cannot be removed; the dispatcher's
// lifetime matches the service that owns it.
func (d *Dispatcher) Subscribe(sink Sink) {
	if sink == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
}

// Emit delivers the event to every registered sink. Throttled alerts are
// dropped silently.
func (d *Dispatcher) Emit(e *Event) {
	if e == nil {
		return
	}
	if e.Category == CategoryAlert && !d.allow(e.Code) {
		return
	}

	d.mu.RLock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()

	for _, sink := range sinks {
		sink.HandleEvent(e)
	}
}

func (d *Dispatcher) allow(code AlertCode) bool {
	d.mu.Lock()
	limiter, ok := d.limiters[code]
	if !ok {
		limiter = rate.NewLimiter(d.alertRate, d.alertBurst)
		d.limiters[code] = limiter
	}
	d.mu.Unlock()
	return limiter.Allow()
}
