package watchdog

import "time"

// Metrics receives watchdog telemetry. The core never talks to a metrics
// backend directly; hosts plug in an exporter (see
// internal/observability/prometheus) or leave the default no-op.
type Metrics interface {
	// SetMonitored reports the current registry sizes
	SetMonitored(permanent, temporary int)
	// AnomalyObserved counts one classified anomaly
	AnomalyObserved(t AnomalyType)
	// ReapedAdd counts entries removed by the reaper
	ReapedAdd(n int)
	// ObserveLoopTime records one lag-detector measurement
	ObserveLoopTime(d time.Duration)
	// LagAlert counts one scheduling-lag alert
	LagAlert()
}

// NopMetrics discards all telemetry.
type NopMetrics struct{}

func (NopMetrics) SetMonitored(permanent, temporary int) {}
func (NopMetrics) AnomalyObserved(t AnomalyType)         {}
func (NopMetrics) ReapedAdd(n int)                       {}
func (NopMetrics) ObserveLoopTime(d time.Duration)       {}
func (NopMetrics) LagAlert()                             {}
