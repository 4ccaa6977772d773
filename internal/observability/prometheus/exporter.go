// Package prometheus adapts watchdog.Metrics to Prometheus collectors.
package prometheus

import (
	"errors"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/steveyegge/fiberwatch/internal/watchdog"
)

// Exporter implements watchdog.Metrics on Prometheus collectors.
type Exporter struct {
	monitoredFibers *prom.GaugeVec
	anomaliesTotal  *prom.CounterVec
	reapedTotal     prom.Counter
	loopTimeSeconds prom.Gauge
	lagAlertsTotal  prom.Counter
}

var _ watchdog.Metrics = (*Exporter)(nil)

// NewExporter creates and registers the watchdog collectors. A nil registerer
// uses the Prometheus default.
func NewExporter(namespace string, reg prom.Registerer) (*Exporter, error) {
	if namespace == "" {
		namespace = "fiberwatch"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	e := &Exporter{
		monitoredFibers: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "monitored_fibers",
			Help:      "Current number of monitored fibers per registry kind.",
		}, []string{"kind"}),
		anomaliesTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Total number of classified fiber anomalies.",
		}, []string{"type"}),
		reapedTotal: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_total",
			Help:      "Total number of temporary entries reclaimed by the reaper.",
		}),
		loopTimeSeconds: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_time_seconds",
			Help:      "Most recent scheduling-loop time measured by the lag detector.",
		}),
		lagAlertsTotal: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_lag_alerts_total",
			Help:      "Total number of scheduling-lag alerts.",
		}),
	}

	for _, c := range []prom.Collector{
		e.monitoredFibers, e.anomaliesTotal, e.reapedTotal, e.loopTimeSeconds, e.lagAlertsTotal,
	} {
		if err := register(reg, c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// register tolerates re-registration so two services in one process can share
// a registry.
func register(reg prom.Registerer, c prom.Collector) error {
	err := reg.Register(c)
	if err == nil {
		return nil
	}
	var already prom.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}

// SetMonitored reports the current registry sizes.
func (e *Exporter) SetMonitored(permanent, temporary int) {
	e.monitoredFibers.WithLabelValues("permanent").Set(float64(permanent))
	e.monitoredFibers.WithLabelValues("temporary").Set(float64(temporary))
}

// AnomalyObserved counts one classified anomaly by its short name.
func (e *Exporter) AnomalyObserved(t watchdog.AnomalyType) {
	e.anomaliesTotal.WithLabelValues(t.Short()).Inc()
}

// ReapedAdd counts entries removed by the reaper.
func (e *Exporter) ReapedAdd(n int) {
	e.reapedTotal.Add(float64(n))
}

// ObserveLoopTime records one lag-detector measurement.
func (e *Exporter) ObserveLoopTime(d time.Duration) {
	e.loopTimeSeconds.Set(d.Seconds())
}

// LagAlert counts one scheduling-lag alert.
func (e *Exporter) LagAlert() {
	e.lagAlertsTotal.Inc()
}
