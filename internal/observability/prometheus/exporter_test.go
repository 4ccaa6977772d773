package prometheus

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/fiberwatch/internal/watchdog"
)

func TestExporter_Collectors(t *testing.T) {
	reg := prom.NewRegistry()
	e, err := NewExporter("fiberwatch", reg)
	require.NoError(t, err)

	e.SetMonitored(3, 2)
	e.AnomalyObserved(watchdog.AnomalyStuck)
	e.AnomalyObserved(watchdog.AnomalyStuck)
	e.AnomalyObserved(watchdog.AnomalyBastard)
	e.ReapedAdd(4)
	e.ObserveLoopTime(150 * time.Millisecond)
	e.LagAlert()

	assert.InDelta(t, 3, testutil.ToFloat64(e.monitoredFibers.WithLabelValues("permanent")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(e.monitoredFibers.WithLabelValues("temporary")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(e.anomaliesTotal.WithLabelValues("stuck")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(e.anomaliesTotal.WithLabelValues("bastard")), 1e-9)
	assert.InDelta(t, 4, testutil.ToFloat64(e.reapedTotal), 1e-9)
	assert.InDelta(t, 0.15, testutil.ToFloat64(e.loopTimeSeconds), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(e.lagAlertsTotal), 1e-9)
}

func TestExporter_ReregistrationTolerated(t *testing.T) {
	reg := prom.NewRegistry()
	_, err := NewExporter("fiberwatch", reg)
	require.NoError(t, err)
	_, err = NewExporter("fiberwatch", reg)
	require.NoError(t, err)
}
