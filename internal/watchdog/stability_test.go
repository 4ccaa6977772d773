package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/fiberwatch/internal/events"
)

func TestConsiderStable_CleanRegistry(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.scheduler.add("worker")
	ctx := context.Background()

	_, err := env.svc.Monitor(ctx, &MonitorOptions{Fiber: id, TTL: -1})
	require.NoError(t, err)

	assert.True(t, env.svc.ConsiderStable(ctx))

	_, _, err = env.svc.MonitorInfo(id)
	assert.NoError(t, err, "healthy entries must survive a stability scan")
}

func TestConsiderStable_DeregistersUnhealthy(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.scheduler.add("worker")
	ctx := context.Background()

	_, err := env.svc.Monitor(ctx, &MonitorOptions{Fiber: id, TTL: -1, CSWStuck: time.Second})
	require.NoError(t, err)

	env.clock.Advance(5 * time.Second)
	assert.False(t, env.svc.ConsiderStable(ctx))

	_, _, err = env.svc.MonitorInfo(id)
	assert.ErrorIs(t, err, ErrNotMonitored, "stuck entry must be de-registered")

	snap, err := env.store.LoadRegistry(ctx, "test-service")
	require.NoError(t, err)
	assert.Empty(t, snap.Permanent)
	assert.Empty(t, snap.Temporary)
}

func TestConsiderStable_BastardEscalation(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.BastardsAllowed = false
		c.BastardsBeatsAllowed = false
		c.BastardsMasks = nil
	})
	id := env.scheduler.add("worker_7")
	ctx := context.Background()

	// First scan observes the bastard and escalates.
	assert.False(t, env.svc.ConsiderStable(ctx))
	assert.True(t, env.svc.Config().AllowsBastards())
	assert.True(t, env.svc.Config().AllowsBastardBeats())
	assert.Equal(t, 1, env.sink.countCode(events.AlertBastardsReconfigured))

	// The same unmonitored fiber is no longer an anomaly.
	reports := env.svc.PS(ctx)
	assert.Empty(t, anomalyTypes(reports[id]))

	// The escalation is one-shot: no further reconfiguration alerts.
	assert.True(t, env.svc.ConsiderStable(ctx))
	assert.Equal(t, 1, env.sink.countCode(events.AlertBastardsReconfigured))
}

func TestConsiderStable_ReregistrationStartsFresh(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.scheduler.add("worker")
	ctx := context.Background()

	_, err := env.svc.Monitor(ctx, &MonitorOptions{Fiber: id, TTL: -1, CSWStuck: time.Second})
	require.NoError(t, err)

	env.clock.Advance(5 * time.Second)
	require.False(t, env.svc.ConsiderStable(ctx))

	// Re-register: the new entry's stuck clock starts at re-registration.
	_, err = env.svc.Monitor(ctx, &MonitorOptions{Fiber: id, TTL: -1, CSWStuck: time.Second})
	require.NoError(t, err)

	reports := env.svc.PS(ctx)
	assert.Empty(t, anomalyTypes(reports[id]))
}
