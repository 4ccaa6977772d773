package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/fiberwatch/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "fiberwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(id types.FiberID, permanent bool) *types.MonitorEntry {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	completed := now.Add(time.Minute)
	e := &types.MonitorEntry{
		ID:                     id,
		Name:                   "worker_7",
		Generation:             2,
		RegisteredAt:           now,
		ContextSwitches:        41,
		ContextSwitchUpdatedAt: now,
		HeartbeatThreshold:     2 * time.Second,
		HeartbeatUpdatedAt:     now,
		IsPermanent:            permanent,
		CompletedAt:            &completed,
		Reported:               true,
	}
	if permanent {
		e.GracePeriod = 10 * time.Minute
	} else {
		e.TTL = 90 * time.Second
	}
	return e
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	want := entry(9, false)
	require.NoError(t, s.SaveEntry(ctx, "svc", want))

	snap, err := s.LoadRegistry(ctx, "svc")
	require.NoError(t, err)
	require.Len(t, snap.Temporary, 1)
	got := snap.Temporary[9]
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Generation, got.Generation)
	assert.Equal(t, want.ContextSwitches, got.ContextSwitches)
	assert.Equal(t, want.TTL, got.TTL)
	assert.True(t, got.Reported)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, want.CompletedAt.Equal(*got.CompletedAt))
}

func TestSQLiteStore_UpsertMovesMapping(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveEntry(ctx, "svc", entry(4, true)))

	demoted := entry(4, false)
	require.NoError(t, s.SaveEntry(ctx, "svc", demoted))

	snap, err := s.LoadRegistry(ctx, "svc")
	require.NoError(t, err)
	assert.Empty(t, snap.Permanent)
	assert.Len(t, snap.Temporary, 1)
}

func TestSQLiteStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveEntry(ctx, "svc", entry(4, true)))
	require.NoError(t, s.DeleteEntry(ctx, "svc", 4))

	snap, err := s.LoadRegistry(ctx, "svc")
	require.NoError(t, err)
	assert.Empty(t, snap.Permanent)
	assert.Empty(t, snap.Temporary)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fiberwatch.db")

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveEntry(ctx, "svc", entry(11, true)))
	require.NoError(t, s.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	snap, err := reopened.LoadRegistry(ctx, "svc")
	require.NoError(t, err)
	assert.Len(t, snap.Permanent, 1)
}
