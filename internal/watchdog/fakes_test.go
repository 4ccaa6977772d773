package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steveyegge/fiberwatch/internal/events"
	"github.com/steveyegge/fiberwatch/internal/sched"
	"github.com/steveyegge/fiberwatch/internal/store"
	"github.com/steveyegge/fiberwatch/internal/types"
)

// fakeClock is a manually advanced clock so threshold deadlines can be tested
// deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeScheduler is a scriptable scheduler: tests add, mutate, and kill fibers
// directly instead of running goroutines.
type fakeScheduler struct {
	mu     sync.Mutex
	fibers map[types.FiberID]types.FiberInfo
	nextID types.FiberID
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{fibers: make(map[types.FiberID]types.FiberInfo)}
}

func (f *fakeScheduler) add(name string) types.FiberID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.fibers[id] = types.FiberInfo{ID: id, Name: name}
	return id
}

func (f *fakeScheduler) setContextSwitches(id types.FiberID, n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.fibers[id]
	info.ContextSwitches = n
	f.fibers[id] = info
}

func (f *fakeScheduler) kill(id types.FiberID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fibers, id)
}

func (f *fakeScheduler) Snapshot() types.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := make(types.Snapshot, len(f.fibers))
	for id, info := range f.fibers {
		snap[id] = info
	}
	return snap
}

func (f *fakeScheduler) Lookup(id types.FiberID) (types.FiberInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.fibers[id]
	return info, ok
}

func (f *fakeScheduler) Go(ctx context.Context, name string, fn func(context.Context)) types.FiberID {
	id := f.add(name)
	go func() {
		defer f.kill(id)
		fn(sched.WithFiber(ctx, id))
	}()
	return id
}

func (f *fakeScheduler) Yield(ctx context.Context) {
	if id, ok := sched.FromContext(ctx); ok {
		f.mu.Lock()
		info := f.fibers[id]
		info.ContextSwitches++
		f.fibers[id] = info
		f.mu.Unlock()
	}
}

func (f *fakeScheduler) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// captureSink records every emitted event.
type captureSink struct {
	mu     sync.Mutex
	events []*events.Event
}

func (c *captureSink) HandleEvent(e *events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureSink) countCode(code events.AlertCode) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Code == code {
			n++
		}
	}
	return n
}

func (c *captureSink) countCategory(cat events.Category) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Category == cat {
			n++
		}
	}
	return n
}

// testEnv bundles a service with its scriptable collaborators.
type testEnv struct {
	svc       *Service
	scheduler *fakeScheduler
	clock     *fakeClock
	store     *store.Memory
	sink      *captureSink
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	env := &testEnv{
		scheduler: newFakeScheduler(),
		clock:     newFakeClock(),
		store:     store.NewMemory(),
		sink:      &captureSink{},
	}

	svc, err := New(&Deps{
		Scheduler:  env.scheduler,
		Store:      env.store,
		ServiceID:  "test-service",
		Generation: 1,
		Clock:      env.clock,
		Config:     cfg,
	})
	require.NoError(t, err)

	svc.OnEvent(env.sink)
	env.svc = svc
	return env
}

// fiberCtx builds a context carrying the given fiber identity.
func fiberCtx(id types.FiberID) context.Context {
	return sched.WithFiber(context.Background(), id)
}
