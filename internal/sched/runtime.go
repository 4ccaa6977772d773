package sched

import (
	"context"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/steveyegge/fiberwatch/internal/types"
)

// Runtime is a simulated cooperative fiber host backed by goroutines.
// Each fiber is a goroutine whose context carries its identity; Yield and Sleep
// bump the fiber's context-switch counter the way a cooperative scheduler's
// suspension points would. Finished fibers leave the snapshot immediately.
type Runtime struct {
	fibers cmap.ConcurrentMap[string, *fiber]
	nextID atomic.Uint64
	wg     sync.WaitGroup
}

var _ Scheduler = (*Runtime)(nil)

type fiber struct {
	id   types.FiberID
	name string
	csw  atomic.Uint64
}

// NewRuntime creates an empty simulated runtime.
func NewRuntime() *Runtime {
	return &Runtime{
		fibers: cmap.New[*fiber](),
	}
}

func fiberKeyOf(id types.FiberID) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Go spawns a named fiber running fn. The fiber appears in snapshots until fn
// returns. The returned id identifies the fiber for its entire life.
func (r *Runtime) Go(ctx context.Context, name string, fn func(context.Context)) types.FiberID {
	id := types.FiberID(r.nextID.Add(1))
	f := &fiber{id: id, name: name}
	r.fibers.Set(fiberKeyOf(id), f)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.fibers.Remove(fiberKeyOf(id))
		fn(WithFiber(ctx, id))
	}()

	return id
}

// Yield records a context switch for the calling fiber and lets other
// goroutines run.
func (r *Runtime) Yield(ctx context.Context) {
	if f := r.self(ctx); f != nil {
		f.csw.Add(1)
	}
	runtime.Gosched()
}

// Sleep suspends the calling fiber for d, recording a context switch.
func (r *Runtime) Sleep(ctx context.Context, d time.Duration) error {
	if f := r.self(ctx); f != nil {
		f.csw.Add(1)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Snapshot returns the live fiber table as a point-in-time copy.
func (r *Runtime) Snapshot() types.Snapshot {
	snap := make(types.Snapshot, r.fibers.Count())
	for tuple := range r.fibers.IterBuffered() {
		f := tuple.Val
		snap[f.id] = types.FiberInfo{
			ID:              f.id,
			Name:            f.name,
			ContextSwitches: f.csw.Load(),
		}
	}
	return snap
}

// Lookup resolves a live fiber by id.
func (r *Runtime) Lookup(id types.FiberID) (types.FiberInfo, bool) {
	f, ok := r.fibers.Get(fiberKeyOf(id))
	if !ok {
		return types.FiberInfo{}, false
	}
	return types.FiberInfo{ID: f.id, Name: f.name, ContextSwitches: f.csw.Load()}, true
}

// Wait blocks until every spawned fiber has returned.
func (r *Runtime) Wait() {
	r.wg.Wait()
}

func (r *Runtime) self(ctx context.Context) *fiber {
	id, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	f, ok := r.fibers.Get(fiberKeyOf(id))
	if !ok {
		return nil
	}
	return f
}
