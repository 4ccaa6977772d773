// Package sched defines the scheduler and clock collaborators the watchdog
// observes fibers through, and provides a goroutine-backed cooperative runtime
// used by the demo host and by tests.
package sched

import (
	"context"
	"time"

	"github.com/steveyegge/fiberwatch/internal/types"
)

// Scheduler is the runtime the watchdog monitors fibers through.
// Implementations must be safe for concurrent use.
type Scheduler interface {
	// Snapshot enumerates every currently-live fiber
	Snapshot() types.Snapshot

	// Lookup resolves a live fiber by id
	Lookup(id types.FiberID) (types.FiberInfo, bool)

	// Go spawns a named fiber. The fiber's identity travels on the context
	// passed to fn (see FromContext).
	Go(ctx context.Context, name string, fn func(context.Context)) types.FiberID

	// Yield hands control back to the scheduler and counts a context switch
	// for the calling fiber
	Yield(ctx context.Context)

	// Sleep suspends the calling fiber for d, counting a context switch.
	// Returns the context error if the context is canceled first.
	Sleep(ctx context.Context, d time.Duration) error
}

// Clock abstracts time so evaluation deadlines can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

type fiberKey struct{}

// WithFiber returns a context carrying the given fiber identity.
func WithFiber(ctx context.Context, id types.FiberID) context.Context {
	return context.WithValue(ctx, fiberKey{}, id)
}

// FromContext extracts the calling fiber's identity from its context.
// The second return is false when the context does not belong to a fiber.
func FromContext(ctx context.Context) (types.FiberID, bool) {
	id, ok := ctx.Value(fiberKey{}).(types.FiberID)
	return id, ok
}
