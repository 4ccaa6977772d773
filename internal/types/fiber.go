package types

// FiberID identifies a live fiber within the scheduler.
// IDs are unique among currently-live fibers and are not reused while the fiber lives.
type FiberID uint64

// Generation counts hot code reloads of the host process.
// The host supplies it as a monotonically increasing counter; entries tagged with an
// older generation predate the current reload.
type Generation uint64

// FiberInfo is the scheduler's view of a single live fiber.
type FiberInfo struct {
	// ID is the scheduler-assigned fiber identifier
	ID FiberID
	// Name is the display name assigned at spawn time
	Name string
	// ContextSwitches counts how many times the fiber has yielded control
	ContextSwitches uint64
}

// Snapshot maps every currently-live fiber to its scheduler state.
// It is a point-in-time copy; mutating it has no effect on the scheduler.
type Snapshot map[FiberID]FiberInfo
