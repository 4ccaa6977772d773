// Package watchdog implements the liveness watchdog for cooperative fibers:
// the registry of monitored fibers, the health-classification engine, the
// generation-transition logic that migrates state across a hot reload
// boundary, and the reaper and lag-detector background loops.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/steveyegge/fiberwatch/internal/events"
	"github.com/steveyegge/fiberwatch/internal/sched"
	"github.com/steveyegge/fiberwatch/internal/store"
	"github.com/steveyegge/fiberwatch/internal/types"
)

var (
	// ErrIncorrectUsage indicates a malformed call into the monitor API.
	// These are fatal to the caller and also alerted; the call site is
	// expected to be fixed.
	ErrIncorrectUsage = errors.New("incorrect usage")

	// ErrNotMonitored indicates the fiber has no registry entry.
	ErrNotMonitored = errors.New("fiber is not monitored")
)

// Service is the monitor service instance owned by the host application.
// It is constructed at startup with injected scheduler, clock, and store
// collaborators and torn down explicitly; there is no ambient global state.
type Service struct {
	mu        sync.RWMutex
	permanent map[types.FiberID]*types.MonitorEntry
	temporary map[types.FiberID]*types.MonitorEntry

	cfg        *Config
	scheduler  sched.Scheduler
	clock      sched.Clock
	registry   store.Store
	dispatcher *events.Dispatcher
	metrics    Metrics
	exempt     Exemption

	serviceID  string
	generation types.Generation

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup

	// lastReap holds the UnixNano of the most recent completed reaper pass,
	// for host readiness probes
	lastReap atomic.Int64
}

// Deps holds dependencies for creating a Service.
type Deps struct {
	// Scheduler is the fiber runtime to observe (required)
	Scheduler sched.Scheduler
	// Store is the cross-reload registry store (required)
	Store store.Store
	// ServiceID is the stable identity registry state is keyed by (required)
	ServiceID string
	// Generation is the host's current reload generation
	Generation types.Generation
	// Clock defaults to the system clock
	Clock sched.Clock
	// Config defaults to DefaultConfig
	Config *Config
	// Metrics defaults to a no-op implementation
	Metrics Metrics
	// Exemption overrides the mask-based bastard exemption policy
	Exemption Exemption
}

// New creates a monitor service, loads prior-generation registry state from
// the store, and runs the generation transition. It must be called before any
// registration of the new generation.
func New(deps *Deps) (*Service, error) {
	if deps == nil {
		return nil, fmt.Errorf("deps are required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.ServiceID == "" {
		return nil, fmt.Errorf("service_id is required")
	}

	cfg := deps.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clock := deps.Clock
	if clock == nil {
		clock = sched.SystemClock{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}

	exempt := deps.Exemption
	if exempt == nil {
		var err error
		exempt, err = MaskExemption(cfg.BastardsMasks)
		if err != nil {
			return nil, err
		}
	}

	ctx := context.Background()
	loaded, err := deps.Store.LoadRegistry(ctx, deps.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}

	s := &Service{
		permanent:  loaded.Permanent,
		temporary:  loaded.Temporary,
		cfg:        cfg,
		scheduler:  deps.Scheduler,
		clock:      clock,
		registry:   deps.Store,
		dispatcher: events.NewDispatcher(),
		metrics:    metrics,
		exempt:     exempt,
		serviceID:  deps.ServiceID,
		generation: deps.Generation,
	}

	s.migrateGeneration(ctx)
	return s, nil
}

// MonitorOptions controls registration of a fiber.
//
// The zero value registers the calling fiber as a temporary entry with a zero
// TTL; use DefaultMonitorOptions (or pass nil to Monitor) for a permanent
// registration with configured thresholds.
type MonitorOptions struct {
	// Fiber is the fiber to register; zero means the calling fiber
	Fiber types.FiberID
	// TTL bounds the fiber's lifetime. Negative registers a permanent entry.
	TTL time.Duration
	// Delay is the grace period applied if a generation transition later
	// demotes this (permanent) entry; zero uses the configured default
	Delay time.Duration
	// CSWStuck overrides the stuck threshold; zero uses the configured default
	CSWStuck time.Duration
	// Heartrate overrides the heartbeat threshold (negative disables
	// heartbeat monitoring); zero uses the configured default
	Heartrate time.Duration
}

// DefaultMonitorOptions returns options for a permanent registration of the
// calling fiber with all thresholds taken from the service config.
func DefaultMonitorOptions() *MonitorOptions {
	return &MonitorOptions{TTL: -1}
}

// Monitor registers a fiber for liveness monitoring. A prior entry for the
// same fiber id is overwritten. Returns the registered fiber id.
func (s *Service) Monitor(ctx context.Context, opts *MonitorOptions) (types.FiberID, error) {
	if opts == nil {
		opts = DefaultMonitorOptions()
	}
	if opts.CSWStuck < 0 {
		return 0, s.usageError("csw_stuck must be non-negative (got %v)", opts.CSWStuck)
	}
	if opts.Delay < 0 {
		return 0, s.usageError("delay must be non-negative (got %v)", opts.Delay)
	}

	id, err := s.resolveFiber(ctx, opts.Fiber)
	if err != nil {
		return 0, err
	}
	info, ok := s.scheduler.Lookup(id)
	if !ok {
		return 0, s.usageError("fiber %d is not a live fiber", id)
	}

	stuck := opts.CSWStuck
	if stuck == 0 {
		stuck = s.cfg.CSWStuck
	}
	heartrate := opts.Heartrate
	if heartrate == 0 {
		heartrate = s.cfg.Heartrate
	}
	delay := opts.Delay
	if delay == 0 {
		delay = s.cfg.Delay
	}

	now := s.clock.Now()
	entry := &types.MonitorEntry{
		ID:                     id,
		Name:                   info.Name,
		Generation:             s.generation,
		RegisteredAt:           now,
		ContextSwitchUpdatedAt: now,
		StuckThreshold:         stuck,
		HeartbeatThreshold:     heartrate,
		HeartbeatUpdatedAt:     now,
		IsPermanent:            opts.TTL < 0,
	}
	if entry.IsPermanent {
		entry.GracePeriod = delay
	} else {
		entry.TTL = opts.TTL
	}

	s.mu.Lock()
	delete(s.permanent, id)
	delete(s.temporary, id)
	if entry.IsPermanent {
		s.permanent[id] = entry
	} else {
		s.temporary[id] = entry
	}
	s.mu.Unlock()

	s.saveEntry(ctx, entry)
	return id, nil
}

// Beat records a heartbeat for the given fiber (zero means the calling
// fiber). An unmonitored beat is alerted unless the configuration allows
// bastard beats; either way it never creates an entry.
func (s *Service) Beat(ctx context.Context, fiber types.FiberID) error {
	id, err := s.resolveFiber(ctx, fiber)
	if err != nil {
		return err
	}

	s.mu.Lock()
	entry, ok := s.lookupLocked(id)
	if !ok {
		s.mu.Unlock()
		if !s.cfg.AllowsBastardBeats() {
			s.dispatcher.Emit(events.NewAlertEvent(events.AlertUnmonitoredBeat, events.SeverityWarning,
				fmt.Sprintf("beat from unmonitored fiber %d", id),
				map[string]interface{}{"fiber_id": uint64(id)}))
		}
		return ErrNotMonitored
	}
	entry.HeartbeatUpdatedAt = s.clock.Now()
	saved := entry.Clone()
	s.mu.Unlock()

	s.saveClone(ctx, saved)
	return nil
}

// Done records that the fiber has declared end-of-life. The fiber may still
// be observed alive afterward; with heartbeat monitoring enabled that is
// classified as a zombie by the evaluator.
func (s *Service) Done(ctx context.Context, fiber types.FiberID) error {
	id, err := s.resolveFiber(ctx, fiber)
	if err != nil {
		return err
	}

	s.mu.Lock()
	entry, ok := s.lookupLocked(id)
	if !ok {
		s.mu.Unlock()
		if !s.cfg.AllowsBastardBeats() {
			s.dispatcher.Emit(events.NewAlertEvent(events.AlertUnmonitoredDone, events.SeverityWarning,
				fmt.Sprintf("done from unmonitored fiber %d", id),
				map[string]interface{}{"fiber_id": uint64(id)}))
		}
		return ErrNotMonitored
	}
	now := s.clock.Now()
	entry.CompletedAt = &now
	saved := entry.Clone()
	s.mu.Unlock()

	s.saveClone(ctx, saved)
	return nil
}

// MonitorInfo resolves a fiber id to its registry entry (a copy) and, when the
// fiber is still live, its scheduler state.
func (s *Service) MonitorInfo(id types.FiberID) (*types.MonitorEntry, *types.FiberInfo, error) {
	if id == 0 {
		return nil, nil, s.usageError("fiber id is required")
	}

	s.mu.RLock()
	entry, ok := s.lookupLocked(id)
	var c *types.MonitorEntry
	if ok {
		c = entry.Clone()
	}
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrNotMonitored
	}

	var live *types.FiberInfo
	if info, alive := s.scheduler.Lookup(id); alive {
		live = &info
	}
	return c, live, nil
}

// OnEvent registers an event sink for alert and loop_time events.
func (s *Service) OnEvent(sink events.Sink) {
	s.dispatcher.Subscribe(sink)
}

// Generation returns the reload generation this service was constructed at.
func (s *Service) Generation() types.Generation {
	return s.generation
}

// LastReap returns the completion time of the most recent reaper pass, or the
// zero time if the reaper has not completed a pass yet.
func (s *Service) LastReap() time.Time {
	nanos := s.lastReap.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.cfg
}

// lookupLocked checks the permanent mapping, then the temporary one.
// Callers hold s.mu.
func (s *Service) lookupLocked(id types.FiberID) (*types.MonitorEntry, bool) {
	if e, ok := s.permanent[id]; ok {
		return e, true
	}
	if e, ok := s.temporary[id]; ok {
		return e, true
	}
	return nil, false
}

// remove de-registers a fiber from both mappings and the store.
func (s *Service) remove(ctx context.Context, id types.FiberID) {
	s.mu.Lock()
	delete(s.permanent, id)
	delete(s.temporary, id)
	s.mu.Unlock()

	if err := s.registry.DeleteEntry(ctx, s.serviceID, id); err != nil {
		s.storeError(err)
	}
}

// saveEntry persists a registry entry. Callers must not hold s.mu; the entry
// is cloned under the lock before writing.
func (s *Service) saveEntry(ctx context.Context, entry *types.MonitorEntry) {
	s.mu.RLock()
	saved := entry.Clone()
	s.mu.RUnlock()
	s.saveClone(ctx, saved)
}

// saveClone writes an already-copied entry through to the store. Store
// failures degrade to alerts: monitoring keeps working from memory.
func (s *Service) saveClone(ctx context.Context, entry *types.MonitorEntry) {
	if err := s.registry.SaveEntry(ctx, s.serviceID, entry); err != nil {
		s.storeError(err)
	}
}

func (s *Service) storeError(err error) {
	s.dispatcher.Emit(events.NewAlertEvent(events.AlertStoreError, events.SeverityError,
		fmt.Sprintf("registry store write failed: %v", err), nil))
}

// resolveFiber picks the explicit fiber id or falls back to the calling
// fiber's identity on the context.
func (s *Service) resolveFiber(ctx context.Context, explicit types.FiberID) (types.FiberID, error) {
	if explicit != 0 {
		return explicit, nil
	}
	id, ok := sched.FromContext(ctx)
	if !ok {
		return 0, s.usageError("no fiber handle given and caller is not a fiber")
	}
	return id, nil
}

func (s *Service) usageError(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	s.dispatcher.Emit(events.NewAlertEvent(events.AlertIncorrectUsage, events.SeverityError, msg, nil))
	return fmt.Errorf("%w: %s", ErrIncorrectUsage, msg)
}
