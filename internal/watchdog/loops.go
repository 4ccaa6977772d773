package watchdog

import (
	"context"
	"fmt"

	"github.com/steveyegge/fiberwatch/internal/events"
	"github.com/steveyegge/fiberwatch/internal/types"
)

const (
	// ReaperFiberName is the display name of the reaper loop fiber
	ReaperFiberName = "fiberwatch/reaper"
	// LagFiberName is the display name of the lag-detector fiber
	LagFiberName = "fiberwatch/watchdog"
)

// Start spawns the two background loops as fibers of the host scheduler: the
// reaper and, unless disabled by configuration, the lag detector. Cancellation
// of ctx is the shutdown request; each loop observes it at its next iteration
// boundary and finishes its current unit of work first.
func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return fmt.Errorf("watchdog already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.loopWG.Add(1)
	s.scheduler.Go(loopCtx, ReaperFiberName, func(fctx context.Context) {
		defer s.loopWG.Done()
		s.reaperLoop(fctx)
	})

	if s.cfg.WatchdogPeriod > 0 {
		s.loopWG.Add(1)
		s.scheduler.Go(loopCtx, LagFiberName, func(fctx context.Context) {
			defer s.loopWG.Done()
			s.lagLoop(fctx)
		})
	}

	fmt.Printf("fiberwatch: started (generation=%d, period=%v, watchdog_period=%v)\n",
		s.generation, s.cfg.Period, s.cfg.WatchdogPeriod)
	return nil
}

// Stop requests shutdown and waits for both loops to finish their current
// iteration and exit.
func (s *Service) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	s.loopWG.Wait()
	s.running = false
	fmt.Printf("fiberwatch: stopped (generation=%d)\n", s.generation)
}

// reaperLoop periodically reclaims temporary entries that are confirmed gone:
// absent from the live scheduler, previously surfaced clean by the evaluator
// (Reported), and either without heartbeat monitoring or with a recorded
// completion. It registers itself as monitored with thresholds comfortably
// above its own period so it cannot self-trigger stuck or coma.
func (s *Service) reaperLoop(ctx context.Context) {
	period := s.cfg.Period
	if _, err := s.Monitor(ctx, &MonitorOptions{
		TTL:       -1,
		CSWStuck:  4 * period,
		Heartrate: 4 * period,
	}); err != nil {
		fmt.Printf("fiberwatch: reaper failed to self-register: %v\n", err)
	}

	for {
		_ = s.Beat(ctx, 0)
		s.reapOnce(ctx)

		if err := s.scheduler.Sleep(ctx, period); err != nil {
			// Shutdown requested: declare a clean end-of-life so the next
			// generation's evaluator surfaces this entry clean and reaps it.
			// The loop context is already canceled, so the completion must be
			// persisted on a detached context or the store write is lost.
			_ = s.Done(context.WithoutCancel(ctx), 0)
			return
		}
	}
}

// reapOnce performs one reaper scan. Deletions are collected into a side list
// and applied only after the scan completes; the scan must never mutate the
// mapping it iterates. A failed scan is alerted and does not stop the loop.
func (s *Service) reapOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.dispatcher.Emit(events.NewAlertEvent(events.AlertReaperError, events.SeverityError,
				fmt.Sprintf("reaper scan failed: %v", r), nil))
		}
	}()

	snap := s.scheduler.Snapshot()

	s.mu.RLock()
	var confirmed []types.FiberID
	for id, entry := range s.temporary {
		if _, live := snap[id]; live {
			continue
		}
		if !entry.Reported {
			continue
		}
		if entry.HeartbeatEnabled() && entry.CompletedAt == nil {
			continue
		}
		confirmed = append(confirmed, id)
	}
	s.mu.RUnlock()

	for _, id := range confirmed {
		s.remove(ctx, id)
	}
	if len(confirmed) > 0 {
		s.metrics.ReapedAdd(len(confirmed))
	}

	s.lastReap.Store(s.clock.Now().UnixNano())
}

// lagLoop measures scheduling-loop latency: it sleeps for the configured
// watchdog period and compares the observed wall-clock elapsed against the
// lag threshold. Elapsed time over the threshold is logged and alerted; the
// measured loop time is always emitted for external telemetry.
func (s *Service) lagLoop(ctx context.Context) {
	period := s.cfg.WatchdogPeriod
	prev := s.clock.Now()

	for {
		if err := s.scheduler.Sleep(ctx, period); err != nil {
			return
		}

		now := s.clock.Now()
		elapsed := now.Sub(prev)
		prev = now

		if elapsed > s.cfg.WatchdogLag {
			fmt.Printf("fiberwatch: scheduler loop took %v (threshold %v, period %v)\n", elapsed, s.cfg.WatchdogLag, period)
			s.dispatcher.Emit(events.NewAlertEvent(events.AlertSchedulerLag, events.SeverityWarning,
				fmt.Sprintf("scheduler loop took %v", elapsed),
				map[string]interface{}{
					"loop_time_seconds": elapsed.Seconds(),
					"threshold_seconds": s.cfg.WatchdogLag.Seconds(),
				}))
			s.metrics.LagAlert()
		}

		s.dispatcher.Emit(events.NewLoopTimeEvent(elapsed))
		s.metrics.ObserveLoopTime(elapsed)
	}
}
