package watchdog

import (
	"context"

	"github.com/steveyegge/fiberwatch/internal/events"
)

// ConsiderStable runs the evaluator and de-registers every fiber whose report
// carries at least one anomaly; a later re-registration starts fresh.
//
// A bastard anomaly is treated as a policy signal rather than a fault: once an
// operator-driven scan observes one, unmonitored fibers are evidently expected,
// so both bastard policy flags are flipped to permanently true (until restart)
// and a single reconfiguration alert is emitted to stop repeated alert noise.
//
// Returns true when the scan found no anomalies at all.
func (s *Service) ConsiderStable(ctx context.Context) bool {
	reports := s.evaluate(ctx, false)

	stable := true
	for _, r := range reports {
		if len(r.Anomalies) == 0 {
			continue
		}
		stable = false

		for _, a := range r.Anomalies {
			if a.Type == AnomalyBastard {
				s.allowBastards()
				break
			}
		}

		if r.Monitored {
			s.remove(ctx, r.ID)
		}
	}
	return stable
}

// allowBastards performs the one-shot escalation. The reconfiguration alert
// fires only on the call that actually changes a flag.
func (s *Service) allowBastards() {
	if !s.cfg.AllowAllBastards() {
		return
	}
	s.dispatcher.Emit(events.NewAlertEvent(events.AlertBastardsReconfigured, events.SeverityWarning,
		"unmonitored fibers observed; bastards and bastard beats are now allowed", nil))
}
