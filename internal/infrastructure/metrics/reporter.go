package metrics

import (
	"context"
	"sync"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
)

// Reporter turns migration events into metric updates
type Reporter struct {
	m *Metrics

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewReporter creates a metrics-backed event reporter
func NewReporter(m *Metrics) *Reporter {
	return &Reporter{m: m, inFlight: make(map[string]struct{})}
}

// Report implements deps.Reporter
func (r *Reporter) Report(_ context.Context, e entities.Event) {
	switch e.Type {
	case entities.EventBatchStarted:
		r.m.RecordBatchStart(e.Total)

	case entities.EventStateChanged:
		if r.track(e.RunID + "/" + e.Key) {
			r.m.RecordAccountStart()
		}
		r.m.RecordStateTransition(string(e.State))
		if e.State == entities.StateSecretRotated {
			r.m.RecordSecretRotation()
		}

	case entities.EventAccountFinished:
		if !r.untrack(e.RunID + "/" + e.Key) {
			// failed before the first transition
			r.m.RecordAccountStart()
		}
		r.m.RecordMigration(e.Success, string(e.Reason), e.Attempt, e.Duration.Seconds())
		if e.Reason == entities.ReasonRateLimited {
			r.m.RecordRateLimit()
		}
		if e.RetireErr != "" {
			r.m.RecordRetireFailure()
		}

	case entities.EventBatchFinished:
		r.m.RecordBatchFinish(e.Duration.Seconds())
	}
}

func (r *Reporter) track(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inFlight[id]; ok {
		return false
	}
	r.inFlight[id] = struct{}{}
	return true
}

func (r *Reporter) untrack(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inFlight[id]
	delete(r.inFlight, id)
	return ok
}
