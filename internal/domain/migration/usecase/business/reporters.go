package business

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/deps"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
)

// Reporters fans an event out to every reporter in order
type Reporters []deps.Reporter

// Report implements deps.Reporter
func (rs Reporters) Report(ctx context.Context, event entities.Event) {
	for _, r := range rs {
		if r != nil {
			r.Report(ctx, event)
		}
	}
}

// LogReporter writes migration events to the structured log
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter creates a reporter backed by logger
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With().Str("component", "migration").Logger()}
}

// Report implements deps.Reporter
func (r *LogReporter) Report(_ context.Context, e entities.Event) {
	switch e.Type {
	case entities.EventBatchStarted:
		r.logger.Info().
			Str("run_id", e.RunID).
			Int("accounts", e.Total).
			Msg("Batch started")

	case entities.EventStateChanged:
		r.logger.Debug().
			Str("run_id", e.RunID).
			Str("phone", e.Phone).
			Str("state", string(e.State)).
			Msg("Migration state changed")

	case entities.EventAttemptFailed:
		r.logger.Warn().
			Str("run_id", e.RunID).
			Str("phone", e.Phone).
			Int("attempt", e.Attempt).
			Str("error", e.Error).
			Msg("Migration attempt failed")

	case entities.EventAccountFinished:
		switch {
		case !e.Success:
			ev := r.logger.Error().
				Str("run_id", e.RunID).
				Str("phone", e.Phone).
				Str("state", string(e.State)).
				Str("reason", string(e.Reason)).
				Str("error", e.Error)
			if e.Wait > 0 {
				ev = ev.Dur("wait", e.Wait)
			}
			ev.Msg("Account migration failed")
		case e.RetireErr != "":
			r.logger.Warn().
				Str("run_id", e.RunID).
				Str("phone", e.Phone).
				Str("retire_error", e.RetireErr).
				Msg("Account migrated, old session not retired")
		default:
			r.logger.Info().
				Str("run_id", e.RunID).
				Str("phone", e.Phone).
				Msg("Account migrated")
		}

	case entities.EventBatchFinished:
		ev := r.logger.Info()
		if e.Failed > 0 {
			ev = r.logger.Warn()
		}
		ev.Str("run_id", e.RunID).
			Int("total", e.Total).
			Int("succeeded", e.Succeeded).
			Int("failed", e.Failed).
			Msg(e.Summary)
	}
}
