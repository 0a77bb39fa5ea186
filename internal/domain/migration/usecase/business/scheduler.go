package business

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/deps"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
	migerrors "github.com/Conte777/tg-session-migrator/internal/domain/migration/errors"
)

// AccountMigrator migrates a single account
type AccountMigrator interface {
	Migrate(ctx context.Context, runID, key string, settings entities.BatchSettings) entities.Outcome
}

// Scheduler runs one migration per stored account under a concurrency limit.
// A Scheduler runs at most one batch at a time.
type Scheduler struct {
	store    deps.RecordStore
	settings deps.SettingsSource
	migrator AccountMigrator
	journal  deps.Journal
	reporter deps.Reporter
	logger   zerolog.Logger
	now      func() time.Time

	running atomic.Bool
	mu      sync.RWMutex
	status  entities.RunStatus
}

// NewScheduler creates a batch scheduler. journal and reporter may be nil.
func NewScheduler(
	store deps.RecordStore,
	settings deps.SettingsSource,
	migrator AccountMigrator,
	journal deps.Journal,
	reporter deps.Reporter,
	logger zerolog.Logger,
) *Scheduler {
	if reporter == nil {
		reporter = Reporters{}
	}
	return &Scheduler{
		store:    store,
		settings: settings,
		migrator: migrator,
		journal:  journal,
		reporter: reporter,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
		status:   entities.RunStatus{State: entities.RunIdle},
	}
}

// Run migrates every stored account and returns the aggregated result.
// Settings are snapshotted once at start. A failing account never stops the
// others; the result is successful only when every account succeeded.
func (s *Scheduler) Run(ctx context.Context) (*entities.BatchResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, migerrors.ErrBatchAlreadyRunning
	}
	defer s.running.Store(false)

	settings := s.settings.Snapshot().Normalize()
	runID := uuid.New().String()
	startedAt := s.now()

	keys, err := s.store.List(ctx)
	if err != nil {
		s.finishStatus(runID, startedAt)
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	s.startStatus(runID, startedAt, len(keys))
	s.reporter.Report(ctx, entities.Event{
		Type:  entities.EventBatchStarted,
		RunID: runID,
		Total: len(keys),
		Time:  startedAt,
	})

	result := &entities.BatchResult{
		RunID:     runID,
		StartedAt: startedAt,
		Outcomes:  make([]entities.Outcome, len(keys)),
	}

	if len(keys) == 0 {
		result.Summarize()
		result.Summary = migerrors.ErrNoAccounts.Error()
	} else {
		s.logger.Info().
			Str("run_id", runID).
			Int("accounts", len(keys)).
			Int("max_threads", settings.MaxThreads).
			Dur("retry_delay", settings.RetryDelay).
			Bool("change_2fa", settings.Change2FA).
			Bool("logout_old_session", settings.LogoutOldSession).
			Msg("Starting batch")

		s.runAll(ctx, runID, keys, settings, result.Outcomes)
		result.Summarize()
	}

	result.Duration = s.now().Sub(startedAt)
	s.finishStatus(runID, startedAt)

	s.reporter.Report(ctx, entities.Event{
		Type:      entities.EventBatchFinished,
		RunID:     runID,
		Total:     result.Total,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Summary:   result.Summary,
		Success:   result.Success,
		Duration:  result.Duration,
		Time:      s.now(),
	})

	return result, nil
}

func (s *Scheduler) runAll(ctx context.Context, runID string, keys []string, settings entities.BatchSettings, outcomes []entities.Outcome) {
	sem := semaphore.NewWeighted(int64(settings.MaxThreads))
	var wg sync.WaitGroup

	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			outcomes[i] = s.runOne(ctx, sem, runID, key, settings)
			s.recordOutcome(ctx, runID, outcomes[i])
		}(i, key)
	}

	wg.Wait()
}

// runOne is the per-account task boundary: nothing escapes it
func (s *Scheduler) runOne(ctx context.Context, sem *semaphore.Weighted, runID, key string, settings entities.BatchSettings) (outcome entities.Outcome) {
	outcome = entities.Outcome{Key: key, State: entities.StateIdle, StartedAt: s.now()}

	if err := sem.Acquire(ctx, 1); err != nil {
		outcome.State = entities.StateFailed
		outcome.Reason = entities.ReasonUnknown
		outcome.Err = err
		outcome.FinishedAt = s.now()
		return outcome
	}
	defer sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("key", key).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Account task panic recovered")
			outcome.Success = false
			outcome.State = entities.StateFailed
			outcome.Reason = entities.ReasonPanic
			outcome.Err = fmt.Errorf("panic: %v", r)
			outcome.FinishedAt = s.now()
		}
	}()

	return s.migrator.Migrate(ctx, runID, key, settings)
}

func (s *Scheduler) recordOutcome(ctx context.Context, runID string, outcome entities.Outcome) {
	s.mu.Lock()
	s.status.Completed++
	if outcome.Success {
		s.status.Succeeded++
	} else {
		s.status.Failed++
	}
	s.mu.Unlock()

	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, runID, outcome); err != nil {
		s.logger.Warn().Err(err).Str("key", outcome.Key).Msg("Failed to write journal entry")
	}
}

// Status returns a snapshot of the current or last run
func (s *Scheduler) Status() entities.RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsRunning reports whether a batch is in progress
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) startStatus(runID string, startedAt time.Time, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = entities.RunStatus{
		RunID:     runID,
		State:     entities.RunRunning,
		Total:     total,
		StartedAt: &startedAt,
	}
}

func (s *Scheduler) finishStatus(runID string, startedAt time.Time) {
	finishedAt := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.RunID = runID
	s.status.State = entities.RunFinished
	s.status.StartedAt = &startedAt
	s.status.FinishedAt = &finishedAt
}
