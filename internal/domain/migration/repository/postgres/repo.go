package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/deps"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
	migerrors "github.com/Conte777/tg-session-migrator/internal/domain/migration/errors"
	"github.com/Conte777/tg-session-migrator/internal/utils"
)

// Repository implements deps.Journal using PostgreSQL
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a journal. A nil db yields a journal that drops every entry.
func NewRepository(db *gorm.DB) deps.Journal {
	if db == nil {
		return noopJournal{}
	}
	return &Repository{db: db}
}

// Record inserts one row for a finished account migration
func (r *Repository) Record(ctx context.Context, runID string, outcome entities.Outcome) error {
	model := toModel(runID, outcome)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	return nil
}

// ListRun returns the journal rows of one run ordered by finish time,
// ErrRunNotFound when the run has none
func (r *Repository) ListRun(ctx context.Context, runID string) ([]entities.MigrationJournalModel, error) {
	var models []entities.MigrationJournalModel
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("finished_at").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	if len(models) == 0 {
		return nil, migerrors.ErrRunNotFound
	}
	return models, nil
}

func toModel(runID string, o entities.Outcome) *entities.MigrationJournalModel {
	m := &entities.MigrationJournalModel{
		RunID:         runID,
		RecordKey:     o.Key,
		PhoneMasked:   utils.MaskPhoneNumber(o.Phone),
		State:         string(o.State),
		Success:       o.Success,
		Reason:        string(o.Reason),
		Error:         o.ErrorString(),
		Attempts:      o.Attempts,
		SecretRotated: o.SecretRotated,
		WaitSeconds:   int(o.RateLimitWait.Seconds()),
		StartedAt:     o.StartedAt,
		FinishedAt:    o.FinishedAt,
	}
	if o.RetireErr != nil {
		m.RetireError = o.RetireErr.Error()
	}
	return m
}

type noopJournal struct{}

func (noopJournal) Record(context.Context, string, entities.Outcome) error { return nil }

func (noopJournal) ListRun(context.Context, string) ([]entities.MigrationJournalModel, error) {
	return nil, migerrors.ErrJournalDisabled
}
