package dto

import (
	"time"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
)

// JournalEntry is one account outcome of a past run
type JournalEntry struct {
	Key           string    `json:"key"`
	Phone         string    `json:"phone"`
	State         string    `json:"state"`
	Success       bool      `json:"success"`
	Reason        string    `json:"reason,omitempty"`
	Error         string    `json:"error,omitempty"`
	RetireError   string    `json:"retire_error,omitempty"`
	Attempts      int       `json:"attempts"`
	SecretRotated bool      `json:"secret_rotated"`
	WaitSeconds   int       `json:"wait_seconds,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// RunReport is the journal view of one run
type RunReport struct {
	RunID     string         `json:"run_id"`
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Entries   []JournalEntry `json:"entries"`
}

// NewRunReport builds a report from journal rows
func NewRunReport(runID string, rows []entities.MigrationJournalModel) RunReport {
	report := RunReport{
		RunID:   runID,
		Total:   len(rows),
		Entries: make([]JournalEntry, 0, len(rows)),
	}
	for _, row := range rows {
		if row.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
		report.Entries = append(report.Entries, JournalEntry{
			Key:           row.RecordKey,
			Phone:         row.PhoneMasked,
			State:         row.State,
			Success:       row.Success,
			Reason:        row.Reason,
			Error:         row.Error,
			RetireError:   row.RetireError,
			Attempts:      row.Attempts,
			SecretRotated: row.SecretRotated,
			WaitSeconds:   row.WaitSeconds,
			StartedAt:     row.StartedAt,
			FinishedAt:    row.FinishedAt,
		})
	}
	return report
}
