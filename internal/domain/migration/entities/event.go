package entities

import "time"

// EventType identifies what an Event reports
type EventType string

const (
	EventBatchStarted    EventType = "batch_started"
	EventStateChanged    EventType = "state_changed"
	EventAttemptFailed   EventType = "attempt_failed"
	EventAccountFinished EventType = "account_finished"
	EventBatchFinished   EventType = "batch_finished"
)

// Event is emitted by the migration core to every reporter. Phone is
// already masked; secrets never appear in events.
type Event struct {
	Type    EventType     `json:"type"`
	RunID   string        `json:"run_id"`
	Key     string        `json:"key,omitempty"`
	Phone   string        `json:"phone,omitempty"`
	State   State         `json:"state,omitempty"`
	Reason  Reason        `json:"reason,omitempty"`
	Attempt int           `json:"attempt,omitempty"`
	Wait    time.Duration `json:"wait,omitempty"`
	Error   string        `json:"error,omitempty"`
	Time    time.Time     `json:"time"`

	// Set on EventAccountFinished and EventBatchFinished
	Success  bool          `json:"success,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`

	// Set on EventAccountFinished
	RetireErr     string `json:"retire_error,omitempty"`
	SecretRotated bool   `json:"secret_rotated,omitempty"`

	// Set on EventBatchStarted and EventBatchFinished
	Total     int    `json:"total,omitempty"`
	Succeeded int    `json:"succeeded,omitempty"`
	Failed    int    `json:"failed,omitempty"`
	Summary   string `json:"summary,omitempty"`
}
