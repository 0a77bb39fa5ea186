package entities

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Outcome is the terminal result of one account migration
type Outcome struct {
	Key     string
	Phone   string
	State   State
	Success bool
	Reason  Reason
	Err     error

	// Attempts is the number of code request cycles started
	Attempts int
	// RateLimitWait is set when Reason is ReasonRateLimited
	RateLimitWait time.Duration
	// RetireErr is a secondary failure of old session retirement; Success stays true
	RetireErr error
	// SecretRotated reports that the remote secret changed during this run
	SecretRotated bool
	// UnsavedSecret holds a rotated secret that could not be written back to the record
	UnsavedSecret string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the migration ran
func (o Outcome) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// ErrorString returns the captured error text or empty string
func (o Outcome) ErrorString() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// BatchResult aggregates the outcomes of one scheduler run
type BatchResult struct {
	RunID     string
	Success   bool
	Summary   string
	Outcomes  []Outcome
	Total     int
	Succeeded int
	Failed    int
	StartedAt time.Time
	Duration  time.Duration
}

// Summarize fills the counters, the aggregate flag and the summary line
func (r *BatchResult) Summarize() {
	r.Total = len(r.Outcomes)
	r.Succeeded, r.Failed = 0, 0

	reasons := make(map[Reason]int)
	retireFailures := 0
	for _, o := range r.Outcomes {
		if o.Success {
			r.Succeeded++
			if o.RetireErr != nil {
				retireFailures++
			}
			continue
		}
		r.Failed++
		reasons[o.Reason]++
	}

	r.Success = r.Total > 0 && r.Failed == 0

	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d accounts migrated", r.Succeeded, r.Total)
	if r.Failed > 0 {
		parts := make([]string, 0, len(reasons))
		for reason, n := range reasons {
			parts = append(parts, fmt.Sprintf("%s=%d", reason, n))
		}
		sort.Strings(parts)
		fmt.Fprintf(&b, ", %d failed (%s)", r.Failed, strings.Join(parts, ", "))
	}
	if retireFailures > 0 {
		fmt.Fprintf(&b, ", %d old sessions not retired", retireFailures)
	}
	r.Summary = b.String()
}

// RunState is the lifecycle of a scheduler instance
type RunState string

const (
	RunIdle     RunState = "idle"
	RunRunning  RunState = "running"
	RunFinished RunState = "finished"
)

// RunStatus is a point-in-time view of the current or last run
type RunStatus struct {
	RunID      string     `json:"run_id,omitempty"`
	State      RunState   `json:"state"`
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
