package domain

import "time"

// JobStatus is the state of an asynchronous policy build at the reasoning service
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
)

// IsTerminal returns true for SUCCEEDED and FAILED
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// PolicyBuildJob is the service-side build for one section
type PolicyBuildJob struct {
	JobID     string    `json:"job_id"`
	SectionID string    `json:"section_id"`
	Status    JobStatus `json:"status"`

	// Attempts counts polls made so far
	Attempts   int       `json:"attempts"`
	NextPollAt time.Time `json:"next_poll_at"`

	// PolicyIDs is set once the job succeeded
	PolicyIDs []string `json:"policy_ids,omitempty"`

	// Error is set once the job failed
	Error string `json:"error,omitempty"`
}

// Backoff describes exponential polling or retry delays
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff returns a 1s initial delay capped at 5 minutes
func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: 5 * time.Minute}
}

// Delay returns the wait before the given attempt (0-based): Initial, 2x, 4x, ...
// capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = time.Second
	}
	if attempt > 30 {
		attempt = 30
	}
	d := initial * time.Duration(1<<attempt)
	if b.Max > 0 && (d > b.Max || d <= 0) {
		d = b.Max
	}
	return d
}

// ScheduleNextPoll records a poll and sets the time of the next one
func (j *PolicyBuildJob) ScheduleNextPoll(b Backoff) time.Duration {
	d := b.Delay(j.Attempts)
	j.Attempts++
	j.NextPollAt = time.Now().Add(d)
	return d
}
