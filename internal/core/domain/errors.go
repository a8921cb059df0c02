package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrCacheMiss indicates no valid cached artifact exists for a key
	ErrCacheMiss = errors.New("cache miss")

	// ErrLockHeld indicates another process is working on the same document
	ErrLockHeld = errors.New("document lock held by another process")

	// ErrServiceUnavailable indicates an external service could not be reached
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrInvalidLabel indicates a policy label failed validation
	ErrInvalidLabel = errors.New("invalid policy label")
)

// StructureError reports a transcription whose chapter/section structure is
// unusable. It is fatal for the run and is raised before any metadata is written.
type StructureError struct {
	Reason string
}

func (e *StructureError) Error() string {
	return "malformed document structure: " + e.Reason
}

// TranscriptionError wraps a failure of the document transcription collaborator.
type TranscriptionError struct {
	Source string
	Err    error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription of %s failed: %v", e.Source, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// ExternalServiceError wraps a failed call to the reasoning, evaluation or
// transcription service. Transient errors are worth retrying; permanent ones are not.
type ExternalServiceError struct {
	Op         string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ExternalServiceError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s service error (status %d): %v", e.Op, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s service error: %v", e.Op, kind, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// TooManyProposalsError rejects an evaluation run with more proposals than allowed.
type TooManyProposalsError struct {
	Count int
	Max   int
}

func (e *TooManyProposalsError) Error() string {
	return fmt.Sprintf("too many proposal documents: got %d, maximum is %d", e.Count, e.Max)
}

// JobFailedError reports that the policy build for one section failed.
// The section stays unprocessed and is retried on a later run.
type JobFailedError struct {
	SectionID string
	JobID     string
	Reason    string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("policy build job %s for section %s failed: %s", e.JobID, e.SectionID, e.Reason)
}

// TimeoutError reports that a build job did not reach a terminal state in time.
// The job id stays recorded so the next run re-polls it.
type TimeoutError struct {
	SectionID string
	JobID     string
	Waited    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("policy build job %s for section %s not finished after %s", e.JobID, e.SectionID, e.Waited)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var svcErr *ExternalServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Transient
	}
	return errors.Is(err, ErrServiceUnavailable)
}

// IsFatal reports whether err must abort the whole run rather than a single unit of work.
func IsFatal(err error) bool {
	var structErr *StructureError
	var tooMany *TooManyProposalsError
	return errors.As(err, &structErr) || errors.As(err, &tooMany) || errors.Is(err, ErrInvalidInput)
}
