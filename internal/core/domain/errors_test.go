package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrNotFound", ErrNotFound, "not found"},
		{"ErrAlreadyExists", ErrAlreadyExists, "already exists"},
		{"ErrInvalidInput", ErrInvalidInput, "invalid input"},
		{"ErrCacheMiss", ErrCacheMiss, "cache miss"},
		{"ErrLockHeld", ErrLockHeld, "document lock held by another process"},
		{"ErrServiceUnavailable", ErrServiceUnavailable, "service unavailable"},
		{"ErrInvalidLabel", ErrInvalidLabel, "invalid policy label"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.msg {
				t.Errorf("expected %q, got %q", tt.msg, tt.err.Error())
			}
		})
	}
}

func TestErrorsAreDistinct(t *testing.T) {
	allErrors := []error{
		ErrNotFound,
		ErrAlreadyExists,
		ErrInvalidInput,
		ErrCacheMiss,
		ErrLockHeld,
		ErrServiceUnavailable,
		ErrInvalidLabel,
	}

	for i, err1 := range allErrors {
		for j, err2 := range allErrors {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("errors should be distinct: %v and %v", err1, err2)
			}
		}
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient service error", &ExternalServiceError{Op: "create", Transient: true, Err: errors.New("503")}, true},
		{"permanent service error", &ExternalServiceError{Op: "create", StatusCode: 400, Err: errors.New("bad")}, false},
		{"wrapped transient", fmt.Errorf("submit: %w", &ExternalServiceError{Transient: true, Err: errors.New("x")}), true},
		{"unavailable sentinel", fmt.Errorf("dial: %w", ErrServiceUnavailable), true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(&StructureError{Reason: "no chapters"}) {
		t.Error("expected StructureError to be fatal")
	}
	if !IsFatal(fmt.Errorf("run: %w", &TooManyProposalsError{Count: 5, Max: 4})) {
		t.Error("expected TooManyProposalsError to be fatal")
	}
	if IsFatal(&JobFailedError{SectionID: "ch1_sec1", JobID: "j", Reason: "r"}) {
		t.Error("expected JobFailedError not to be fatal")
	}
	if IsFatal(&TimeoutError{SectionID: "ch1_sec1", JobID: "j", Waited: time.Second}) {
		t.Error("expected TimeoutError not to be fatal")
	}
}

func TestTypedErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"structure", &StructureError{Reason: "no chapters found"}, "malformed document structure: no chapters found"},
		{"too many", &TooManyProposalsError{Count: 5, Max: 4}, "too many proposal documents: got 5, maximum is 4"},
		{"job failed", &JobFailedError{SectionID: "ch1_sec2", JobID: "job-1", Reason: "bad input"},
			"policy build job job-1 for section ch1_sec2 failed: bad input"},
		{"timeout", &TimeoutError{SectionID: "ch1_sec2", JobID: "job-1", Waited: 2 * time.Second},
			"policy build job job-1 for section ch1_sec2 not finished after 2s"},
		{"service with status", &ExternalServiceError{Op: "list", StatusCode: 502, Transient: true, Err: errors.New("bad gateway")},
			"list: transient service error (status 502): bad gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.msg {
				t.Errorf("expected %q, got %q", tt.msg, tt.err.Error())
			}
		})
	}
}

func TestTranscriptionErrorUnwrap(t *testing.T) {
	err := &TranscriptionError{Source: "spec.pdf", Err: ErrServiceUnavailable}
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Error("expected TranscriptionError to unwrap to its cause")
	}
}
