package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInternal        = errors.New("internal error")
)

// ErrorKind classifies a failure for retry and reporting decisions.
type ErrorKind string

const (
	// KindNotFound marks a missing job id; terminal for the message, no retry.
	KindNotFound ErrorKind = "not_found"
	// KindTransient marks a temporary collaborator failure (rate limit,
	// timeout, 5xx-equivalent); retried per policy.
	KindTransient ErrorKind = "transient"
	// KindValidation marks a structural rejection of worker output; retried
	// at most once beyond the initial attempt.
	KindValidation ErrorKind = "validation"
	// KindPermanent marks a caller-side unrecoverable failure (auth, quota);
	// never retried.
	KindPermanent ErrorKind = "permanent"
	// KindTimeout marks expiry of the job-level deadline.
	KindTimeout ErrorKind = "timeout"
	// KindPoison marks a message redelivered beyond the poison threshold.
	KindPoison ErrorKind = "poison"
	// KindCancelled marks a call cut short by job-level cancellation.
	KindCancelled ErrorKind = "cancelled"
	// KindInternal marks an orchestrator-side invariant violation.
	KindInternal ErrorKind = "internal"
)

// Valid reports whether k is a member of the taxonomy.
func (k ErrorKind) Valid() bool {
	switch k {
	case KindNotFound, KindTransient, KindValidation, KindPermanent,
		KindTimeout, KindPoison, KindCancelled, KindInternal:
		return true
	}
	return false
}

// WorkerError wraps a failure from a worker adapter with its classified kind.
type WorkerError struct {
	Kind ErrorKind
	Err  error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// NewWorkerError wraps err with the given kind.
func NewWorkerError(kind ErrorKind, err error) *WorkerError {
	return &WorkerError{Kind: kind, Err: err}
}

// Transientf builds a transient WorkerError from a format string.
func Transientf(format string, args ...any) *WorkerError {
	return &WorkerError{Kind: KindTransient, Err: fmt.Errorf(format, args...)}
}

// Validationf builds a validation WorkerError from a format string.
func Validationf(format string, args ...any) *WorkerError {
	return &WorkerError{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// Permanentf builds a permanent WorkerError from a format string.
func Permanentf(format string, args ...any) *WorkerError {
	return &WorkerError{Kind: KindPermanent, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind from err. Context errors map to cancelled
// and transient (a per-attempt deadline is infrastructure noise, not a job
// failure); unclassified errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var we *WorkerError
	if errors.As(err, &we) {
		return we.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	}
	return KindInternal
}

// Retryable reports whether a worker failure of the given kind is eligible
// for another attempt. Validation retries are additionally capped by the
// dispatcher; permanent and cancelled fail immediately.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient || k == KindValidation
}
