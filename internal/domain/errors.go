package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind groups errors by how the orchestration loop must react to them.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"  // retry with backoff, abort the cycle when exhausted
	KindRateLimit ErrorKind = "rate_limit" // pause the source, resume at the same candidate
	KindPermanent ErrorKind = "permanent"  // skip the candidate, never retry
	KindStorage   ErrorKind = "storage"    // abort without touching schedule state
	KindConflict  ErrorKind = "conflict"   // invariant violation, surface
	KindCanceled  ErrorKind = "canceled"
)

var (
	// ErrRetriesExhausted marks an action that kept failing transiently.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrCycleAborted marks a cycle that stopped before its last candidate.
	ErrCycleAborted = errors.New("cycle aborted")
	// ErrNotFound is wrapped by storage errors for missing keys.
	ErrNotFound = errors.New("not found")
)

// AdapterError reports a source fetch or parse failure.
type AdapterError struct {
	SourceID string
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("source %s: %v", e.SourceID, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// NetworkError is a transient transport failure (timeout, refused connection).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a 5xx response from the destination.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Body)
}

// RateLimitError asks the caller to wait RetryAfter before trying again.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// ValidationError is a destination rejection of the content itself.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// StatusNotFoundError reports an artifact that no longer exists on the destination.
type StatusNotFoundError struct {
	ArtifactID string
}

func (e *StatusNotFoundError) Error() string {
	return fmt.Sprintf("artifact %s not found", e.ArtifactID)
}

// EditNotAllowedError reports an artifact the destination refuses to edit.
type EditNotAllowedError struct {
	ArtifactID string
}

func (e *EditNotAllowedError) Error() string {
	return fmt.Sprintf("artifact %s cannot be edited", e.ArtifactID)
}

// ConfigError reports invalid or missing configuration.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "config: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// StorageError reports an unreachable or failing state backend.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConflictError is raised when a second artifact is recorded for an unchanged item.
type ConflictError struct {
	Platform     string
	SourceItemID string
	Existing     string
	Attempted    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("published index conflict for %s/%s: have artifact %s, got %s",
		e.Platform, e.SourceItemID, e.Existing, e.Attempted)
}

// KindOf classifies an error chain. Unknown errors are treated as transient so that
// they are retried a bounded number of times instead of silently dropping an item.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var (
		storageErr  *StorageError
		conflictErr *ConflictError
		rateErr     *RateLimitError
		validErr    *ValidationError
		notFoundErr *StatusNotFoundError
		editErr     *EditNotAllowedError
		configErr   *ConfigError
	)

	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &storageErr):
		return KindStorage
	case errors.As(err, &conflictErr):
		return KindConflict
	case errors.As(err, &rateErr):
		return KindRateLimit
	case errors.As(err, &validErr), errors.As(err, &notFoundErr),
		errors.As(err, &editErr), errors.As(err, &configErr):
		return KindPermanent
	}
	return KindTransient
}

// RetryAfter extracts the wait requested by a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return rateErr.RetryAfter, true
	}
	return 0, false
}
