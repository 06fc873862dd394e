package model

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the normalizer boundary.
var (
	// ErrUnsupportedFormat means the declared source type and the
	// artifact's actual content disagree.
	ErrUnsupportedFormat = errors.New("unsupported artifact format")

	// ErrSizeLimitExceeded means the artifact is over the configured
	// byte ceiling.
	ErrSizeLimitExceeded = errors.New("artifact exceeds size limit")

	// ErrRetentionConflict means a deletion touched chunks protected by
	// a pending export. Surfaced to the caller, never auto-resolved.
	ErrRetentionConflict = errors.New("retention conflict: namespace pinned by pending export")

	// ErrNotFound is returned for lookups of missing chunks, profiles,
	// or sessions.
	ErrNotFound = errors.New("not found")
)

// ValidationError marks malformed input. It is rejected immediately and
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// TransientServiceError wraps an external-service failure that survived
// bounded retries. Callers may retry the whole operation later.
type TransientServiceError struct {
	Service string
	Err     error
}

func (e *TransientServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *TransientServiceError) Unwrap() error { return e.Err }

// SecurityInvariantViolation means a search result crossed the requested
// namespace boundary. It is fatal for the request and must never be
// silently corrected.
type SecurityInvariantViolation struct {
	Requested Namespace
	Got       Namespace
	ChunkID   string
}

func (e *SecurityInvariantViolation) Error() string {
	return fmt.Sprintf("security invariant violation: chunk %s belongs to %s, requested %s",
		e.ChunkID, e.Got.Key(), e.Requested.Key())
}

// IsTransient reports whether err is (or wraps) a TransientServiceError.
func IsTransient(err error) bool {
	var tse *TransientServiceError
	return errors.As(err, &tse)
}
