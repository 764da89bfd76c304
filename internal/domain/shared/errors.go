// Package shared contains common domain types, errors, events, and value objects
// that are used across the progress and enrollment domains. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned across a component boundary matches exactly
// one of these through errors.Is.
var (
	// ErrInvalidArgument covers malformed identifiers, negative time deltas
	// and out-of-range scores. Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidTransition is an explicit request for a state change the
	// enrollment state machine does not allow.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConflict signals a lost optimistic-concurrency race. It is retried
	// by the command layer and never reaches callers.
	ErrConflict = errors.New("concurrent modification")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	ErrInternal = errors.New("internal error")

	// ErrUnavailable is returned by adapters for external authorities
	// (catalog) that cannot currently answer.
	ErrUnavailable = errors.New("service unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "progress", "enrollment"
	Op      string // operation that failed, e.g. "Record", "Advance"
	Kind    error  // one of the kinds above
	Message string
	Err     error // underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against both the kind and the cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// InvalidArgument is shorthand for the most common constructor.
func InvalidArgument(domain, op, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Progress ledger errors
var (
	ErrNegativeTimeDelta = NewDomainError("progress", "Record", ErrInvalidArgument, "time delta must be >= 0")
	ErrScoreOutOfRange   = NewDomainError("progress", "Record", ErrInvalidArgument, "score must be between 0 and 100")
	ErrUnknownStatus     = NewDomainError("progress", "Record", ErrInvalidArgument, "unknown progress status")
	ErrCourseMismatch    = NewDomainError("progress", "Record", ErrInvalidArgument, "module already recorded under a different course")
	ErrNegativeModules   = NewDomainError("progress", "Aggregate", ErrInvalidArgument, "total modules must be >= 0")
)

// Enrollment registry errors
var (
	ErrEnrollmentNotFound      = NewDomainError("enrollment", "Find", ErrNotFound, "enrollment not found")
	ErrEnrollmentAlreadyExists = NewDomainError("enrollment", "Create", ErrAlreadyExists, "enrollment already exists")
	ErrEnrollmentVersionStale  = NewDomainError("enrollment", "Update", ErrConflict, "enrollment was modified concurrently")
	ErrUnknownEnrollmentStatus = NewDomainError("enrollment", "Validate", ErrInvalidArgument, "unknown enrollment status")
)

// Catalog errors
var (
	// ErrCourseNotInCatalog is a caller error: the course id names nothing the
	// catalog knows. It is distinct from a missing enrollment.
	ErrCourseNotInCatalog = NewDomainError("catalog", "ModuleCount", ErrInvalidArgument, "course not found in catalog")
)

// Identity errors
var (
	ErrMissingIdentity = NewDomainError("identity", "Resolve", ErrUnauthorized, "tenant and user identity required")
	ErrAdminRequired   = NewDomainError("identity", "Resolve", ErrForbidden, "admin credential required")
)

// IsInvalidArgument checks if the error is a caller input error.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsInvalidTransition checks if the error is a rejected state change.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsConflict checks if the error is an optimistic-concurrency miss.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsUnauthorized checks if the error is a missing or invalid identity.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsForbidden checks if the error is a missing privilege.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsUnavailable checks if an external authority could not answer.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
