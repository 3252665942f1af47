package models

import "fmt"

// ValidationError rejects malformed input synchronously.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError names the kind and id of a missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// ConflictError identifies the record that already occupies an interval.
type ConflictError struct {
	Kind string // reservation, extra_schedule, agenda_slot
	ID   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("schedule conflict with %s %s", e.Kind, e.ID)
}

// ExternalServiceDegraded wraps a failed call to an optional collaborator.
// Callers log it and continue with their fallback.
type ExternalServiceDegraded struct {
	Service string
	Err     error
}

func (e *ExternalServiceDegraded) Error() string {
	return fmt.Sprintf("%s degraded: %v", e.Service, e.Err)
}

func (e *ExternalServiceDegraded) Unwrap() error { return e.Err }
