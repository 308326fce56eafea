// Package apperr defines the error kinds shared across the outreach engine.
//
// Every error produced by a component wraps exactly one kind sentinel so
// callers can branch with errors.Is without caring which component failed.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind sentinels.
var (
	// ErrValidation marks input that must be rejected synchronously and never retried.
	ErrValidation = errors.New("validation error")
	// ErrTransientDelivery marks a transport failure worth retrying.
	ErrTransientDelivery = errors.New("transient delivery error")
	// ErrGenerationUnavailable marks an unreachable generation or classification backend.
	ErrGenerationUnavailable = errors.New("generation unavailable")
	// ErrStateConflict marks a lost race on a versioned entity.
	ErrStateConflict = errors.New("state conflict")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists marks a duplicate insert.
	ErrAlreadyExists = errors.New("already exists")
)

// Error carries a kind, a human readable message, optional per-field
// details and an optional cause.
type Error struct {
	Kind   error
	Msg    string
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Fields[k])
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Validation returns a ValidationError.
func Validation(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

// ValidationFields returns a ValidationError with per-field reasons.
func ValidationFields(msg string, fields map[string]string) error {
	return &Error{Kind: ErrValidation, Msg: msg, Fields: fields}
}

// Transient wraps a retryable transport failure.
func Transient(err error) error {
	return &Error{Kind: ErrTransientDelivery, Err: err}
}

// GenerationUnavailable wraps a failed call to a generation or
// classification backend.
func GenerationUnavailable(err error) error {
	return &Error{Kind: ErrGenerationUnavailable, Err: err}
}

// StateConflict reports a stale write to a versioned entity.
func StateConflict(entity, id string) error {
	return &Error{Kind: ErrStateConflict, Msg: entity + " " + id}
}

// NotFound reports a missing entity.
func NotFound(entity, id string) error {
	return &Error{Kind: ErrNotFound, Msg: entity + " " + id}
}

// AlreadyExists reports a duplicate entity.
func AlreadyExists(entity, id string) error {
	return &Error{Kind: ErrAlreadyExists, Msg: entity + " " + id}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsTransient reports whether err is a TransientDeliveryError.
func IsTransient(err error) bool { return errors.Is(err, ErrTransientDelivery) }

// IsGenerationUnavailable reports whether err is GenerationUnavailable.
func IsGenerationUnavailable(err error) bool { return errors.Is(err, ErrGenerationUnavailable) }

// IsStateConflict reports whether err is a StateConflict.
func IsStateConflict(err error) bool { return errors.Is(err, ErrStateConflict) }

// IsNotFound reports whether err is NotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAlreadyExists reports whether err is AlreadyExists.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// FieldsOf returns the per-field details attached to err, if any.
func FieldsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrStateConflict), errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrGenerationUnavailable), errors.Is(err, ErrTransientDelivery):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
