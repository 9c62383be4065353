// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer. Domain packages wrap these so handlers can
// map failures without knowing every package's error set.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("state conflict")
	ErrBusinessRule = errors.New("business rule violated")
)

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// NewError returns a domain sentinel with message msg that also matches kind,
// one of the sentinels above, under errors.Is.
func NewError(msg string, kind error) error {
	return &kindError{msg: msg, kind: kind}
}

// StatusOf returns the HTTP status RespondError uses for err.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrValidation), errors.Is(err, ErrBusinessRule):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Extender is implemented by errors that carry problem extension members.
type Extender interface {
	ProblemExtensions() map[string]any
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var ext map[string]any
	var x Extender
	if errors.As(err, &x) {
		ext = x.ProblemExtensions()
	}

	switch {
	case errors.Is(err, ErrNotFound):
		ProblemWith(w, http.StatusNotFound, "Not Found", err.Error(), ext)
	case errors.Is(err, ErrDuplicate):
		ProblemWith(w, http.StatusConflict, "Duplicate", err.Error(), ext)
	case errors.Is(err, ErrConflict):
		ProblemWith(w, http.StatusConflict, "Conflict", err.Error(), ext)
	case errors.Is(err, ErrValidation):
		ProblemWith(w, http.StatusBadRequest, "Validation Failed", err.Error(), ext)
	case errors.Is(err, ErrBusinessRule):
		ProblemWith(w, http.StatusBadRequest, "Business Rule Violation", err.Error(), ext)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
