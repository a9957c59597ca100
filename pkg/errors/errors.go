// Package errors defines the sentinel errors shared by the index builder,
// the query engine and the search service, plus an AppError wrapper that
// carries an HTTP status for the service surface.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnsupportedFieldType = errors.New("unsupported field type")
	ErrDuplicateField       = errors.New("duplicate field")
	ErrFieldsSealed         = errors.New("fields cannot be added after documents")
	ErrUnknownField         = errors.New("unknown field")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrUnknownBoostField    = errors.New("unknown field in boost map")
	ErrCorruptIndex         = errors.New("corrupt index")
	ErrBrokenDocuments      = errors.New("documents missing needed fields")
	ErrIndexNotLoaded       = errors.New("index not loaded")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInternal             = errors.New("internal error")
	ErrTimeout              = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Config builds an AppError for a build-aborting configuration mistake.
func Config(sentinel error, format string, args ...any) *AppError {
	return Newf(sentinel, http.StatusUnprocessableEntity, format, args...)
}

// Is and As re-export the standard helpers so callers need one import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrIndexNotLoaded):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownField):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedFieldType),
		errors.Is(err, ErrDuplicateField),
		errors.Is(err, ErrFieldsSealed),
		errors.Is(err, ErrMissingRequiredField),
		errors.Is(err, ErrUnknownBoostField),
		errors.Is(err, ErrBrokenDocuments):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
