// Package errors defines the platform-wide error sentinels and the AppError
// wrapper that carries a status code alongside the underlying cause.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrStoreUnavailable   = errors.New("document store unavailable")
	ErrPartitionConflict  = errors.New("partition already exists")
	ErrQueueUnavailable   = errors.New("ingestion queue unavailable")
	ErrInternal           = errors.New("internal error")
	ErrTimeout            = errors.New("operation timed out")
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

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrPreconditionFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrPartitionConflict):
		return http.StatusConflict
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrQueueUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode maps an error to a process exit status for command-line tools:
// 0 for nil, 2 for caller mistakes, 3 for an unreachable dependency, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch HTTPStatusCode(err) {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return 2
	case http.StatusServiceUnavailable:
		return 3
	default:
		return 1
	}
}
