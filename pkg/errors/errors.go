package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrLengthMismatch    = errors.New("pairs and weights must have the same length")
	ErrKeyNotFound       = errors.New("key not found")
	ErrKeyOutOfRange     = errors.New("key out of range")
	ErrDivisionUndefined = errors.New("average undefined: no documents indexed")
	ErrInvalidInput      = errors.New("invalid input")
	ErrShardUnavailable  = errors.New("shard unavailable")
	ErrSnapshotNotFound  = errors.New("snapshot not found")
	ErrSnapshotCorrupt   = errors.New("snapshot corrupt")
	ErrInternal          = errors.New("internal error")
	ErrTimeout           = errors.New("operation timed out")
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

// HTTPStatusCode maps an error chain to the status the API reports for it.
// Caller misuse maps to 4xx; nothing in the key index is transient.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrKeyOutOfRange), errors.Is(err, ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrLengthMismatch), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrDivisionUndefined):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrShardUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
