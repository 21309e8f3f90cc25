package database

import (
	"errors"
	"fmt"
)

// Common gateway errors that can be checked using errors.Is().
var (
	// ErrNotConnected is returned when the backing store has no live connection.
	ErrNotConnected = errors.New("store not connected")

	// ErrInvalidInput is returned when a message cannot be stored as given.
	ErrInvalidInput = errors.New("invalid input data")

	// ErrQueryFailed is returned when the store rejects a read or write.
	ErrQueryFailed = errors.New("query execution failed")
)

// DBError wraps a store failure with the operation that produced it.
type DBError struct {
	err     error
	context string
	query   string
}

// NewDBError creates a DBError. The context describes the operation being
// performed, e.g. "insert message".
func NewDBError(err error, context string) *DBError {
	return &DBError{err: err, context: context}
}

// WithQuery records the statement that failed.
func (e *DBError) WithQuery(query string) *DBError {
	e.query = query
	return e
}

func (e *DBError) Error() string {
	msg := e.context
	if e.query != "" {
		msg = fmt.Sprintf("%s (query: %s)", msg, e.query)
	}
	if e.err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *DBError) Unwrap() error {
	return e.err
}

// Is matches the package sentinels through the wrapped error.
func (e *DBError) Is(target error) bool {
	switch target {
	case ErrNotConnected, ErrInvalidInput, ErrQueryFailed:
		return errors.Is(e.err, target)
	}
	return false
}

// queryFailed wraps a driver error so it matches ErrQueryFailed.
func queryFailed(err error, context string) *DBError {
	return NewDBError(fmt.Errorf("%w: %w", ErrQueryFailed, err), context)
}
