package changeset

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by ValidationError.
var (
	// ErrInvalidRetain indicates a retain with a negative start or start > end.
	ErrInvalidRetain = errors.New("invalid retain range")

	// ErrOutOfBounds indicates a retain index at or beyond the source length.
	ErrOutOfBounds = errors.New("retain index out of bounds")

	// ErrMalformed indicates a wire value that is not a valid changeset.
	ErrMalformed = errors.New("malformed changeset")

	// ErrNotDocument indicates an operation needed literal text but found a retain.
	ErrNotDocument = errors.New("changeset is not a document")
)

// ValidationError reports a changeset that cannot be used for an operation.
// It is never retried.
type ValidationError struct {
	Op     string
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("changeset %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("changeset %s: %v: %s", e.Op, e.Err, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(op string, err error, format string, args ...any) *ValidationError {
	return &ValidationError{Op: op, Err: err, Detail: fmt.Sprintf(format, args...)}
}
