package collab

import (
	"errors"
	"fmt"
)

var (
	// ErrHistoryCompacted indicates the target revision predates the tail.
	ErrHistoryCompacted = errors.New("history compacted")

	// ErrFutureRevision indicates the target revision is ahead of the head.
	ErrFutureRevision = errors.New("revision ahead of head")

	// ErrMissingRecords indicates a gap in the records supplied for a rebase.
	ErrMissingRecords = errors.New("missing records")

	// ErrRevisionConflict indicates a record that does not extend the head.
	ErrRevisionConflict = errors.New("revision conflict")

	// ErrMissingIdempotencyID indicates a submission without an idempotency id.
	ErrMissingIdempotencyID = errors.New("missing idempotency id")
)

// ReconciliationError reports a submission that cannot be placed on the
// current head. The client must resynchronize before submitting again.
type ReconciliationError struct {
	Op             string
	TargetRevision int
	HeadRevision   int
	TailRevision   int
	Err            error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("%s: target %d (tail %d, head %d): %v",
		e.Op, e.TargetRevision, e.TailRevision, e.HeadRevision, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}
