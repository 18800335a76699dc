package collab

import (
	"fmt"
	"time"

	"collabtext/internal/changeset"
)

// ResultType tells whether a submission produced a new record.
type ResultType string

const (
	// ResultNew is a submission accepted as a new revision.
	ResultNew ResultType = "new"

	// ResultExisting is a resubmission of an already accepted record.
	ResultExisting ResultType = "existing"
)

// Input is everything ProcessSubmittedRecord needs to place one submission.
type Input struct {
	Submitted SubmittedRecord

	// Head is the current head snapshot.
	Head RevisionText

	// TailRevision is the oldest revision still reconstructable from Records.
	TailRevision int

	// Records are the accepted records with revision > Submitted.TargetRevision
	// in ascending order, up to and including Head.Revision.
	Records []ServerRecord

	// Recent holds records already composed into the tail that are still
	// inside the dedupe window.
	Recent []ServerRecord

	// Now stamps the new record.
	Now time.Time
}

// Result is the outcome of ProcessSubmittedRecord.
type Result struct {
	Type   ResultType
	Record ServerRecord

	// Head is the new head snapshot. Only set for ResultNew.
	Head RevisionText
}

// ProcessSubmittedRecord rebases a submission onto the head.
//
// A submission whose idempotency id matches a supplied record returns that
// record as ResultExisting. Otherwise the changeset is followed through each
// record after its target revision, in order, and becomes revision
// Head.Revision+1. The function performs no I/O; appending the record and
// advancing the head is up to the caller.
func ProcessSubmittedRecord(in Input) (Result, error) {
	sub := in.Submitted
	if sub.IdempotencyID == "" {
		return Result{}, &changeset.ValidationError{Op: "submit", Err: ErrMissingIdempotencyID}
	}
	if prev, ok := findIdempotent(sub.IdempotencyID, in.Records, in.Recent); ok {
		return Result{Type: ResultExisting, Record: prev}, nil
	}

	fail := func(err error) *ReconciliationError {
		return &ReconciliationError{
			Op:             "process submitted record",
			TargetRevision: sub.TargetRevision,
			HeadRevision:   in.Head.Revision,
			TailRevision:   in.TailRevision,
			Err:            err,
		}
	}
	switch {
	case sub.TargetRevision > in.Head.Revision:
		return Result{}, fail(ErrFutureRevision)
	case sub.TargetRevision < in.TailRevision:
		return Result{}, fail(ErrHistoryCompacted)
	}
	if err := checkContiguous(sub.TargetRevision, in.Head.Revision, in.Records); err != nil {
		return Result{}, fail(err)
	}

	baseLength := in.Head.Changeset.Length()
	if len(in.Records) > 0 {
		baseLength = in.Records[0].Inverse.Length()
	}
	if err := sub.Changeset.Strips().Validate(baseLength); err != nil {
		return Result{}, err
	}

	running := sub.Changeset
	before, after := sub.SelectionBefore, sub.SelectionAfter
	for _, r := range in.Records {
		before = before.Follow(r.Changeset, false)
		after = after.Follow(running.Follow(r.Changeset), false)
		running = r.Changeset.Follow(running)
	}

	head, err := in.Head.Changeset.Compose(running)
	if err != nil {
		return Result{}, fail(err)
	}
	inverse, err := running.Inverse(in.Head.Changeset)
	if err != nil {
		return Result{}, fail(err)
	}

	revision := in.Head.Revision + 1
	return Result{
		Type: ResultNew,
		Record: ServerRecord{
			Revision:        revision,
			Changeset:       running,
			Inverse:         inverse,
			SelectionBefore: before,
			SelectionAfter:  after,
			AuthorID:        sub.AuthorID,
			IdempotencyID:   sub.IdempotencyID,
			CreatedAt:       in.Now,
		},
		Head: RevisionText{Revision: revision, Changeset: head},
	}, nil
}

// ComposeNewTail folds records, which must directly follow tail, into a new
// tail snapshot.
func ComposeNewTail(tail RevisionText, records []ServerRecord) (RevisionText, error) {
	if len(records) == 0 {
		return tail, nil
	}
	last := records[len(records)-1].Revision
	if err := checkContiguous(tail.Revision, last, records); err != nil {
		return RevisionText{}, fmt.Errorf("compose new tail: %w", err)
	}
	text := tail.Changeset
	for _, r := range records {
		next, err := text.Compose(r.Changeset)
		if err != nil {
			return RevisionText{}, fmt.Errorf("compose new tail at revision %d: %w", r.Revision, err)
		}
		text = next
	}
	return RevisionText{Revision: last, Changeset: text}, nil
}

// checkContiguous verifies that records hold exactly revisions from+1..to.
func checkContiguous(from, to int, records []ServerRecord) error {
	if len(records) != to-from {
		return fmt.Errorf("%w: have %d records for revisions %d..%d", ErrMissingRecords, len(records), from+1, to)
	}
	for i, r := range records {
		if r.Revision != from+1+i {
			return fmt.Errorf("%w: record %d has revision %d, want %d", ErrMissingRecords, i, r.Revision, from+1+i)
		}
	}
	return nil
}
