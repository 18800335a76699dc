package collab

import (
	"fmt"
	"time"

	"collabtext/internal/changeset"
)

// CollabText is the state of one document: the head and tail snapshots and
// the records between them. Records hold revisions Tail.Revision+1 through
// Head.Revision. Recent keeps records already composed into the tail so
// late resubmissions are still recognized.
//
// CollabText is not safe for concurrent use.
type CollabText struct {
	Head    RevisionText   `json:"head"`
	Tail    RevisionText   `json:"tail"`
	Records []ServerRecord `json:"records"`
	Recent  []ServerRecord `json:"recent,omitempty"`
}

// NewCollabText creates a document at revision 0 from an insertion-only
// changeset.
func NewCollabText(initial changeset.Changeset) (*CollabText, error) {
	if !initial.IsDocument() {
		return nil, &changeset.ValidationError{Op: "create", Err: changeset.ErrNotDocument,
			Detail: "initial text must contain only inserts"}
	}
	snap := RevisionText{Revision: 0, Changeset: initial}
	return &CollabText{Head: snap, Tail: snap}, nil
}

// RecordsAfter returns the records with revision > rev.
func (t *CollabText) RecordsAfter(rev int) []ServerRecord {
	if rev < t.Tail.Revision {
		rev = t.Tail.Revision
	}
	i := rev - t.Tail.Revision
	if i >= len(t.Records) {
		return nil
	}
	out := make([]ServerRecord, len(t.Records)-i)
	copy(out, t.Records[i:])
	return out
}

// Submit reconciles sub against t and applies the result.
func (t *CollabText) Submit(sub SubmittedRecord, now time.Time) (Result, error) {
	res, err := ProcessSubmittedRecord(Input{
		Submitted:    sub,
		Head:         t.Head,
		TailRevision: t.Tail.Revision,
		Records:      t.RecordsAfter(sub.TargetRevision),
		Recent:       t.Recent,
		Now:          now,
	})
	if err != nil {
		return Result{}, err
	}
	if err := t.Apply(res); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Apply appends the record of a ResultNew and advances the head. Results of
// type ResultExisting are ignored.
func (t *CollabText) Apply(res Result) error {
	if res.Type != ResultNew {
		return nil
	}
	if res.Record.Revision != t.Head.Revision+1 || res.Head.Revision != res.Record.Revision {
		return fmt.Errorf("apply revision %d on head %d: %w", res.Record.Revision, t.Head.Revision, ErrRevisionConflict)
	}
	t.Records = append(t.Records, res.Record)
	t.Head = res.Head
	return nil
}

// Compact composes all but the newest keep records into the tail. Compacted
// records join Recent, which is trimmed to its newest dedupeWindow entries.
func (t *CollabText) Compact(keep, dedupeWindow int) error {
	n := len(t.Records) - max(keep, 0)
	if n <= 0 {
		return nil
	}
	tail, err := ComposeNewTail(t.Tail, t.Records[:n])
	if err != nil {
		return err
	}
	return t.CompactTo(tail, dedupeWindow)
}

// CompactTo installs tail, which must have been composed from the oldest
// records of t, and drops the records it covers.
func (t *CollabText) CompactTo(tail RevisionText, dedupeWindow int) error {
	if tail.Revision < t.Tail.Revision || tail.Revision > t.Head.Revision {
		return fmt.Errorf("compact to revision %d outside [%d, %d]: %w",
			tail.Revision, t.Tail.Revision, t.Head.Revision, ErrRevisionConflict)
	}
	n := tail.Revision - t.Tail.Revision
	t.Recent = append(t.Recent, t.Records[:n]...)
	if extra := len(t.Recent) - max(dedupeWindow, 0); extra > 0 {
		t.Recent = append([]ServerRecord(nil), t.Recent[extra:]...)
	}
	t.Records = append([]ServerRecord(nil), t.Records[n:]...)
	t.Tail = tail
	return nil
}

// TextAt replays records from the tail to rebuild the snapshot at rev.
func (t *CollabText) TextAt(rev int) (RevisionText, error) {
	var err error
	switch {
	case rev < t.Tail.Revision:
		err = ErrHistoryCompacted
	case rev > t.Head.Revision:
		err = ErrFutureRevision
	}
	if err != nil {
		return RevisionText{}, &ReconciliationError{
			Op:             "text at",
			TargetRevision: rev,
			HeadRevision:   t.Head.Revision,
			TailRevision:   t.Tail.Revision,
			Err:            err,
		}
	}
	return ComposeNewTail(t.Tail, t.Records[:rev-t.Tail.Revision])
}
