package collab

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"collabtext/internal/changeset"
	"collabtext/internal/selection"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func mustParse(t *testing.T, wire string) changeset.Changeset {
	t.Helper()
	cs, err := changeset.Parse([]byte(wire))
	if err != nil {
		t.Fatalf("Parse(%s) error: %v", wire, err)
	}
	return cs
}

func newDoc(t *testing.T, text string) *CollabText {
	t.Helper()
	doc, err := NewCollabText(changeset.FromText(text))
	if err != nil {
		t.Fatalf("NewCollabText(%q) error: %v", text, err)
	}
	return doc
}

func headText(t *testing.T, doc *CollabText) string {
	t.Helper()
	text, err := doc.Head.Text()
	if err != nil {
		t.Fatalf("Head.Text() error: %v", err)
	}
	return text
}

func submit(t *testing.T, doc *CollabText, target int, wire, id string) Result {
	t.Helper()
	res, err := doc.Submit(SubmittedRecord{
		TargetRevision: target,
		Changeset:      mustParse(t, wire),
		AuthorID:       "author",
		IdempotencyID:  id,
	}, epoch)
	if err != nil {
		t.Fatalf("Submit(%d, %s, %s) error: %v", target, wire, id, err)
	}
	return res
}

func TestProcessSubmittedRecord(t *testing.T) {
	doc := newDoc(t, "hello")
	res, err := ProcessSubmittedRecord(Input{
		Submitted: SubmittedRecord{
			TargetRevision:  0,
			Changeset:       mustParse(t, `[[0,4]," world"]`),
			AuthorID:        "ann",
			IdempotencyID:   "req-1",
			SelectionBefore: selection.Caret(5),
			SelectionAfter:  selection.Caret(11),
		},
		Head: doc.Head,
		Now:  epoch,
	})
	if err != nil {
		t.Fatalf("ProcessSubmittedRecord() error: %v", err)
	}
	if res.Type != ResultNew {
		t.Fatalf("Type = %q, want %q", res.Type, ResultNew)
	}
	if res.Record.Revision != 1 || res.Head.Revision != 1 {
		t.Errorf("revisions = %d/%d, want 1/1", res.Record.Revision, res.Head.Revision)
	}
	if text, _ := res.Head.Text(); text != "hello world" {
		t.Errorf("head = %q, want %q", text, "hello world")
	}
	if got := res.Record.Inverse.String(); got != "[[0,4]]" {
		t.Errorf("Inverse = %s, want [[0,4]]", got)
	}
	if res.Record.AuthorID != "ann" || res.Record.IdempotencyID != "req-1" || !res.Record.CreatedAt.Equal(epoch) {
		t.Errorf("record metadata = %+v", res.Record)
	}
	if res.Record.SelectionAfter != selection.Caret(11) {
		t.Errorf("SelectionAfter = %v, want {11}", res.Record.SelectionAfter)
	}
}

func TestConcurrentInsertTieBreak(t *testing.T) {
	doc := newDoc(t, "insert here:!!!")
	submit(t, doc, 0, `[[0,11],"fast",[12,14]]`, "a")
	res, err := doc.Submit(SubmittedRecord{
		TargetRevision:  0,
		Changeset:       mustParse(t, `[[0,11],"best",[12,14]]`),
		IdempotencyID:   "b",
		SelectionBefore: selection.Caret(12),
		SelectionAfter:  selection.Caret(16),
	}, epoch)
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if got := headText(t, doc); got != "insert here:bestfast!!!" {
		t.Errorf("head = %q, want %q", got, "insert here:bestfast!!!")
	}
	if got := res.Record.Changeset.String(); got != `[[0,11],"best",[12,18]]` {
		t.Errorf("rebased changeset = %s", got)
	}
	if res.Record.SelectionBefore != selection.Caret(12) {
		t.Errorf("SelectionBefore = %v, want {12}", res.Record.SelectionBefore)
	}
	if res.Record.SelectionAfter != selection.Caret(16) {
		t.Errorf("SelectionAfter = %v, want {16}", res.Record.SelectionAfter)
	}
}

func TestRebaseOverSeveralRecords(t *testing.T) {
	doc := newDoc(t, "abc")
	submit(t, doc, 0, `["1",[0,2]]`, "r1")     // 1abc
	submit(t, doc, 1, `[[0,3],"2"]`, "r2")     // 1abc2
	submit(t, doc, 0, `[0,"-",[1,2]]`, "late") // a-bc against revision 0
	if got := headText(t, doc); got != "1a-bc2" {
		t.Errorf("head = %q, want %q", got, "1a-bc2")
	}
	if doc.Head.Revision != 3 {
		t.Errorf("head revision = %d, want 3", doc.Head.Revision)
	}
}

func TestIdempotentResubmission(t *testing.T) {
	doc := newDoc(t, "hello")
	first := submit(t, doc, 0, `[[0,4],"!"]`, "same")
	second := submit(t, doc, 0, `[[0,4],"!"]`, "same")
	if second.Type != ResultExisting {
		t.Errorf("second Type = %q, want %q", second.Type, ResultExisting)
	}
	if !reflect.DeepEqual(first.Record, second.Record) {
		t.Errorf("second record = %+v, want %+v", second.Record, first.Record)
	}
	if doc.Head.Revision != 1 {
		t.Errorf("head revision = %d, want 1", doc.Head.Revision)
	}
	if got := headText(t, doc); got != "hello!" {
		t.Errorf("head = %q, want %q", got, "hello!")
	}
}

func TestProcessErrors(t *testing.T) {
	doc := newDoc(t, "abc")
	submit(t, doc, 0, `[[0,2],"d"]`, "r1")
	submit(t, doc, 1, `[[0,3],"e"]`, "r2")

	tests := []struct {
		name string
		in   Input
		want error
	}{
		{"future", Input{
			Submitted: SubmittedRecord{TargetRevision: 5, IdempotencyID: "x"},
			Head:      doc.Head,
		}, ErrFutureRevision},
		{"compacted", Input{
			Submitted:    SubmittedRecord{TargetRevision: 0, IdempotencyID: "x"},
			Head:         doc.Head,
			TailRevision: 1,
			Records:      doc.RecordsAfter(1),
		}, ErrHistoryCompacted},
		{"gap", Input{
			Submitted: SubmittedRecord{TargetRevision: 0, IdempotencyID: "x"},
			Head:      doc.Head,
			Records:   doc.Records[1:],
		}, ErrMissingRecords},
		{"out of bounds", Input{
			Submitted: SubmittedRecord{TargetRevision: 0, IdempotencyID: "x", Changeset: mustParse(t, `[[0,3]]`)},
			Head:      doc.Head,
			Records:   doc.Records,
		}, changeset.ErrOutOfBounds},
		{"no idempotency id", Input{
			Submitted: SubmittedRecord{TargetRevision: 2},
			Head:      doc.Head,
		}, ErrMissingIdempotencyID},
	}
	for _, tt := range tests {
		_, err := ProcessSubmittedRecord(tt.in)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.want)
		}
	}

	_, err := ProcessSubmittedRecord(tests[1].in)
	var rerr *ReconciliationError
	if !errors.As(err, &rerr) {
		t.Fatalf("error %v is not a *ReconciliationError", err)
	}
	if rerr.TargetRevision != 0 || rerr.TailRevision != 1 || rerr.HeadRevision != 2 {
		t.Errorf("ReconciliationError = %+v", rerr)
	}
}

func TestComposeNewTail(t *testing.T) {
	doc := newDoc(t, "one")
	for i, wire := range []string{`[[0,2]," two"]`, `[[0,6]," three"]`, `["zero ",[0,12]]`, `[[0,8],[13,17]]`} {
		submit(t, doc, i, wire, fmt.Sprintf("r%d", i))
	}
	want := headText(t, doc)
	if want != "zero one three" {
		t.Fatalf("head = %q, want %q", want, "zero one three")
	}

	tail, err := ComposeNewTail(doc.Tail, doc.Records[:2])
	if err != nil {
		t.Fatalf("ComposeNewTail() error: %v", err)
	}
	if tail.Revision != 2 {
		t.Errorf("tail revision = %d, want 2", tail.Revision)
	}
	if text, _ := tail.Text(); text != "one two three" {
		t.Errorf("tail = %q, want %q", text, "one two three")
	}
	replayed, err := ComposeNewTail(tail, doc.Records[2:])
	if err != nil {
		t.Fatalf("ComposeNewTail() error: %v", err)
	}
	if text, _ := replayed.Text(); text != want || replayed.Revision != doc.Head.Revision {
		t.Errorf("replay from new tail = %q@%d, want %q@%d", text, replayed.Revision, want, doc.Head.Revision)
	}

	if _, err := ComposeNewTail(doc.Tail, doc.Records[1:]); !errors.Is(err, ErrMissingRecords) {
		t.Errorf("ComposeNewTail(gap) error = %v, want ErrMissingRecords", err)
	}
	if same, err := ComposeNewTail(doc.Tail, nil); err != nil || same.Revision != 0 {
		t.Errorf("ComposeNewTail(nil) = %+v, %v", same, err)
	}
}

func TestCompact(t *testing.T) {
	doc := newDoc(t, "")
	submit(t, doc, 0, `["0"]`, "id-0")
	for i := 1; i < 5; i++ {
		submit(t, doc, i, fmt.Sprintf(`[[0,%d],"%d"]`, i-1, i), fmt.Sprintf("id-%d", i))
	}
	want := headText(t, doc)
	if want != "01234" {
		t.Fatalf("head = %q, want %q", want, "01234")
	}

	if err := doc.Compact(2, 2); err != nil {
		t.Fatalf("Compact() error: %v", err)
	}
	if doc.Tail.Revision != 3 || len(doc.Records) != 2 {
		t.Errorf("tail = %d with %d records, want 3 with 2", doc.Tail.Revision, len(doc.Records))
	}
	if len(doc.Recent) != 2 || doc.Recent[0].IdempotencyID != "id-1" {
		t.Errorf("Recent = %+v, want id-1, id-2", doc.Recent)
	}
	if got := headText(t, doc); got != want {
		t.Errorf("head after compaction = %q, want %q", got, want)
	}
	at, err := doc.TextAt(doc.Head.Revision)
	if err != nil {
		t.Fatalf("TextAt() error: %v", err)
	}
	if text, _ := at.Text(); text != want {
		t.Errorf("TextAt(head) = %q, want %q", text, want)
	}
	if _, err := doc.TextAt(1); !errors.Is(err, ErrHistoryCompacted) {
		t.Errorf("TextAt(1) error = %v, want ErrHistoryCompacted", err)
	}
	if _, err := doc.TextAt(9); !errors.Is(err, ErrFutureRevision) {
		t.Errorf("TextAt(9) error = %v, want ErrFutureRevision", err)
	}
}

func TestResubmissionAfterCompaction(t *testing.T) {
	doc := newDoc(t, "x")
	first := submit(t, doc, 0, `[0,"y"]`, "early")
	submit(t, doc, 1, `[[0,1],"z"]`, "later")
	if err := doc.Compact(0, 4); err != nil {
		t.Fatalf("Compact() error: %v", err)
	}

	res := submit(t, doc, 0, `[0,"y"]`, "early")
	if res.Type != ResultExisting || !reflect.DeepEqual(res.Record, first.Record) {
		t.Errorf("resubmission = %+v, want existing %+v", res, first.Record)
	}
	if doc.Head.Revision != 2 {
		t.Errorf("head revision = %d, want 2", doc.Head.Revision)
	}

	// Outside the dedupe window the same retry is a reconciliation failure.
	if err := doc.CompactTo(doc.Tail, 0); err != nil {
		t.Fatalf("CompactTo() error: %v", err)
	}
	_, err := doc.Submit(SubmittedRecord{TargetRevision: 0, Changeset: mustParse(t, `[0,"y"]`), IdempotencyID: "early"}, epoch)
	if !errors.Is(err, ErrHistoryCompacted) {
		t.Errorf("late resubmission error = %v, want ErrHistoryCompacted", err)
	}
}

func TestNewCollabTextRequiresDocument(t *testing.T) {
	_, err := NewCollabText(changeset.Identity(3))
	if !errors.Is(err, changeset.ErrNotDocument) {
		t.Errorf("NewCollabText(identity) error = %v, want ErrNotDocument", err)
	}
}

func TestApplyRejectsGap(t *testing.T) {
	doc := newDoc(t, "a")
	err := doc.Apply(Result{Type: ResultNew, Record: ServerRecord{Revision: 3}, Head: RevisionText{Revision: 3}})
	if !errors.Is(err, ErrRevisionConflict) {
		t.Errorf("Apply() error = %v, want ErrRevisionConflict", err)
	}
}
