package collab

import (
	"time"

	"collabtext/internal/changeset"
	"collabtext/internal/selection"
)

// SubmittedRecord is an edit sent by a client. Changeset and both selections
// are relative to the document at TargetRevision.
type SubmittedRecord struct {
	TargetRevision  int                 `json:"targetRevision"`
	Changeset       changeset.Changeset `json:"changeset"`
	AuthorID        string              `json:"authorId"`
	IdempotencyID   string              `json:"idempotencyId"`
	SelectionBefore selection.Selection `json:"selectionBefore"`
	SelectionAfter  selection.Selection `json:"selectionAfter"`
}

// ServerRecord is an accepted edit. Changeset transforms revision-1 into
// Revision and Inverse transforms it back.
type ServerRecord struct {
	Revision        int                 `json:"revision"`
	Changeset       changeset.Changeset `json:"changeset"`
	Inverse         changeset.Changeset `json:"inverse"`
	SelectionBefore selection.Selection `json:"selectionBefore"`
	SelectionAfter  selection.Selection `json:"selectionAfter"`
	AuthorID        string              `json:"authorId"`
	IdempotencyID   string              `json:"idempotencyId"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// RevisionText is a document snapshot: a changeset from the empty text to
// the text at Revision.
type RevisionText struct {
	Revision  int                 `json:"revision"`
	Changeset changeset.Changeset `json:"changeset"`
}

// Text returns the snapshot as a string.
func (r RevisionText) Text() (string, error) {
	return r.Changeset.Text()
}

// findIdempotent returns the first record carrying id.
func findIdempotent(id string, lists ...[]ServerRecord) (ServerRecord, bool) {
	for _, records := range lists {
		for _, r := range records {
			if r.IdempotencyID == id {
				return r, true
			}
		}
	}
	return ServerRecord{}, false
}
