// Package store persists collaborative documents.
//
// Every implementation commits appends atomically against the head revision
// it was given: an append succeeds only when the record directly extends the
// stored head, so concurrent submissions to the same document serialize and
// the loser re-runs reconciliation.
package store

import (
	"context"
	"errors"

	"collabtext/internal/changeset"
	"collabtext/internal/collab"
)

var (
	// ErrNotFound is returned for unknown documents.
	ErrNotFound = errors.New("document not found")

	// ErrExists is returned when creating a document that already exists.
	ErrExists = errors.New("document already exists")

	// ErrConflict is returned when an append does not extend the stored head.
	ErrConflict = errors.New("head revision moved")
)

// Snapshot is a consistent view of one document.
type Snapshot struct {
	Head collab.RevisionText
	Tail collab.RevisionText

	// Records holds the records with revision greater than the requested
	// revision (or the tail, whichever is newer), in ascending order.
	Records []collab.ServerRecord

	// Recent holds compacted records still inside the dedupe window.
	Recent []collab.ServerRecord
}

// Store persists documents, their records and their tails.
type Store interface {
	// Create stores a new document at revision 0.
	Create(ctx context.Context, docID string, initial changeset.Changeset) (collab.RevisionText, error)

	// Snapshot loads the head, tail, records after the given revision and
	// the dedupe window of a document.
	Snapshot(ctx context.Context, docID string, after int) (*Snapshot, error)

	// Append stores rec and moves the head to head. It fails with ErrConflict
	// unless rec.Revision is the stored head revision plus one.
	Append(ctx context.Context, docID string, rec collab.ServerRecord, head collab.RevisionText) error

	// Compact replaces the tail and drops the records it covers, keeping the
	// newest dedupeWindow of them for idempotency checks.
	Compact(ctx context.Context, docID string, tail collab.RevisionText, dedupeWindow int) error

	// Close releases the underlying resources.
	Close() error
}
