package store

import (
	"context"
	"fmt"
	"sync"

	"collabtext/internal/changeset"
	"collabtext/internal/collab"
)

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*collab.CollabText
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*collab.CollabText)}
}

func (s *MemoryStore) Create(_ context.Context, docID string, initial changeset.Changeset) (collab.RevisionText, error) {
	doc, err := collab.NewCollabText(initial)
	if err != nil {
		return collab.RevisionText{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[docID]; ok {
		return collab.RevisionText{}, fmt.Errorf("create %s: %w", docID, ErrExists)
	}
	s.docs[docID] = doc
	return doc.Head, nil
}

func (s *MemoryStore) Snapshot(_ context.Context, docID string, after int) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[docID]
	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", docID, ErrNotFound)
	}
	return &Snapshot{
		Head:    doc.Head,
		Tail:    doc.Tail,
		Records: doc.RecordsAfter(after),
		Recent:  append([]collab.ServerRecord(nil), doc.Recent...),
	}, nil
}

func (s *MemoryStore) Append(_ context.Context, docID string, rec collab.ServerRecord, head collab.RevisionText) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[docID]
	if !ok {
		return fmt.Errorf("append %s: %w", docID, ErrNotFound)
	}
	if rec.Revision != doc.Head.Revision+1 {
		return fmt.Errorf("append %s revision %d on head %d: %w", docID, rec.Revision, doc.Head.Revision, ErrConflict)
	}
	for _, lists := range [][]collab.ServerRecord{doc.Records, doc.Recent} {
		for _, r := range lists {
			if r.IdempotencyID == rec.IdempotencyID {
				return fmt.Errorf("append %s: duplicate idempotency id %q: %w", docID, rec.IdempotencyID, ErrConflict)
			}
		}
	}
	return doc.Apply(collab.Result{Type: collab.ResultNew, Record: rec, Head: head})
}

func (s *MemoryStore) Compact(_ context.Context, docID string, tail collab.RevisionText, dedupeWindow int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[docID]
	if !ok {
		return fmt.Errorf("compact %s: %w", docID, ErrNotFound)
	}
	return doc.CompactTo(tail, dedupeWindow)
}

func (s *MemoryStore) Close() error {
	return nil
}
