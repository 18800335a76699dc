package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"collabtext/internal/changeset"
	"collabtext/internal/collab"
)

var (
	documentsBucket = []byte("documents")
	recordsBucket   = []byte("records")
	recentBucket    = []byte("recent")
	idsBucket       = []byte("ids")
	headKey         = []byte("head")
	tailKey         = []byte("tail")
)

// BoltStore keeps documents in a bbolt file. Each document is a bucket
// holding its head and tail snapshots and nested buckets for records, the
// dedupe window and the idempotency index.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates the bbolt database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Create(_ context.Context, docID string, initial changeset.Changeset) (collab.RevisionText, error) {
	doc, err := collab.NewCollabText(initial)
	if err != nil {
		return collab.RevisionText{}, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(documentsBucket)
		if docs.Bucket([]byte(docID)) != nil {
			return ErrExists
		}
		b, err := docs.CreateBucket([]byte(docID))
		if err != nil {
			return err
		}
		for _, name := range [][]byte{recordsBucket, recentBucket, idsBucket} {
			if _, err := b.CreateBucket(name); err != nil {
				return err
			}
		}
		if err := putJSON(b, headKey, doc.Head); err != nil {
			return err
		}
		return putJSON(b, tailKey, doc.Tail)
	})
	if err != nil {
		return collab.RevisionText{}, fmt.Errorf("create %s: %w", docID, err)
	}
	return doc.Head, nil
}

func (s *BoltStore) Snapshot(_ context.Context, docID string, after int) (*Snapshot, error) {
	snap := &Snapshot{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(documentsBucket).Bucket([]byte(docID))
		if b == nil {
			return ErrNotFound
		}
		if err := getJSON(b, headKey, &snap.Head); err != nil {
			return err
		}
		if err := getJSON(b, tailKey, &snap.Tail); err != nil {
			return err
		}
		var err error
		if snap.Records, err = scanRecords(b.Bucket(recordsBucket), max(after, snap.Tail.Revision)+1); err != nil {
			return err
		}
		snap.Recent, err = scanRecords(b.Bucket(recentBucket), 0)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", docID, err)
	}
	return snap, nil
}

func (s *BoltStore) Append(_ context.Context, docID string, rec collab.ServerRecord, head collab.RevisionText) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(documentsBucket).Bucket([]byte(docID))
		if b == nil {
			return ErrNotFound
		}
		var cur collab.RevisionText
		if err := getJSON(b, headKey, &cur); err != nil {
			return err
		}
		if rec.Revision != cur.Revision+1 {
			return fmt.Errorf("revision %d on head %d: %w", rec.Revision, cur.Revision, ErrConflict)
		}
		ids := b.Bucket(idsBucket)
		if ids.Get([]byte(rec.IdempotencyID)) != nil {
			return fmt.Errorf("duplicate idempotency id %q: %w", rec.IdempotencyID, ErrConflict)
		}
		if err := ids.Put([]byte(rec.IdempotencyID), revisionKey(rec.Revision)); err != nil {
			return err
		}
		if err := putJSON(b.Bucket(recordsBucket), revisionKey(rec.Revision), rec); err != nil {
			return err
		}
		return putJSON(b, headKey, head)
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", docID, err)
	}
	return nil
}

func (s *BoltStore) Compact(_ context.Context, docID string, tail collab.RevisionText, dedupeWindow int) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(documentsBucket).Bucket([]byte(docID))
		if b == nil {
			return ErrNotFound
		}
		var cur, head collab.RevisionText
		if err := getJSON(b, tailKey, &cur); err != nil {
			return err
		}
		if err := getJSON(b, headKey, &head); err != nil {
			return err
		}
		if tail.Revision < cur.Revision || tail.Revision > head.Revision {
			return fmt.Errorf("tail %d outside [%d, %d]: %w", tail.Revision, cur.Revision, head.Revision, collab.ErrRevisionConflict)
		}

		records, recent := b.Bucket(recordsBucket), b.Bucket(recentBucket)
		for rev := cur.Revision + 1; rev <= tail.Revision; rev++ {
			key := revisionKey(rev)
			if v := records.Get(key); v != nil {
				if err := recent.Put(key, append([]byte(nil), v...)); err != nil {
					return err
				}
				if err := records.Delete(key); err != nil {
					return err
				}
			}
		}
		if err := trimRecent(recent, b.Bucket(idsBucket), dedupeWindow); err != nil {
			return err
		}
		return putJSON(b, tailKey, tail)
	})
	if err != nil {
		return fmt.Errorf("compact %s: %w", docID, err)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// trimRecent drops the oldest entries of recent beyond window, together
// with their idempotency index entries.
func trimRecent(recent, ids *bolt.Bucket, window int) error {
	n := 0
	c := recent.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	extra := n - max(window, 0)
	if extra <= 0 {
		return nil
	}
	var keys [][]byte
	for k, v := c.First(); k != nil && len(keys) < extra; k, v = c.Next() {
		var rec collab.ServerRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if err := ids.Delete([]byte(rec.IdempotencyID)); err != nil {
			return err
		}
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := recent.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func scanRecords(b *bolt.Bucket, from int) ([]collab.ServerRecord, error) {
	var out []collab.ServerRecord
	c := b.Cursor()
	for k, v := c.Seek(revisionKey(max(from, 0))); k != nil; k, v = c.Next() {
		var rec collab.ServerRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", binary.BigEndian.Uint64(k), err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func revisionKey(rev int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(rev))
	return k
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func getJSON(b *bolt.Bucket, key []byte, v any) error {
	data := b.Get(key)
	if data == nil {
		return fmt.Errorf("missing %s", key)
	}
	return json.Unmarshal(data, v)
}
