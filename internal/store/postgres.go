package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"collabtext/internal/changeset"
	"collabtext/internal/collab"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	head_revision INTEGER NOT NULL,
	head_text     JSONB NOT NULL,
	tail_revision INTEGER NOT NULL,
	tail_text     JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS records (
	document_id      TEXT NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
	revision         INTEGER NOT NULL,
	changeset        JSONB NOT NULL,
	inverse          JSONB NOT NULL,
	selection_before JSONB NOT NULL,
	selection_after  JSONB NOT NULL,
	author_id        TEXT NOT NULL,
	idempotency_id   TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	compacted        BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (document_id, revision),
	UNIQUE (document_id, idempotency_id)
);
`

const recordColumns = `revision, changeset, inverse, selection_before, selection_after, author_id, idempotency_id, created_at`

// uniqueViolation is the SQLSTATE of a unique constraint failure.
const uniqueViolation = "23505"

// PostgresStore keeps documents in PostgreSQL. Records composed into the
// tail stay in the records table flagged as compacted while they are inside
// the dedupe window.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to url and creates the schema when missing.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Create(ctx context.Context, docID string, initial changeset.Changeset) (collab.RevisionText, error) {
	doc, err := collab.NewCollabText(initial)
	if err != nil {
		return collab.RevisionText{}, err
	}
	text, err := json.Marshal(doc.Head.Changeset)
	if err != nil {
		return collab.RevisionText{}, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, head_revision, head_text, tail_revision, tail_text)
		 VALUES ($1, 0, $2, 0, $2) ON CONFLICT (id) DO NOTHING`, docID, text)
	if err != nil {
		return collab.RevisionText{}, fmt.Errorf("create %s: %w", docID, err)
	}
	if tag.RowsAffected() == 0 {
		return collab.RevisionText{}, fmt.Errorf("create %s: %w", docID, ErrExists)
	}
	return doc.Head, nil
}

func (s *PostgresStore) Snapshot(ctx context.Context, docID string, after int) (*Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", docID, err)
	}
	defer tx.Rollback(ctx)

	snap := &Snapshot{}
	var head, tail []byte
	err = tx.QueryRow(ctx,
		`SELECT head_revision, head_text, tail_revision, tail_text FROM documents WHERE id = $1`, docID,
	).Scan(&snap.Head.Revision, &head, &snap.Tail.Revision, &tail)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", docID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", docID, err)
	}
	if err := json.Unmarshal(head, &snap.Head.Changeset); err != nil {
		return nil, fmt.Errorf("snapshot %s: decode head: %w", docID, err)
	}
	if err := json.Unmarshal(tail, &snap.Tail.Changeset); err != nil {
		return nil, fmt.Errorf("snapshot %s: decode tail: %w", docID, err)
	}

	snap.Records, err = queryRecords(ctx, tx,
		`SELECT `+recordColumns+` FROM records
		 WHERE document_id = $1 AND revision > $2 AND NOT compacted ORDER BY revision`,
		docID, max(after, snap.Tail.Revision))
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", docID, err)
	}
	snap.Recent, err = queryRecords(ctx, tx,
		`SELECT `+recordColumns+` FROM records
		 WHERE document_id = $1 AND compacted ORDER BY revision`, docID)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", docID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", docID, err)
	}
	return snap, nil
}

func (s *PostgresStore) Append(ctx context.Context, docID string, rec collab.ServerRecord, head collab.RevisionText) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	headText, err := json.Marshal(head.Changeset)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE documents SET head_revision = $3, head_text = $4
			 WHERE id = $1 AND head_revision = $2`, docID, rec.Revision-1, head.Revision, headText)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, docID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return fmt.Errorf("revision %d: %w", rec.Revision, ErrConflict)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO records (document_id, `+recordColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, append([]any{docID}, args...)...)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("duplicate idempotency id %q: %w", rec.IdempotencyID, ErrConflict)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", docID, err)
	}
	return nil
}

func (s *PostgresStore) Compact(ctx context.Context, docID string, tail collab.RevisionText, dedupeWindow int) error {
	tailText, err := json.Marshal(tail.Changeset)
	if err != nil {
		return err
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var curTail, head int
		err := tx.QueryRow(ctx,
			`SELECT tail_revision, head_revision FROM documents WHERE id = $1 FOR UPDATE`, docID,
		).Scan(&curTail, &head)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if tail.Revision < curTail || tail.Revision > head {
			return fmt.Errorf("tail %d outside [%d, %d]: %w", tail.Revision, curTail, head, collab.ErrRevisionConflict)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE records SET compacted = true
			 WHERE document_id = $1 AND revision <= $2 AND NOT compacted`, docID, tail.Revision); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM records WHERE document_id = $1 AND compacted AND revision NOT IN (
			   SELECT revision FROM records WHERE document_id = $1 AND compacted
			   ORDER BY revision DESC LIMIT $2)`, docID, max(dedupeWindow, 0)); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE documents SET tail_revision = $2, tail_text = $3 WHERE id = $1`, docID, tail.Revision, tailText)
		return err
	})
	if err != nil {
		return fmt.Errorf("compact %s: %w", docID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func recordArgs(rec collab.ServerRecord) ([]any, error) {
	var blobs [4][]byte
	for i, v := range []any{rec.Changeset, rec.Inverse, rec.SelectionBefore, rec.SelectionAfter} {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode record %d: %w", rec.Revision, err)
		}
		blobs[i] = data
	}
	return []any{rec.Revision, blobs[0], blobs[1], blobs[2], blobs[3], rec.AuthorID, rec.IdempotencyID, rec.CreatedAt}, nil
}

func queryRecords(ctx context.Context, tx pgx.Tx, sql string, args ...any) ([]collab.ServerRecord, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []collab.ServerRecord
	for rows.Next() {
		var rec collab.ServerRecord
		var cs, inv, before, after []byte
		if err := rows.Scan(&rec.Revision, &cs, &inv, &before, &after, &rec.AuthorID, &rec.IdempotencyID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		for _, f := range []struct {
			data []byte
			dst  any
		}{{cs, &rec.Changeset}, {inv, &rec.Inverse}, {before, &rec.SelectionBefore}, {after, &rec.SelectionAfter}} {
			if err := json.Unmarshal(f.data, f.dst); err != nil {
				return nil, fmt.Errorf("decode record %d: %w", rec.Revision, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
