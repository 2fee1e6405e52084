package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct{ DB *pgxpool.Pool }

// PendingBatch claims up to n pending rows. SKIP LOCKED keeps concurrent
// relays from claiming the same rows.
func (s *PGStore) PendingBatch(ctx context.Context, n int) ([]Event, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, key, event_type, payload FROM outbox
		WHERE status='pending'
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, n)
	if err != nil {
		return nil, err
	}
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Key, &e.Type, &e.Payload); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, 0, len(out))
	for _, e := range out {
		ids = append(ids, e.ID)
	}
	if _, err := tx.Exec(ctx, `UPDATE outbox SET status='in_progress', claimed_at=now() WHERE id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

// ReclaimStale returns rows stuck in in_progress to pending. A relay
// that crashed (or failed to mark) between claim and send would
// otherwise strand its claimed events forever.
func (s *PGStore) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE outbox SET status='pending', claimed_at=NULL
		WHERE status='in_progress' AND claimed_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (s *PGStore) MarkSent(ctx context.Context, ids []int64) error {
	_, err := s.DB.Exec(ctx, `UPDATE outbox SET status='sent' WHERE id = ANY($1)`, ids)
	return err
}

// MarkFailed puts the row back to pending with the error recorded, so a
// later tick retries it.
func (s *PGStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE outbox SET status='pending', attempts=attempts+1, last_error=$2 WHERE id=$1
	`, id, errMsg)
	return err
}
