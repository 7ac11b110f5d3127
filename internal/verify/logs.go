package verify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LogStore persists verification attempts.
type LogStore struct {
	pool *pgxpool.Pool
}

// NewLogStore constructs a LogStore.
func NewLogStore(pool *pgxpool.Pool) *LogStore {
	return &LogStore{pool: pool}
}

// Append writes one attempt.
func (s *LogStore) Append(ctx context.Context, l Log) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.At.IsZero() {
		l.At = time.Now()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO verification_logs
(id, voucher_id, token_hash, ip_hash, outcome, at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.VoucherID, l.TokenHash, l.IPHash, string(l.Outcome), l.At)
	return err
}

// DeleteOlderThan prunes aged log rows and returns how many went away.
func (s *LogStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM verification_logs WHERE at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
