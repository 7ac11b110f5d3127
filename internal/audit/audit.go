// Package audit persists the append-only transition trail. Audit rows are
// written in the same transaction as the state change they record, so state
// and audit cannot diverge.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Priority flags events that need operator attention.
type Priority string

const (
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

// Event is an append-only record of a state change or notable failure.
type Event struct {
	ID        uuid.UUID `json:"id"`
	VoucherID int64     `json:"voucher_id"`
	At        time.Time `json:"at"`
	ActorID   int64     `json:"actor_id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Note      string    `json:"note,omitempty"`
	Priority  Priority  `json:"priority"`
}

// DBTX is the minimal query surface shared by pools and transactions.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Recorder writes and reads audit events.
type Recorder struct {
	pool *pgxpool.Pool
}

// NewRecorder returns a new Recorder.
func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// Append persists the event through q, which may be a transaction. The
// timestamp is assigned at write; insertion order breaks ties.
func (r *Recorder) Append(ctx context.Context, q DBTX, ev Event) error {
	if ev.VoucherID == 0 {
		return errors.New("audit: voucher id required")
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Priority == "" {
		ev.Priority = PriorityNormal
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := q.Exec(ctx, `INSERT INTO audit_events (id, voucher_id, at, actor_id, from_state, to_state, note, priority)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.VoucherID, at, ev.ActorID, ev.FromState, ev.ToState, ev.Note, string(ev.Priority))
	return err
}

// AppendStandalone persists an event outside any caller transaction. Used
// for alerts that must survive a rolled-back state change.
func (r *Recorder) AppendStandalone(ctx context.Context, ev Event) error {
	return r.Append(ctx, r.pool, ev)
}

// Timeline returns the ordered audit trail for a voucher.
func (r *Recorder) Timeline(ctx context.Context, voucherID int64) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, voucher_id, at, actor_id, from_state, to_state, note, priority
FROM audit_events WHERE voucher_id = $1 ORDER BY at, id`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		var priority string
		if err := rows.Scan(&ev.ID, &ev.VoucherID, &ev.At, &ev.ActorID, &ev.FromState, &ev.ToState, &ev.Note, &priority); err != nil {
			return nil, err
		}
		ev.Priority = Priority(priority)
		out = append(out, ev)
	}
	return out, rows.Err()
}
