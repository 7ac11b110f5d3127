package signatories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the minimal query surface shared by pools and transactions.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository provides PostgreSQL backed persistence for signatory
// configuration and the signature ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListActive returns the active signatories for a role within a company.
func (r *Repository) ListActive(ctx context.Context, companyID int64, role Role) ([]Signatory, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.company_id, s.user_id, u.full_name, u.email,
       s.role, s.min_amount, s.max_amount, s.active, s.created_at, s.updated_at
FROM signatories s
JOIN users u ON u.id = s.user_id
WHERE s.company_id = $1 AND s.role = $2 AND s.active
ORDER BY s.min_amount, s.id`, companyID, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSignatories(rows)
}

// ListForUser returns the active signatory rows held by a user across roles.
func (r *Repository) ListForUser(ctx context.Context, companyID, userID int64) ([]Signatory, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.company_id, s.user_id, u.full_name, u.email,
       s.role, s.min_amount, s.max_amount, s.active, s.created_at, s.updated_at
FROM signatories s
JOIN users u ON u.id = s.user_id
WHERE s.company_id = $1 AND s.user_id = $2 AND s.active
ORDER BY s.role, s.id`, companyID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSignatories(rows)
}

func scanSignatories(rows pgx.Rows) ([]Signatory, error) {
	var out []Signatory
	for rows.Next() {
		var s Signatory
		var role string
		if err := rows.Scan(&s.ID, &s.CompanyID, &s.UserID, &s.UserName, &s.Email,
			&role, &s.MinAmount, &s.MaxAmount, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Role = Role(role)
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertSignature appends a ledger row. The caller supplies the transaction
// so the row commits atomically with the state change it records.
func (r *Repository) InsertSignature(ctx context.Context, q DBTX, sig Signature) error {
	at := sig.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := q.Exec(ctx, `INSERT INTO voucher_signatures (voucher_id, stage, cycle, user_id, at, bitmap)
VALUES ($1, $2, $3, $4, $5, $6)`, sig.VoucherID, string(sig.Stage), sig.Cycle, sig.UserID, at, sig.Bitmap)
	return err
}

// HasSignature reports whether a user already signed a stage within the
// given approval cycle. Queried through the caller's transaction so the
// check sees rows from the current round.
func (r *Repository) HasSignature(ctx context.Context, q DBTX, voucherID int64, stage Role, cycle int, userID int64) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM voucher_signatures
WHERE voucher_id = $1 AND stage = $2 AND cycle = $3 AND user_id = $4)`,
		voucherID, string(stage), cycle, userID).Scan(&exists)
	return exists, err
}

// ListSignatures returns the ledger for a voucher ordered by time.
func (r *Repository) ListSignatures(ctx context.Context, voucherID int64) ([]Signature, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, voucher_id, stage, cycle, user_id, at, bitmap
FROM voucher_signatures WHERE voucher_id = $1 ORDER BY at, id`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Signature
	for rows.Next() {
		var s Signature
		var stage string
		if err := rows.Scan(&s.ID, &s.VoucherID, &stage, &s.Cycle, &s.UserID, &s.At, &s.Bitmap); err != nil {
			return nil, err
		}
		s.Stage = Role(stage)
		out = append(out, s)
	}
	return out, rows.Err()
}

// EmailsByUserID resolves notification addresses from the user registry.
func (r *Repository) EmailsByUserID(ctx context.Context, userIDs []int64) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT email FROM users WHERE id = ANY($1) AND email <> ''`, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var emails []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}
