package vouchers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const voucherColumns = `v.id, v.company_id, v.number, v.kind, v.state,
       v.amount, v.currency, v.partner_id, p.name, v.journal_id,
       v.date_effective, v.memo, v.token, v.token_issued_at,
       v.sale_order_id, v.obligation_id, v.rejected_reason,
       v.cycle, v.approvals_done,
       v.created_by, v.created_at, v.submitted_by, v.submitted_at,
       v.reviewed_by, v.reviewed_at, v.approved_by, v.approved_at,
       v.authorized_by, v.authorized_at, v.posted_by, v.posted_at, v.updated_at`

func scanVoucher(row pgx.Row) (*Voucher, error) {
	var v Voucher
	var kind, state string
	err := row.Scan(
		&v.ID, &v.CompanyID, &v.Number, &kind, &state,
		&v.Amount, &v.Currency, &v.PartnerID, &v.PartnerName, &v.JournalID,
		&v.DateEffective, &v.Memo, &v.Token, &v.TokenIssuedAt,
		&v.SaleOrderID, &v.ObligationID, &v.RejectedReason,
		&v.Cycle, &v.ApprovalsDone,
		&v.CreatedBy, &v.CreatedAt, &v.SubmittedBy, &v.SubmittedAt,
		&v.ReviewedBy, &v.ReviewedAt, &v.ApprovedBy, &v.ApprovedAt,
		&v.AuthorizedBy, &v.AuthorizedAt, &v.PostedBy, &v.PostedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	v.Kind = Kind(kind)
	v.State = State(state)
	return &v, nil
}

// Get fetches a voucher by ID.
func (r *Repository) Get(ctx context.Context, id int64) (*Voucher, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM vouchers v
JOIN partners p ON p.id = v.partner_id WHERE v.id = $1`, voucherColumns), id)
	return scanVoucher(row)
}

// GetByToken resolves the verification capability to its voucher.
func (r *Repository) GetByToken(ctx context.Context, token string) (*Voucher, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM vouchers v
JOIN partners p ON p.id = v.partner_id WHERE v.token = $1`, voucherColumns), token)
	return scanVoucher(row)
}

// List returns vouchers matching the filters plus the unpaged total.
func (r *Repository) List(ctx context.Context, req ListVouchersRequest) ([]Voucher, int, error) {
	conditions := []string{"v.company_id = $1"}
	args := []interface{}{req.CompanyID}
	argPos := 2

	if req.State != nil {
		conditions = append(conditions, fmt.Sprintf("v.state = $%d", argPos))
		args = append(args, string(*req.State))
		argPos++
	}
	if req.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("v.kind = $%d", argPos))
		args = append(args, string(*req.Kind))
		argPos++
	}
	if req.PartnerID != nil {
		conditions = append(conditions, fmt.Sprintf("v.partner_id = $%d", argPos))
		args = append(args, *req.PartnerID)
		argPos++
	}
	if req.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("v.date_effective >= $%d", argPos))
		args = append(args, *req.DateFrom)
		argPos++
	}
	if req.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("v.date_effective <= $%d", argPos))
		args = append(args, *req.DateTo)
		argPos++
	}

	whereClause := "WHERE " + conditions[0]
	for i := 1; i < len(conditions); i++ {
		whereClause += " AND " + conditions[i]
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM vouchers v %s", whereClause)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM vouchers v
JOIN partners p ON p.id = v.partner_id
%s
ORDER BY v.date_effective DESC, v.id DESC
LIMIT $%d OFFSET $%d`, voucherColumns, whereClause, argPos, argPos+1)
	args = append(args, limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *v)
	}
	return out, total, rows.Err()
}

// AuthorizedVoucherIDs returns IDs of vouchers waiting in AUTHORIZED, oldest
// first. Feeds the auto-posting sweeper.
func (r *Repository) AuthorizedVoucherIDs(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id FROM vouchers
WHERE state = 'AUTHORIZED' ORDER BY authorized_at, id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetForUpdate locks the voucher row for the duration of the transaction,
// serializing concurrent transitions per voucher.
func (t *txStore) GetForUpdate(ctx context.Context, id int64) (*Voucher, error) {
	row := t.tx.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM vouchers v
JOIN partners p ON p.id = v.partner_id WHERE v.id = $1 FOR UPDATE OF v`, voucherColumns), id)
	return scanVoucher(row)
}

// NextNumber allocates the next sequence value for (company, kind, year).
// The upsert takes a row lock on the counter, so concurrent creations never
// collide on the same number.
func (t *txStore) NextNumber(ctx context.Context, companyID int64, kind Kind, year int) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `INSERT INTO voucher_counters (company_id, kind, year, last_value)
VALUES ($1, $2, $3, 1)
ON CONFLICT (company_id, kind, year)
DO UPDATE SET last_value = voucher_counters.last_value + 1
RETURNING last_value`, companyID, string(kind), year).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("allocate voucher number: %w", err)
	}
	return seq, nil
}

// Insert persists a new draft voucher. Number and token are written in the
// same statement as the row itself.
func (t *txStore) Insert(ctx context.Context, v *Voucher) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO vouchers (
  company_id, number, kind, state, amount, currency, partner_id, journal_id,
  date_effective, memo, token, token_issued_at, sale_order_id, obligation_id,
  cycle, approvals_done, created_by, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
RETURNING id`,
		v.CompanyID, v.Number, string(v.Kind), string(v.State), v.Amount, v.Currency,
		v.PartnerID, v.JournalID, v.DateEffective, v.Memo, v.Token, v.TokenIssuedAt,
		v.SaleOrderID, v.ObligationID, v.Cycle, v.ApprovalsDone, v.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// SaveTransition writes the mutable transition fields. Identity fields
// (number, token, kind, amount) are deliberately absent from the SET list.
func (t *txStore) SaveTransition(ctx context.Context, v *Voucher) error {
	tag, err := t.tx.Exec(ctx, `UPDATE vouchers SET
  state = $2, rejected_reason = $3, cycle = $4, approvals_done = $5,
  submitted_by = $6, submitted_at = $7,
  reviewed_by = $8, reviewed_at = $9,
  approved_by = $10, approved_at = $11,
  authorized_by = $12, authorized_at = $13,
  posted_by = $14, posted_at = $15,
  updated_at = NOW()
WHERE id = $1`,
		v.ID, string(v.State), v.RejectedReason, v.Cycle, v.ApprovalsDone,
		v.SubmittedBy, v.SubmittedAt,
		v.ReviewedBy, v.ReviewedAt,
		v.ApprovedBy, v.ApprovedAt,
		v.AuthorizedBy, v.AuthorizedAt,
		v.PostedBy, v.PostedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
