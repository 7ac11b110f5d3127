package obligations

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the obligation does not exist.
var ErrNotFound = errors.New("obligation not found")

// DBTX is the minimal query surface shared by pools and transactions.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository persists purchase obligations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const obligationColumns = `o.id, o.company_id, o.sale_order_id, o.source_line_id, o.supplier_id,
       p.name, o.amount, o.currency, o.vendor_ref, o.state, o.voucher_id, o.created_at, o.updated_at`

// Insert writes an obligation through q and returns its ID.
func (r *Repository) Insert(ctx context.Context, q DBTX, o *Obligation) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `INSERT INTO purchase_obligations
(company_id, sale_order_id, source_line_id, supplier_id, amount, currency, vendor_ref, state, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
RETURNING id`,
		o.CompanyID, o.SaleOrderID, o.LineID, o.SupplierID, o.Amount, o.Currency,
		o.VendorRef, string(o.State)).Scan(&id)
	if err != nil {
		return 0, err
	}
	o.ID = id
	return id, nil
}

// Get returns one obligation.
func (r *Repository) Get(ctx context.Context, id int64) (*Obligation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+obligationColumns+`
FROM purchase_obligations o
JOIN partners p ON p.id = o.supplier_id
WHERE o.id = $1`, id)
	return scanObligation(row)
}

// ListForSale returns the obligations derived from a sale order.
func (r *Repository) ListForSale(ctx context.Context, q DBTX, saleOrderID int64) ([]Obligation, error) {
	if q == nil {
		q = r.pool
	}
	rows, err := q.Query(ctx, `SELECT `+obligationColumns+`
FROM purchase_obligations o
JOIN partners p ON p.id = o.supplier_id
WHERE o.sale_order_id = $1
ORDER BY o.id`, saleOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// AnyVoucherPastDraft reports whether any voucher derived from the sale's
// obligations has left DRAFT. Guards the recompute reset.
func (r *Repository) AnyVoucherPastDraft(ctx context.Context, q DBTX, saleOrderID int64) (bool, error) {
	if q == nil {
		q = r.pool
	}
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (
SELECT 1
FROM purchase_obligations o
JOIN vouchers v ON v.obligation_id = o.id
WHERE o.sale_order_id = $1 AND v.state <> 'DRAFT')`, saleOrderID).Scan(&exists)
	return exists, err
}

// CancelPending cancels the sale's open obligations ahead of a recompute.
func (r *Repository) CancelPending(ctx context.Context, q DBTX, saleOrderID int64) error {
	_, err := q.Exec(ctx, `UPDATE purchase_obligations
SET state = 'CANCELLED', updated_at = now()
WHERE sale_order_id = $1 AND state = 'PENDING'`, saleOrderID)
	return err
}

// AttachVoucher links the derived draft voucher to its obligation.
func (r *Repository) AttachVoucher(ctx context.Context, id, voucherID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE purchase_obligations
SET voucher_id = $2, updated_at = now()
WHERE id = $1`, id, voucherID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetState advances the obligation lifecycle.
func (r *Repository) SetState(ctx context.Context, id int64, state State) error {
	tag, err := r.pool.Exec(ctx, `UPDATE purchase_obligations
SET state = $2, updated_at = now()
WHERE id = $1`, id, string(state))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ByVoucher resolves the obligation a voucher was derived from.
func (r *Repository) ByVoucher(ctx context.Context, voucherID int64) (*Obligation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+obligationColumns+`
FROM purchase_obligations o
JOIN partners p ON p.id = o.supplier_id
WHERE o.voucher_id = $1`, voucherID)
	return scanObligation(row)
}

func scanObligation(row pgx.Row) (*Obligation, error) {
	var o Obligation
	var state string
	err := row.Scan(&o.ID, &o.CompanyID, &o.SaleOrderID, &o.LineID, &o.SupplierID,
		&o.SupplierName, &o.Amount, &o.Currency, &o.VendorRef, &state,
		&o.VoucherID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	o.State = State(state)
	return &o, nil
}
