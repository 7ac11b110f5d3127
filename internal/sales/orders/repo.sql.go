package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const orderColumns = `o.id, o.company_id, o.number, o.customer_id, c.name,
       o.customer_reference, o.currency, o.untaxed_total, o.sale_value, o.amount_total,
       o.status, o.commission_processed,
       o.created_by, o.created_at, o.confirmed_at, o.updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status string
	err := row.Scan(
		&o.ID, &o.CompanyID, &o.Number, &o.CustomerID, &o.CustomerName,
		&o.CustomerReference, &o.Currency, &o.UntaxedTotal, &o.SaleValue, &o.AmountTotal,
		&status, &o.CommissionProcessed,
		&o.CreatedBy, &o.CreatedAt, &o.ConfirmedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	o.Status = Status(status)
	return &o, nil
}

// Get fetches a sale order by ID.
func (r *Repository) Get(ctx context.Context, id int64) (*Order, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM sale_orders o
JOIN partners c ON c.id = o.customer_id WHERE o.id = $1`, orderColumns), id)
	return scanOrder(row)
}

// List returns a company's sale orders, newest first.
func (r *Repository) List(ctx context.Context, companyID int64) ([]Order, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM sale_orders o
JOIN partners c ON c.id = o.customer_id
WHERE o.company_id = $1 ORDER BY o.id DESC LIMIT 200`, orderColumns), companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// GetForUpdate locks the order row for the transaction.
func (t *txStore) GetForUpdate(ctx context.Context, id int64) (*Order, error) {
	row := t.tx.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM sale_orders o
JOIN partners c ON c.id = o.customer_id
WHERE o.id = $1 FOR UPDATE OF o`, orderColumns), id)
	return scanOrder(row)
}

// NextNumber allocates the next per-company per-year sequence value.
func (t *txStore) NextNumber(ctx context.Context, companyID int64, year int) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sale_order_counters (company_id, year, last_value)
VALUES ($1, $2, 1)
ON CONFLICT (company_id, year)
DO UPDATE SET last_value = sale_order_counters.last_value + 1
RETURNING last_value`, companyID, year).Scan(&seq)
	return seq, err
}

// Insert writes a draft order and returns its ID.
func (t *txStore) Insert(ctx context.Context, o *Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sale_orders
(company_id, number, customer_id, customer_reference, currency,
 untaxed_total, sale_value, amount_total, status, commission_processed,
 created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
RETURNING id`,
		o.CompanyID, o.Number, o.CustomerID, o.CustomerReference, o.Currency,
		o.UntaxedTotal, o.SaleValue, o.AmountTotal, string(o.Status), o.CommissionProcessed,
		o.CreatedBy).Scan(&id)
	if err != nil {
		return 0, err
	}
	o.ID = id
	return id, nil
}

// Update persists the mutable order fields.
func (t *txStore) Update(ctx context.Context, o *Order) error {
	tag, err := t.tx.Exec(ctx, `UPDATE sale_orders SET
  customer_reference = $2, untaxed_total = $3, sale_value = $4, amount_total = $5,
  status = $6, commission_processed = $7, confirmed_at = $8, updated_at = now()
WHERE id = $1`,
		o.ID, o.CustomerReference, o.UntaxedTotal, o.SaleValue, o.AmountTotal,
		string(o.Status), o.CommissionProcessed, o.ConfirmedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
