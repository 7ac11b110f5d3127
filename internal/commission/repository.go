package commission

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// DBTX is the minimal query surface shared by pools and transactions.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository persists commission rules and derived lines.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const ruleColumns = `r.id, r.company_id, r.partner_id, p.name, r.role, r.calc_kind,
       r.rate, r.min_amount, r.max_amount, r.active, r.sale_order_id, r.created_at`

// RulesForSale resolves the rules in effect for a sale order: per-order
// overrides when any exist, otherwise the company defaults for the customer.
func (r *Repository) RulesForSale(ctx context.Context, q DBTX, companyID, saleOrderID, customerID int64) ([]Rule, error) {
	overrides, err := r.queryRules(ctx, q, `SELECT `+ruleColumns+`
FROM commission_rules r
JOIN partners p ON p.id = r.partner_id
WHERE r.sale_order_id = $1
ORDER BY r.id`, saleOrderID)
	if err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		return overrides, nil
	}
	return r.queryRules(ctx, q, `SELECT `+ruleColumns+`
FROM commission_rules r
JOIN partners p ON p.id = r.partner_id
WHERE r.company_id = $1 AND r.sale_order_id IS NULL
  AND (r.customer_id IS NULL OR r.customer_id = $2)
ORDER BY r.id`, companyID, customerID)
}

func (r *Repository) queryRules(ctx context.Context, q DBTX, sql string, args ...any) ([]Rule, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Rule
	for rows.Next() {
		var rule Rule
		var role, kind string
		if err := rows.Scan(&rule.ID, &rule.CompanyID, &rule.PartnerID, &rule.PartnerName,
			&role, &kind, &rule.Rate, &rule.MinAmount, &rule.MaxAmount,
			&rule.Active, &rule.SaleOrderID, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rule.Role = Role(role)
		rule.CalcKind = CalcKind(kind)
		out = append(out, rule)
	}
	return out, rows.Err()
}

// ReplaceLines swaps the derived lines for a sale order. Runs through the
// caller's transaction; the sales service only calls it while the order is
// still a draft.
func (r *Repository) ReplaceLines(ctx context.Context, q DBTX, saleOrderID int64, lines []Line) error {
	if _, err := q.Exec(ctx, `DELETE FROM commission_lines WHERE sale_order_id = $1`, saleOrderID); err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := q.Exec(ctx, `INSERT INTO commission_lines
(sale_order_id, partner_id, role, calc_kind, rate, amount_computed, bucket)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			saleOrderID, l.PartnerID, string(l.Role), string(l.CalcKind), l.Rate, l.Amount, string(l.Bucket)); err != nil {
			return err
		}
	}
	return nil
}

// LinesForSale returns the derived lines for a sale order.
func (r *Repository) LinesForSale(ctx context.Context, q DBTX, saleOrderID int64) ([]Line, error) {
	if q == nil {
		q = r.pool
	}
	rows, err := q.Query(ctx, `SELECT l.id, l.sale_order_id, l.partner_id, p.name,
       l.role, l.calc_kind, l.rate, l.amount_computed, l.bucket
FROM commission_lines l
JOIN partners p ON p.id = l.partner_id
WHERE l.sale_order_id = $1
ORDER BY l.id`, saleOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		var role, kind, bucket string
		if err := rows.Scan(&l.ID, &l.SaleOrderID, &l.PartnerID, &l.PartnerName,
			&role, &kind, &l.Rate, &l.Amount, &bucket); err != nil {
			return nil, err
		}
		l.Role = Role(role)
		l.CalcKind = CalcKind(kind)
		l.Bucket = Bucket(bucket)
		out = append(out, l)
	}
	return out, rows.Err()
}

// SummaryForSale computes the rollup straight from persisted lines.
func (r *Repository) SummaryForSale(ctx context.Context, saleOrderID int64, amountTotal decimal.Decimal) (Summary, error) {
	lines, err := r.LinesForSale(ctx, r.pool, saleOrderID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(lines, amountTotal), nil
}
