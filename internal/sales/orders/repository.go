package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beacon-erp/beacon-payments/internal/commission"
	"github.com/beacon-erp/beacon-payments/internal/obligations"
	"github.com/beacon-erp/beacon-payments/internal/platform/db"
)

// ErrNotFound indicates the sale order does not exist.
var ErrNotFound = errors.New("sale order not found")

// Store is the persistence surface the service depends on.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	Get(ctx context.Context, id int64) (*Order, error)
	List(ctx context.Context, companyID int64) ([]Order, error)
}

// TxStore groups the operations of one confirmation transaction: the order
// write, the frozen commission lines and the obligation rows commit or roll
// back together.
type TxStore interface {
	GetForUpdate(ctx context.Context, id int64) (*Order, error)
	NextNumber(ctx context.Context, companyID int64, year int) (int64, error)
	Insert(ctx context.Context, o *Order) (int64, error)
	Update(ctx context.Context, o *Order) error
	RulesForSale(ctx context.Context, o *Order) ([]commission.Rule, error)
	ReplaceLines(ctx context.Context, saleOrderID int64, lines []commission.Line) error
	LinesForSale(ctx context.Context, saleOrderID int64) ([]commission.Line, error)
	MaterializeObligations(ctx context.Context, sale obligations.SaleRef, lines []commission.Line) ([]obligations.Obligation, error)
	AnyVoucherPastDraft(ctx context.Context, saleOrderID int64) (bool, error)
	CancelPendingObligations(ctx context.Context, saleOrderID int64) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool        *pgxpool.Pool
	commissions *commission.Repository
	obligations *obligations.Repository
	mat         *obligations.Materializer
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, commissions *commission.Repository, obs *obligations.Repository, mat *obligations.Materializer) *Repository {
	return &Repository{pool: pool, commissions: commissions, obligations: obs, mat: mat}
}

type txStore struct {
	tx   pgx.Tx
	repo *Repository
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx, repo: r})
	})
}

func (t *txStore) RulesForSale(ctx context.Context, o *Order) ([]commission.Rule, error) {
	return t.repo.commissions.RulesForSale(ctx, t.tx, o.CompanyID, o.ID, o.CustomerID)
}

func (t *txStore) ReplaceLines(ctx context.Context, saleOrderID int64, lines []commission.Line) error {
	return t.repo.commissions.ReplaceLines(ctx, t.tx, saleOrderID, lines)
}

func (t *txStore) LinesForSale(ctx context.Context, saleOrderID int64) ([]commission.Line, error) {
	return t.repo.commissions.LinesForSale(ctx, t.tx, saleOrderID)
}

func (t *txStore) MaterializeObligations(ctx context.Context, sale obligations.SaleRef, lines []commission.Line) ([]obligations.Obligation, error) {
	return t.repo.mat.Materialize(ctx, t.tx, sale, lines)
}

func (t *txStore) AnyVoucherPastDraft(ctx context.Context, saleOrderID int64) (bool, error) {
	return t.repo.obligations.AnyVoucherPastDraft(ctx, t.tx, saleOrderID)
}

func (t *txStore) CancelPendingObligations(ctx context.Context, saleOrderID int64) error {
	return t.repo.obligations.CancelPending(ctx, t.tx, saleOrderID)
}
