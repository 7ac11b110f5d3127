package vouchers

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beacon-erp/beacon-payments/internal/audit"
	"github.com/beacon-erp/beacon-payments/internal/platform/db"
	"github.com/beacon-erp/beacon-payments/internal/signatories"
)

// ErrNotFound indicates the voucher does not exist.
var ErrNotFound = errors.New("voucher not found")

// Store is the persistence surface the service depends on.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	Get(ctx context.Context, id int64) (*Voucher, error)
	GetByToken(ctx context.Context, token string) (*Voucher, error)
	List(ctx context.Context, req ListVouchersRequest) ([]Voucher, int, error)
}

// TxStore exposes the operations that must share one transaction. Signature
// and audit rows commit atomically with the state write.
type TxStore interface {
	GetForUpdate(ctx context.Context, id int64) (*Voucher, error)
	NextNumber(ctx context.Context, companyID int64, kind Kind, year int) (int64, error)
	Insert(ctx context.Context, v *Voucher) (int64, error)
	SaveTransition(ctx context.Context, v *Voucher) error
	RecordSignature(ctx context.Context, sig signatories.Signature) error
	HasSignature(ctx context.Context, voucherID int64, stage signatories.Role, cycle int, userID int64) (bool, error)
	AppendAudit(ctx context.Context, ev audit.Event) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool       *pgxpool.Pool
	audits     *audit.Recorder
	signatures *signatories.Repository
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, audits *audit.Recorder, signatures *signatories.Repository) *Repository {
	return &Repository{pool: pool, audits: audits, signatures: signatures}
}

type txStore struct {
	tx   pgx.Tx
	repo *Repository
}

// WithTx wraps the callback in a repeatable-read transaction. Per-voucher
// serialization comes from GetForUpdate's row lock inside the transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx, repo: r})
	})
}

func (t *txStore) RecordSignature(ctx context.Context, sig signatories.Signature) error {
	return t.repo.signatures.InsertSignature(ctx, t.tx, sig)
}

func (t *txStore) HasSignature(ctx context.Context, voucherID int64, stage signatories.Role, cycle int, userID int64) (bool, error) {
	return t.repo.signatures.HasSignature(ctx, t.tx, voucherID, stage, cycle, userID)
}

func (t *txStore) AppendAudit(ctx context.Context, ev audit.Event) error {
	return t.repo.audits.Append(ctx, t.tx, ev)
}
