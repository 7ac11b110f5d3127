package obligations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/beacon-erp/beacon-payments/internal/commission"
	"github.com/beacon-erp/beacon-payments/internal/vouchers"
)

// Inserter is the transactional write surface the materializer needs.
type Inserter interface {
	Insert(ctx context.Context, q DBTX, o *Obligation) (int64, error)
	AttachVoucher(ctx context.Context, id, voucherID int64) error
}

// VoucherCreator mints draft vouchers for obligations.
type VoucherCreator interface {
	Create(ctx context.Context, req vouchers.CreateVoucherRequest, actorID int64) (*vouchers.Voucher, error)
}

// SaleRef carries the sale-order facts an obligation mirrors.
type SaleRef struct {
	ID                int64
	CompanyID         int64
	CustomerReference string
	Currency          string
}

// Materializer turns frozen commission lines into purchase obligations and
// their derived draft vouchers.
type Materializer struct {
	store    Inserter
	vouchers VoucherCreator
	logger   *slog.Logger
}

// NewMaterializer constructs a materializer.
func NewMaterializer(store Inserter, vouchers VoucherCreator, logger *slog.Logger) *Materializer {
	return &Materializer{store: store, vouchers: vouchers, logger: logger}
}

// Materialize writes exactly one PENDING obligation per non-zero line
// through q, which is the sale-confirmation transaction. The supplier is the
// line's partner and the vendor reference mirrors the customer reference
// verbatim.
func (m *Materializer) Materialize(ctx context.Context, q DBTX, sale SaleRef, lines []commission.Line) ([]Obligation, error) {
	out := make([]Obligation, 0, len(lines))
	for _, l := range lines {
		if l.Amount.IsZero() {
			continue
		}
		o := Obligation{
			CompanyID:   sale.CompanyID,
			SaleOrderID: sale.ID,
			LineID:      l.ID,
			SupplierID:  l.PartnerID,
			Amount:      l.Amount,
			Currency:    sale.Currency,
			VendorRef:   sale.CustomerReference,
			State:       StatePending,
		}
		if _, err := m.store.Insert(ctx, q, &o); err != nil {
			return nil, fmt.Errorf("insert obligation for line %d: %w", l.ID, err)
		}
		out = append(out, o)
	}
	return out, nil
}

// DeriveVouchers creates one draft payment voucher per obligation and links
// it back. Runs after the confirmation commit; each voucher mints in its own
// numbering transaction. A failed derivation is logged and skipped so the
// remaining obligations still get their vouchers; the pending obligation can
// be re-derived later.
func (m *Materializer) DeriveVouchers(ctx context.Context, obs []Obligation, actorID int64) error {
	var firstErr error
	for i := range obs {
		o := &obs[i]
		v, err := m.vouchers.Create(ctx, vouchers.CreateVoucherRequest{
			CompanyID:     o.CompanyID,
			Kind:          vouchers.KindPayment,
			Amount:        o.Amount.InexactFloat64(),
			Currency:      o.Currency,
			PartnerID:     o.SupplierID,
			DateEffective: time.Now(),
			Memo:          fmt.Sprintf("commission payout, vendor ref %s", o.VendorRef),
			SaleOrderID:   &o.SaleOrderID,
			ObligationID:  &o.ID,
		}, actorID)
		if err != nil {
			if m.logger != nil {
				m.logger.Error("derive voucher",
					slog.Int64("obligation_id", o.ID),
					slog.Any("error", err))
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := m.store.AttachVoucher(ctx, o.ID, v.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		o.VoucherID = &v.ID
	}
	return firstErr
}
