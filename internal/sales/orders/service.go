package orders

import (
	"context"
	"log/slog"
	"time"

	"github.com/beacon-erp/beacon-payments/internal/commission"
	"github.com/beacon-erp/beacon-payments/internal/events"
	"github.com/beacon-erp/beacon-payments/internal/obligations"
	"github.com/beacon-erp/beacon-payments/internal/shared"
)

// VoucherDeriver creates the draft vouchers for freshly materialized
// obligations after the confirmation commits.
type VoucherDeriver interface {
	DeriveVouchers(ctx context.Context, obs []obligations.Obligation, actorID int64) error
}

// ObligationReader resolves a sale's obligations for the detail view.
type ObligationReader interface {
	ListForSale(ctx context.Context, q obligations.DBTX, saleOrderID int64) ([]obligations.Obligation, error)
}

// Service drives sale-order lifecycle and commission propagation.
type Service struct {
	repo        Store
	deriver     VoucherDeriver
	obligations ObligationReader
	bus         events.Publisher
	logger      *slog.Logger
}

// NewService constructs the service.
func NewService(repo Store, deriver VoucherDeriver, obs ObligationReader, bus events.Publisher, logger *slog.Logger) *Service {
	return &Service{repo: repo, deriver: deriver, obligations: obs, bus: bus, logger: logger}
}

// Create persists a draft sale order with its number assigned.
func (s *Service) Create(ctx context.Context, req CreateOrderRequest, actorID int64) (*Order, error) {
	if req.UntaxedTotal.IsNegative() || req.AmountTotal.IsNegative() {
		return nil, shared.E(shared.CodeValidation, "totals must not be negative")
	}
	o := &Order{
		CompanyID:         req.CompanyID,
		CustomerID:        req.CustomerID,
		CustomerReference: req.CustomerReference,
		Currency:          req.Currency,
		UntaxedTotal:      req.UntaxedTotal,
		SaleValue:         req.SaleValue,
		AmountTotal:       req.AmountTotal,
		Status:            StatusDraft,
		CreatedBy:         actorID,
	}
	year := time.Now().Year()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		seq, err := tx.NextNumber(ctx, o.CompanyID, year)
		if err != nil {
			return err
		}
		o.Number = FormatNumber(year, seq)
		_, err = tx.Insert(ctx, o)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, o.ID)
}

// Get returns the order with its commission lines, rollup and obligations.
func (s *Service) Get(ctx context.Context, id int64) (*OrderDetail, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &OrderDetail{Order: o}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		lines, err := tx.LinesForSale(ctx, id)
		if err != nil {
			return err
		}
		detail.Lines = lines
		return nil
	})
	if err != nil {
		return nil, err
	}
	detail.Summary = commission.Summarize(detail.Lines, o.AmountTotal)
	if s.obligations != nil {
		obs, err := s.obligations.ListForSale(ctx, nil, id)
		if err != nil {
			return nil, err
		}
		detail.Obligations = obs
	}
	return detail, nil
}

// List returns a company's sale orders.
func (s *Service) List(ctx context.Context, companyID int64) ([]Order, error) {
	return s.repo.List(ctx, companyID)
}

// Confirm freezes the commission lines and materializes obligations.
// Confirming an already-processed order is a no-op; the commission_processed
// flag makes the materialization idempotent.
func (s *Service) Confirm(ctx context.Context, id, actorID int64) (*Order, error) {
	var result *Order
	var created []obligations.Obligation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.Status == StatusCancelled {
			return shared.E(shared.CodeInvalidTransition, "cannot confirm a cancelled order")
		}
		if o.CommissionProcessed {
			// Already materialized; nothing to redo.
			result = o
			return nil
		}

		rules, err := tx.RulesForSale(ctx, o)
		if err != nil {
			return err
		}
		lines := commission.Compute(rules, commission.Basis{
			UntaxedTotal: o.UntaxedTotal,
			SaleValue:    o.SaleValue,
			AmountTotal:  o.AmountTotal,
		})
		summary := commission.Summarize(lines, o.AmountTotal)
		if summary.ExternalExceedsUntaxed(o.UntaxedTotal) && s.logger != nil {
			s.logger.Warn("external commissions exceed untaxed total",
				slog.Int64("sale_order_id", o.ID),
				slog.String("total_external", summary.TotalExternal.String()),
				slog.String("untaxed_total", o.UntaxedTotal.String()))
		}
		if err := tx.ReplaceLines(ctx, o.ID, lines); err != nil {
			return err
		}
		// ReplaceLines assigned no IDs; reread so obligations reference rows.
		persisted, err := tx.LinesForSale(ctx, o.ID)
		if err != nil {
			return err
		}
		created, err = tx.MaterializeObligations(ctx, obligations.SaleRef{
			ID:                o.ID,
			CompanyID:         o.CompanyID,
			CustomerReference: o.CustomerReference,
			Currency:          o.Currency,
		}, persisted)
		if err != nil {
			return err
		}

		now := time.Now()
		o.Status = StatusConfirmed
		o.ConfirmedAt = &now
		o.CommissionProcessed = true
		if err := tx.Update(ctx, o); err != nil {
			return err
		}
		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(created) > 0 {
		s.deriveAndAnnounce(ctx, result, created, actorID)
	}
	return result, nil
}

// Recompute cancels the sale's pending obligations and re-materializes from
// the current rules. Refused once any derived voucher has left draft.
func (s *Service) Recompute(ctx context.Context, id, actorID int64) (*Order, error) {
	var result *Order
	var created []obligations.Obligation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != StatusConfirmed {
			return shared.E(shared.CodeInvalidTransition, "recompute applies to confirmed orders, not %s", o.Status)
		}
		progressed, err := tx.AnyVoucherPastDraft(ctx, o.ID)
		if err != nil {
			return err
		}
		if progressed {
			return shared.E(shared.CodeInvalidTransition, "recompute refused: a derived voucher has progressed past draft")
		}

		if err := tx.CancelPendingObligations(ctx, o.ID); err != nil {
			return err
		}
		rules, err := tx.RulesForSale(ctx, o)
		if err != nil {
			return err
		}
		lines := commission.Compute(rules, commission.Basis{
			UntaxedTotal: o.UntaxedTotal,
			SaleValue:    o.SaleValue,
			AmountTotal:  o.AmountTotal,
		})
		if err := tx.ReplaceLines(ctx, o.ID, lines); err != nil {
			return err
		}
		persisted, err := tx.LinesForSale(ctx, o.ID)
		if err != nil {
			return err
		}
		created, err = tx.MaterializeObligations(ctx, obligations.SaleRef{
			ID:                o.ID,
			CompanyID:         o.CompanyID,
			CustomerReference: o.CustomerReference,
			Currency:          o.Currency,
		}, persisted)
		if err != nil {
			return err
		}
		if err := tx.Update(ctx, o); err != nil {
			return err
		}
		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(created) > 0 {
		s.deriveAndAnnounce(ctx, result, created, actorID)
	}
	return result, nil
}

func (s *Service) deriveAndAnnounce(ctx context.Context, o *Order, created []obligations.Obligation, actorID int64) {
	if s.deriver != nil {
		if err := s.deriver.DeriveVouchers(ctx, created, actorID); err != nil && s.logger != nil {
			s.logger.Error("derive obligation vouchers",
				slog.Int64("sale_order_id", o.ID),
				slog.Any("error", err))
		}
	}
	if s.bus != nil {
		ev := events.New(events.KindCommissionMaterialized)
		ev.SaleOrderID = o.ID
		ev.ActorID = actorID
		ev.Attributes["company_id"] = o.CompanyID
		ev.Attributes["order_number"] = o.Number
		ev.Attributes["obligations"] = len(created)
		s.bus.Publish(ctx, ev)
	}
}
