package obligations

import (
	"context"
	"errors"
	"log/slog"

	"github.com/beacon-erp/beacon-payments/internal/events"
)

// Syncer mirrors voucher lifecycle events onto the linked obligation. Only
// vouchers derived from commission obligations carry a link; everything else
// passes through untouched.
type Syncer struct {
	store  *Repository
	logger *slog.Logger
}

// NewSyncer constructs a Syncer.
func NewSyncer(store *Repository, logger *slog.Logger) *Syncer {
	return &Syncer{store: store, logger: logger}
}

// Handle implements events.Subscriber.
func (s *Syncer) Handle(ctx context.Context, ev events.Event) error {
	if ev.Kind != events.KindPosted || ev.VoucherID == 0 {
		return nil
	}
	ob, err := s.store.ByVoucher(ctx, ev.VoucherID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if ob.State != StatePending {
		return nil
	}
	if err := s.store.SetState(ctx, ob.ID, StatePosted); err != nil {
		return err
	}
	s.logger.Info("obligation posted",
		slog.Int64("obligation_id", ob.ID),
		slog.Int64("voucher_id", ev.VoucherID))
	return nil
}
