package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/beacon-erp/beacon-payments/internal/observability"
	"github.com/beacon-erp/beacon-payments/internal/shared"
	"github.com/beacon-erp/beacon-payments/internal/vouchers"
)

// autopostBatch bounds one sweep; leftovers wait for the next run.
const autopostBatch = 200

// AutopostSource lists vouchers eligible for sweeping.
type AutopostSource interface {
	AuthorizedVoucherIDs(ctx context.Context, limit int) ([]int64, error)
}

// AccountingGateway consults external accounting state: whether the
// voucher's source invoice is paid or its receipt received.
type AccountingGateway interface {
	ReadyToPost(ctx context.Context, voucherID int64) (bool, error)
}

// VoucherPoster commits the authorized → posted transition.
type VoucherPoster interface {
	SystemPost(ctx context.Context, id int64) (*vouchers.Voucher, error)
}

// AutopostSweeper posts authorized vouchers whose external source is
// settled. Re-running over the same set is harmless: a posted voucher no
// longer lists as authorized, and a concurrent manual post surfaces as an
// invalid transition that the sweeper treats as done.
type AutopostSweeper struct {
	source  AutopostSource
	gateway AccountingGateway
	poster  VoucherPoster
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewAutopostSweeper constructs the sweeper.
func NewAutopostSweeper(source AutopostSource, gateway AccountingGateway, poster VoucherPoster, metrics *observability.Metrics, logger *slog.Logger) *AutopostSweeper {
	return &AutopostSweeper{source: source, gateway: gateway, poster: poster, metrics: metrics, logger: logger}
}

// Run executes one sweep.
func (s *AutopostSweeper) Run(ctx context.Context) error {
	ids, err := s.source.AuthorizedVoucherIDs(ctx, autopostBatch)
	if err != nil {
		s.observe("error")
		return err
	}
	if len(ids) == 0 {
		s.observe("ok")
		return nil
	}

	var posted, skipped, failed int
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	results := make(chan string, len(ids))
	for _, id := range ids {
		id := id
		g.Go(func() error {
			results <- s.sweepOne(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	for r := range results {
		switch r {
		case "posted":
			posted++
		case "failed":
			failed++
		default:
			skipped++
		}
	}

	s.logger.Info("autopost sweep",
		slog.Int("candidates", len(ids)),
		slog.Int("posted", posted),
		slog.Int("skipped", skipped),
		slog.Int("failed", failed))
	if failed > 0 {
		s.observe("partial")
	} else {
		s.observe("ok")
	}
	return nil
}

func (s *AutopostSweeper) sweepOne(ctx context.Context, id int64) string {
	ready, err := s.gateway.ReadyToPost(ctx, id)
	if err != nil {
		s.logger.Warn("autopost readiness check",
			slog.Int64("voucher_id", id), slog.Any("error", err))
		return "failed"
	}
	if !ready {
		return "skipped"
	}
	if _, err := s.poster.SystemPost(ctx, id); err != nil {
		// Someone posted it between the scan and now.
		if shared.CodeOf(err) == shared.CodeInvalidTransition {
			return "skipped"
		}
		s.logger.Warn("autopost",
			slog.Int64("voucher_id", id), slog.Any("error", err))
		return "failed"
	}
	return "posted"
}

func (s *AutopostSweeper) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveSweep("autopost", outcome)
	}
}

// NewAutopostHandler adapts the sweeper to an asynq task handler.
func NewAutopostHandler(sweeper *AutopostSweeper) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if sweeper == nil {
			return errors.New("autopost sweeper not configured")
		}
		return sweeper.Run(ctx)
	}
}
