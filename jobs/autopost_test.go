package jobs

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-erp/beacon-payments/internal/shared"
	"github.com/beacon-erp/beacon-payments/internal/vouchers"
)

type fakeSource struct {
	ids []int64
}

func (f fakeSource) AuthorizedVoucherIDs(ctx context.Context, limit int) ([]int64, error) {
	return f.ids, nil
}

type fakeGateway struct {
	ready map[int64]bool
}

func (f fakeGateway) ReadyToPost(ctx context.Context, voucherID int64) (bool, error) {
	return f.ready[voucherID], nil
}

type fakePoster struct {
	mu     sync.Mutex
	posted []int64
	fail   map[int64]error
}

func (f *fakePoster) SystemPost(ctx context.Context, id int64) (*vouchers.Voucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[id]; ok {
		return nil, err
	}
	f.posted = append(f.posted, id)
	return &vouchers.Voucher{ID: id, State: vouchers.StatePosted}, nil
}

func TestAutopostSweep(t *testing.T) {
	poster := &fakePoster{fail: map[int64]error{
		// Voucher 3 was posted manually between scan and sweep.
		3: shared.InvalidTransition("post", "POSTED"),
	}}
	sweeper := NewAutopostSweeper(
		fakeSource{ids: []int64{1, 2, 3, 4}},
		fakeGateway{ready: map[int64]bool{1: true, 3: true, 4: true}},
		poster,
		nil,
		slog.New(slog.DiscardHandler),
	)

	require.NoError(t, sweeper.Run(context.Background()))

	// 1 and 4 posted; 2 not ready; 3 lost the race but is not a failure.
	assert.ElementsMatch(t, []int64{1, 4}, poster.posted)
}

func TestAutopostEmptySweep(t *testing.T) {
	sweeper := NewAutopostSweeper(fakeSource{}, fakeGateway{}, &fakePoster{}, nil, slog.New(slog.DiscardHandler))
	require.NoError(t, sweeper.Run(context.Background()))
}
