package orders

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-erp/beacon-payments/internal/commission"
	"github.com/beacon-erp/beacon-payments/internal/events"
	"github.com/beacon-erp/beacon-payments/internal/obligations"
	"github.com/beacon-erp/beacon-payments/internal/shared"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// memoryStore implements Store and TxStore on maps. Obligation writes go
// through the real materializer so the test exercises its semantics.
type memoryStore struct {
	mu       sync.Mutex
	nextID   int64
	counters map[string]int64
	orders   map[int64]*Order
	rules    []commission.Rule
	lines    map[int64][]commission.Line
	nextLine int64

	obligations    []obligations.Obligation
	nextObligation int64
	pastDraft      map[int64]bool

	mat *obligations.Materializer
}

func newMemoryStore() *memoryStore {
	m := &memoryStore{
		counters:  map[string]int64{},
		orders:    map[int64]*Order{},
		lines:     map[int64][]commission.Line{},
		pastDraft: map[int64]bool{},
	}
	m.mat = obligations.NewMaterializer(fakeInserter{m}, nil, slog.New(slog.DiscardHandler))
	return m
}

// fakeInserter adapts the store to the materializer's write surface.
type fakeInserter struct{ m *memoryStore }

func (f fakeInserter) Insert(ctx context.Context, q obligations.DBTX, o *obligations.Obligation) (int64, error) {
	f.m.nextObligation++
	o.ID = f.m.nextObligation
	o.CreatedAt = time.Now()
	f.m.obligations = append(f.m.obligations, *o)
	return o.ID, nil
}

func (f fakeInserter) AttachVoucher(ctx context.Context, id, voucherID int64) error {
	for i := range f.m.obligations {
		if f.m.obligations[i].ID == id {
			f.m.obligations[i].VoucherID = &voucherID
			return nil
		}
	}
	return obligations.ErrNotFound
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, m)
}

func (m *memoryStore) Get(ctx context.Context, id int64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memoryStore) List(ctx context.Context, companyID int64) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.CompanyID == companyID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memoryStore) GetForUpdate(ctx context.Context, id int64) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memoryStore) NextNumber(ctx context.Context, companyID int64, year int) (int64, error) {
	key := fmt.Sprintf("%d/%d", companyID, year)
	m.counters[key]++
	return m.counters[key], nil
}

func (m *memoryStore) Insert(ctx context.Context, o *Order) (int64, error) {
	m.nextID++
	o.ID = m.nextID
	o.CreatedAt = time.Now()
	cp := *o
	m.orders[o.ID] = &cp
	return o.ID, nil
}

func (m *memoryStore) Update(ctx context.Context, o *Order) error {
	if _, ok := m.orders[o.ID]; !ok {
		return ErrNotFound
	}
	cp := *o
	cp.UpdatedAt = time.Now()
	m.orders[o.ID] = &cp
	return nil
}

func (m *memoryStore) RulesForSale(ctx context.Context, o *Order) ([]commission.Rule, error) {
	return m.rules, nil
}

func (m *memoryStore) ReplaceLines(ctx context.Context, saleOrderID int64, lines []commission.Line) error {
	stored := make([]commission.Line, len(lines))
	for i, l := range lines {
		m.nextLine++
		l.ID = m.nextLine
		l.SaleOrderID = saleOrderID
		stored[i] = l
	}
	m.lines[saleOrderID] = stored
	return nil
}

func (m *memoryStore) LinesForSale(ctx context.Context, saleOrderID int64) ([]commission.Line, error) {
	return m.lines[saleOrderID], nil
}

func (m *memoryStore) MaterializeObligations(ctx context.Context, sale obligations.SaleRef, lines []commission.Line) ([]obligations.Obligation, error) {
	return m.mat.Materialize(ctx, nil, sale, lines)
}

func (m *memoryStore) AnyVoucherPastDraft(ctx context.Context, saleOrderID int64) (bool, error) {
	return m.pastDraft[saleOrderID], nil
}

func (m *memoryStore) CancelPendingObligations(ctx context.Context, saleOrderID int64) error {
	for i := range m.obligations {
		o := &m.obligations[i]
		if o.SaleOrderID == saleOrderID && o.State == obligations.StatePending {
			o.State = obligations.StateCancelled
		}
	}
	return nil
}

func (m *memoryStore) obligationsForSale(saleOrderID int64, state obligations.State) []obligations.Obligation {
	var out []obligations.Obligation
	for _, o := range m.obligations {
		if o.SaleOrderID == saleOrderID && o.State == state {
			out = append(out, o)
		}
	}
	return out
}

// fakeDeriver records the obligations handed over for voucher derivation.
type fakeDeriver struct {
	mu    sync.Mutex
	calls [][]obligations.Obligation
}

func (f *fakeDeriver) DeriveVouchers(ctx context.Context, obs []obligations.Obligation, actorID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, obs)
	return nil
}

type captureBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *captureBus) Publish(ctx context.Context, ev events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func newTestService(store *memoryStore) (*Service, *fakeDeriver, *captureBus) {
	deriver := &fakeDeriver{}
	bus := &captureBus{}
	svc := NewService(store, deriver, nil, bus, slog.New(slog.DiscardHandler))
	return svc, deriver, bus
}

func createDraft(t *testing.T, svc *Service) *Order {
	t.Helper()
	o, err := svc.Create(context.Background(), CreateOrderRequest{
		CompanyID:         1,
		CustomerID:        5,
		CustomerReference: "CUST-2025-001",
		Currency:          "USD",
		UntaxedTotal:      d("100000"),
		AmountTotal:       d("107000"),
	}, 10)
	require.NoError(t, err)
	return o
}

func TestCreateAssignsOrderNumber(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newTestService(store)

	o := createDraft(t, svc)
	assert.Equal(t, fmt.Sprintf("SO/%d/00001", time.Now().Year()), o.Number)
	assert.Equal(t, StatusDraft, o.Status)
	assert.False(t, o.CommissionProcessed)
}

func TestConfirmMaterializesObligations(t *testing.T) {
	store := newMemoryStore()
	store.rules = []commission.Rule{
		{PartnerID: 101, PartnerName: "Broker Co", Role: commission.RoleBroker,
			CalcKind: commission.CalcPctUntaxed, Rate: d("2.5"), Active: true},
		{PartnerID: 102, PartnerName: "Agent One", Role: commission.RoleAgent1,
			CalcKind: commission.CalcFixed, Rate: d("150"), Active: true},
	}
	svc, deriver, bus := newTestService(store)
	o := createDraft(t, svc)

	confirmed, err := svc.Confirm(context.Background(), o.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	assert.True(t, confirmed.CommissionProcessed)
	require.NotNil(t, confirmed.ConfirmedAt)

	obs := store.obligationsForSale(o.ID, obligations.StatePending)
	require.Len(t, obs, 2)
	assert.Equal(t, int64(101), obs[0].SupplierID)
	assert.True(t, obs[0].Amount.Equal(d("2500")), "broker amount %s", obs[0].Amount)
	assert.Equal(t, int64(102), obs[1].SupplierID)
	assert.True(t, obs[1].Amount.Equal(d("150")))
	for _, ob := range obs {
		assert.Equal(t, "CUST-2025-001", ob.VendorRef)
		assert.Positive(t, ob.LineID, "obligation must reference its source line")
	}

	require.Len(t, deriver.calls, 1)
	assert.Len(t, deriver.calls[0], 2)
	require.Len(t, bus.events, 1)
	assert.Equal(t, events.KindCommissionMaterialized, bus.events[0].Kind)
}

func TestConfirmIdempotent(t *testing.T) {
	store := newMemoryStore()
	store.rules = []commission.Rule{
		{PartnerID: 101, Role: commission.RoleBroker, CalcKind: commission.CalcPctUntaxed, Rate: d("2.5"), Active: true},
	}
	svc, deriver, _ := newTestService(store)
	o := createDraft(t, svc)

	_, err := svc.Confirm(context.Background(), o.ID, 10)
	require.NoError(t, err)
	before := len(store.obligations)

	again, err := svc.Confirm(context.Background(), o.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, again.Status)
	assert.Equal(t, before, len(store.obligations), "second confirmation must create no rows")
	assert.Len(t, deriver.calls, 1)
}

func TestConfirmSkipsZeroLines(t *testing.T) {
	store := newMemoryStore()
	store.rules = []commission.Rule{
		{PartnerID: 101, Role: commission.RoleBroker, CalcKind: commission.CalcPctUntaxed, Rate: d("2.5"), Active: true},
		{PartnerID: 103, Role: commission.RoleCashback, CalcKind: commission.CalcFixed, Rate: d("0"), Active: true},
	}
	svc, _, _ := newTestService(store)
	o := createDraft(t, svc)

	_, err := svc.Confirm(context.Background(), o.ID, 10)
	require.NoError(t, err)
	assert.Len(t, store.obligationsForSale(o.ID, obligations.StatePending), 1)
}

func TestRecompute(t *testing.T) {
	store := newMemoryStore()
	store.rules = []commission.Rule{
		{PartnerID: 101, Role: commission.RoleBroker, CalcKind: commission.CalcPctUntaxed, Rate: d("2.5"), Active: true},
	}
	svc, _, _ := newTestService(store)
	o := createDraft(t, svc)
	ctx := context.Background()

	_, err := svc.Recompute(ctx, o.ID, 10)
	require.Error(t, err, "recompute before confirmation must fail")
	assert.Equal(t, shared.CodeInvalidTransition, shared.CodeOf(err))

	_, err = svc.Confirm(ctx, o.ID, 10)
	require.NoError(t, err)

	// Rate change takes effect through an explicit recompute.
	store.rules[0].Rate = d("3")
	_, err = svc.Recompute(ctx, o.ID, 10)
	require.NoError(t, err)

	pending := store.obligationsForSale(o.ID, obligations.StatePending)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Amount.Equal(d("3000")), "got %s", pending[0].Amount)
	assert.Len(t, store.obligationsForSale(o.ID, obligations.StateCancelled), 1)
}

func TestRecomputeRefusedOncePastDraft(t *testing.T) {
	store := newMemoryStore()
	store.rules = []commission.Rule{
		{PartnerID: 101, Role: commission.RoleBroker, CalcKind: commission.CalcPctUntaxed, Rate: d("2.5"), Active: true},
	}
	svc, _, _ := newTestService(store)
	o := createDraft(t, svc)
	ctx := context.Background()

	_, err := svc.Confirm(ctx, o.ID, 10)
	require.NoError(t, err)

	store.pastDraft[o.ID] = true
	_, err = svc.Recompute(ctx, o.ID, 10)
	require.Error(t, err)
	assert.Equal(t, shared.CodeInvalidTransition, shared.CodeOf(err))
	assert.Len(t, store.obligationsForSale(o.ID, obligations.StatePending), 1)
}
