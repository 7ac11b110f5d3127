package vouchers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beacon-erp/beacon-payments/internal/audit"
	"github.com/beacon-erp/beacon-payments/internal/events"
	"github.com/beacon-erp/beacon-payments/internal/settings"
	"github.com/beacon-erp/beacon-payments/internal/signatories"
)

// memoryRepo implements Store and TxStore on maps for service tests. The
// single mutex serializes transactions, matching the row lock the SQL
// implementation takes.
type memoryRepo struct {
	mu         sync.Mutex
	nextID     int64
	counters   map[string]int64
	vouchers   map[int64]*Voucher
	signatures []signatories.Signature
	audits     []audit.Event
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		counters: map[string]int64{},
		vouchers: map[int64]*Voucher{},
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	shadow := &memoryTx{repo: m}
	if err := fn(ctx, shadow); err != nil {
		return err
	}
	shadow.commit()
	return nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (*Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memoryRepo) GetByToken(ctx context.Context, token string) (*Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.vouchers {
		if v.Token == token {
			cp := *v
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) List(ctx context.Context, req ListVouchersRequest) ([]Voucher, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Voucher
	for _, v := range m.vouchers {
		if v.CompanyID != req.CompanyID {
			continue
		}
		if req.State != nil && v.State != *req.State {
			continue
		}
		if req.Kind != nil && v.Kind != *req.Kind {
			continue
		}
		out = append(out, *v)
	}
	return out, len(out), nil
}

// memoryTx buffers writes until commit so a failed callback leaves no trace.
type memoryTx struct {
	repo       *memoryRepo
	inserted   []*Voucher
	updated    []*Voucher
	signatures []signatories.Signature
	audits     []audit.Event
	counters   map[string]int64
}

func (t *memoryTx) commit() {
	for _, v := range t.inserted {
		cp := *v
		t.repo.vouchers[v.ID] = &cp
	}
	for _, v := range t.updated {
		cp := *v
		t.repo.vouchers[v.ID] = &cp
	}
	t.repo.signatures = append(t.repo.signatures, t.signatures...)
	t.repo.audits = append(t.repo.audits, t.audits...)
	for k, n := range t.counters {
		t.repo.counters[k] = n
	}
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id int64) (*Voucher, error) {
	v, ok := t.repo.vouchers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (t *memoryTx) NextNumber(ctx context.Context, companyID int64, kind Kind, year int) (int64, error) {
	if t.counters == nil {
		t.counters = map[string]int64{}
	}
	key := fmt.Sprintf("%d/%s/%d", companyID, kind, year)
	n, ok := t.counters[key]
	if !ok {
		n = t.repo.counters[key]
	}
	n++
	t.counters[key] = n
	return n, nil
}

func (t *memoryTx) Insert(ctx context.Context, v *Voucher) (int64, error) {
	t.repo.nextID++
	v.ID = t.repo.nextID
	v.CreatedAt = time.Now()
	t.inserted = append(t.inserted, v)
	return v.ID, nil
}

func (t *memoryTx) SaveTransition(ctx context.Context, v *Voucher) error {
	if _, ok := t.repo.vouchers[v.ID]; !ok {
		return ErrNotFound
	}
	v.UpdatedAt = time.Now()
	t.updated = append(t.updated, v)
	return nil
}

func (t *memoryTx) RecordSignature(ctx context.Context, sig signatories.Signature) error {
	t.signatures = append(t.signatures, sig)
	return nil
}

func (t *memoryTx) HasSignature(ctx context.Context, voucherID int64, stage signatories.Role, cycle int, userID int64) (bool, error) {
	all := append(append([]signatories.Signature{}, t.repo.signatures...), t.signatures...)
	for _, s := range all {
		if s.VoucherID == voucherID && s.Stage == stage && s.Cycle == cycle && s.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) AppendAudit(ctx context.Context, ev audit.Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	t.audits = append(t.audits, ev)
	return nil
}

// signatureCount returns committed ledger rows for a voucher.
func (m *memoryRepo) signatureCount(voucherID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.signatures {
		if s.VoucherID == voucherID {
			n++
		}
	}
	return n
}

// fakeConfig returns the same snapshot for every company.
type fakeConfig struct {
	cfg settings.Settings
}

func (f fakeConfig) Load(ctx context.Context, companyID int64) (settings.Settings, error) {
	cfg := f.cfg
	cfg.CompanyID = companyID
	return cfg, nil
}

// fakeAuthority answers band questions from static tables.
type band struct {
	userID   int64
	min, max float64
}

func (b band) covers(amount float64) bool {
	if amount < b.min {
		return false
	}
	return b.max == 0 || amount <= b.max
}

type fakeAuthority struct {
	bands map[signatories.Role][]band
}

func (f *fakeAuthority) AuthorizedFor(ctx context.Context, companyID, userID int64, role signatories.Role, amount float64) (signatories.Decision, error) {
	bands, ok := f.bands[role]
	if !ok || len(bands) == 0 {
		return signatories.Decision{}, nil
	}
	for _, b := range bands {
		if b.userID == userID && b.covers(amount) {
			return signatories.Decision{Configured: true, Authorized: true}, nil
		}
	}
	return signatories.Decision{Configured: true}, nil
}

func (f *fakeAuthority) AnyRoleFor(ctx context.Context, companyID, userID int64, amount float64) (bool, error) {
	for _, bands := range f.bands {
		for _, b := range bands {
			if b.userID == userID && b.covers(amount) {
				return true, nil
			}
		}
	}
	return false, nil
}

// fakePerms answers registry permission questions from a static grant table.
type fakePerms struct {
	grants map[int64][]string
}

func (f *fakePerms) HasPermission(ctx context.Context, userID int64, code string) (bool, error) {
	for _, c := range f.grants[userID] {
		if c == code {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePerms) AnyoneHasPermission(ctx context.Context, code string) (bool, error) {
	for _, codes := range f.grants {
		for _, c := range codes {
			if c == code {
				return true, nil
			}
		}
	}
	return false, nil
}

// fakePoster fails a set number of calls before succeeding.
type fakePoster struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *fakePoster) PostVoucher(ctx context.Context, v Voucher) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return fmt.Errorf("ledger unavailable (call %d)", f.calls)
	}
	return nil
}

// captureBus records published events in order.
type captureBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *captureBus) Publish(ctx context.Context, ev events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *captureBus) kinds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, ev.Kind)
	}
	return out
}
