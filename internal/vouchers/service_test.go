package vouchers

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-erp/beacon-payments/internal/settings"
	"github.com/beacon-erp/beacon-payments/internal/shared"
	"github.com/beacon-erp/beacon-payments/internal/signatories"
)

const (
	creatorID    int64 = 10
	reviewerID   int64 = 20
	approverID   int64 = 30
	approver2ID  int64 = 31
	authorizerID int64 = 40
	posterID     int64 = 50
)

type fixture struct {
	repo      *memoryRepo
	authority *fakeAuthority
	perms     *fakePerms
	poster    *fakePoster
	bus       *captureBus
	svc       *Service
	cfg       settings.Settings
}

func newFixture(t *testing.T, mutate ...func(*fixture)) *fixture {
	t.Helper()
	f := &fixture{
		repo: newMemoryRepo(),
		authority: &fakeAuthority{bands: map[signatories.Role][]band{
			signatories.RoleReviewer:   {{userID: reviewerID}},
			signatories.RoleApprover:   {{userID: approverID}, {userID: approver2ID}},
			signatories.RoleAuthorizer: {{userID: authorizerID}},
			signatories.RolePoster:     {{userID: posterID}},
		}},
		perms:  &fakePerms{grants: map[int64][]string{}},
		poster: &fakePoster{},
		bus:    &captureBus{},
		cfg:    settings.Defaulted(1),
	}
	for _, m := range mutate {
		m(f)
	}
	f.svc = NewService(f.repo, f.authority, f.perms, fakeConfig{cfg: f.cfg}, f.bus, nil, f.poster, nil,
		slog.New(slog.DiscardHandler),
		ServiceConfig{PostRetries: 3, PostTimeout: time.Second, Backoff: func(int) time.Duration { return 0 }})
	return f
}

func (f *fixture) create(t *testing.T, amount float64) *Voucher {
	t.Helper()
	v, err := f.svc.Create(context.Background(), CreateVoucherRequest{
		CompanyID:     1,
		Kind:          KindPayment,
		Amount:        amount,
		Currency:      "USD",
		PartnerID:     7,
		DateEffective: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
	}, creatorID)
	require.NoError(t, err)
	return v
}

func TestCreateAssignsNumberAndToken(t *testing.T) {
	f := newFixture(t)

	v := f.create(t, 2500)
	assert.Equal(t, "PV/2025/00001", v.Number)
	assert.Equal(t, StateDraft, v.State)
	assert.Equal(t, 1, v.Cycle)
	assert.True(t, NumberPattern.MatchString(v.Number))
	assert.NotEmpty(t, v.Token)
	assert.False(t, v.TokenIssuedAt.IsZero())

	// Numbering is per kind and per year.
	v2 := f.create(t, 100)
	assert.Equal(t, "PV/2025/00002", v2.Number)

	r, err := f.svc.Create(context.Background(), CreateVoucherRequest{
		CompanyID: 1, Kind: KindReceipt, Amount: 50, Currency: "USD", PartnerID: 7,
		DateEffective: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}, creatorID)
	require.NoError(t, err)
	assert.Equal(t, "RV/2025/00001", r.Number)

	assert.NotEqual(t, v.Token, v2.Token)
}

func TestFullApprovalChain(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, 2500)
	ctx := context.Background()

	v, err := f.svc.Submit(ctx, v.ID, creatorID)
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, v.State)
	require.NotNil(t, v.SubmittedBy)
	assert.Equal(t, creatorID, *v.SubmittedBy)

	v, err = f.svc.Review(ctx, v.ID, reviewerID)
	require.NoError(t, err)
	assert.Equal(t, StateUnderReview, v.State)

	v, err = f.svc.Approve(ctx, v.ID, approverID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, v.State)
	require.NotNil(t, v.ApprovedBy)
	assert.Equal(t, approverID, *v.ApprovedBy)

	v, err = f.svc.Authorize(ctx, v.ID, authorizerID)
	require.NoError(t, err)
	assert.Equal(t, StateAuthorized, v.State)

	v, err = f.svc.Post(ctx, v.ID, posterID)
	require.NoError(t, err)
	assert.Equal(t, StatePosted, v.State)
	require.NotNil(t, v.PostedBy)
	assert.Equal(t, posterID, *v.PostedBy)
	assert.True(t, v.State.Terminal())

	// Every stage leaves its timestamp, in lifecycle order.
	require.NotNil(t, v.SubmittedAt)
	require.NotNil(t, v.ReviewedAt)
	require.NotNil(t, v.ApprovedAt)
	require.NotNil(t, v.AuthorizedAt)
	require.NotNil(t, v.PostedAt)
	assert.False(t, v.ReviewedAt.Before(*v.SubmittedAt))
	assert.False(t, v.ApprovedAt.Before(*v.ReviewedAt))
	assert.False(t, v.AuthorizedAt.Before(*v.ApprovedAt))
	assert.False(t, v.PostedAt.Before(*v.AuthorizedAt))

	// One ledger row per banded stage.
	assert.Equal(t, 4, f.repo.signatureCount(v.ID))
	// Created + five transitions.
	assert.Len(t, f.repo.audits, 6)
	assert.Equal(t, []string{"submitted", "reviewed", "approved", "authorized", "posted"}, f.bus.kinds())
}

func TestInvalidTransitionReportsObservedState(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, 2500)

	_, err := f.svc.Approve(context.Background(), v.ID, approverID)
	require.Error(t, err)
	assert.Equal(t, shared.CodeInvalidTransition, shared.CodeOf(err))
	assert.Contains(t, err.Error(), "DRAFT")

	got, err := f.svc.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDraft, got.State)
	assert.Zero(t, f.repo.signatureCount(v.ID))
}

func TestSubmitPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.svc.Create(ctx, CreateVoucherRequest{
		CompanyID: 1, Kind: KindPayment, Amount: 0, Currency: "USD", PartnerID: 7,
		DateEffective: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
	}, creatorID)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, v.ID, creatorID)
	assert.Equal(t, shared.CodeMissingField, shared.CodeOf(err))
	assert.Contains(t, err.Error(), "amount")

	v, err = f.svc.Create(ctx, CreateVoucherRequest{
		CompanyID: 1, Kind: KindPayment, Amount: 10, Currency: "USD",
		DateEffective: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
	}, creatorID)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, v.ID, creatorID)
	assert.Equal(t, shared.CodeMissingField, shared.CodeOf(err))
	assert.Contains(t, err.Error(), "counterparty")
}

func TestBandMustCoverAmount(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.authority.bands[signatories.RoleApprover] = []band{{userID: approverID, max: 5000}}
	})
	ctx := context.Background()
	v := f.create(t, 10000)

	_, err := f.svc.Submit(ctx, v.ID, creatorID)
	require.NoError(t, err)
	_, err = f.svc.Review(ctx, v.ID, reviewerID)
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, v.ID, approverID)
	require.Error(t, err)
	assert.Equal(t, shared.CodeInsufficientAuthority, shared.CodeOf(err))

	got, err := f.svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StateUnderReview, got.State)
}

func TestFallbackGroupWhenRoleUnconfigured(t *testing.T) {
	ctx := context.Background()

	t.Run("member of default group passes", func(t *testing.T) {
		f := newFixture(t, func(f *fixture) {
			delete(f.authority.bands, signatories.RoleReviewer)
			f.perms.grants[reviewerID] = []string{"payments.fallback.reviewer"}
		})
		v := f.create(t, 2500)
		_, err := f.svc.Submit(ctx, v.ID, creatorID)
		require.NoError(t, err)
		got, err := f.svc.Review(ctx, v.ID, reviewerID)
		require.NoError(t, err)
		assert.Equal(t, StateUnderReview, got.State)
	})

	t.Run("non-member denied while group exists", func(t *testing.T) {
		f := newFixture(t, func(f *fixture) {
			delete(f.authority.bands, signatories.RoleReviewer)
			f.perms.grants[99] = []string{"payments.fallback.reviewer"}
		})
		v := f.create(t, 2500)
		_, err := f.svc.Submit(ctx, v.ID, creatorID)
		require.NoError(t, err)
		_, err = f.svc.Review(ctx, v.ID, reviewerID)
		assert.Equal(t, shared.CodeInsufficientAuthority, shared.CodeOf(err))
	})

	t.Run("nothing configured halts with configuration missing", func(t *testing.T) {
		f := newFixture(t, func(f *fixture) {
			delete(f.authority.bands, signatories.RoleReviewer)
		})
		v := f.create(t, 2500)
		_, err := f.svc.Submit(ctx, v.ID, creatorID)
		require.NoError(t, err)
		_, err = f.svc.Review(ctx, v.ID, reviewerID)
		assert.Equal(t, shared.CodeConfigurationMissing, shared.CodeOf(err))

		got, err := f.svc.Get(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, StateSubmitted, got.State)
	})
}

func TestRejectAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.create(t, 2500)

	_, err := f.svc.Submit(ctx, v.ID, creatorID)
	require.NoError(t, err)
	_, err = f.svc.Review(ctx, v.ID, reviewerID)
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, v.ID, approverID, "")
	assert.Equal(t, shared.CodeMissingField, shared.CodeOf(err))

	v, err = f.svc.Reject(ctx, v.ID, approverID, "wrong counterparty")
	require.NoError(t, err)
	assert.Equal(t, StateRejected, v.State)
	require.NotNil(t, v.RejectedReason)
	assert.Equal(t, "wrong counterparty", *v.RejectedReason)

	v, err = f.svc.ResetToDraft(ctx, v.ID, creatorID)
	require.NoError(t, err)
	assert.Equal(t, StateDraft, v.State)
	assert.Equal(t, 2, v.Cycle)
	assert.Nil(t, v.SubmittedBy)
	assert.Nil(t, v.ReviewedBy)
	assert.Nil(t, v.RejectedReason)
	assert.Zero(t, v.ApprovalsDone)
	// Identity survives the reset.
	assert.Equal(t, "PV/2025/00001", v.Number)

	// The cleared chain can run again end to end.
	_, err = f.svc.Submit(ctx, v.ID, creatorID)
	require.NoError(t, err)
	_, err = f.svc.Review(ctx, v.ID, reviewerID)
	require.NoError(t, err)
	v, err = f.svc.Approve(ctx, v.ID, approverID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, v.State)
}

func TestRejectRequiresBandHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.create(t, 2500)

	_, err := f.svc.Submit(ctx, v.ID, creatorID)
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, v.ID, creatorID, "not mine to reject")
	assert.Equal(t, shared.CodeInsufficientAuthority, shared.CodeOf(err))

	_, err = f.svc.Reject(ctx, v.ID, reviewerID, "duplicate of PV/2025/00002")
	require.NoError(t, err)
}

func TestTieredApprovals(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.cfg.EnableTieredApprovals = true
	})
	ctx := context.Background()
	// Above tier 2, below tier 3: two distinct approvers.
	v := f.create(t, 20000)

	_, err := f.svc.Submit(ctx, v.ID, creatorID)
	require.NoError(t, err)
	_, err = f.svc.Review(ctx, v.ID, reviewerID)
	require.NoError(t, err)

	v, err = f.svc.Approve(ctx, v.ID, approverID)
	require.NoError(t, err)
	assert.Equal(t, StateUnderReview, v.State)
	assert.Equal(t, 1, v.ApprovalsDone)
	assert.Nil(t, v.ApprovedBy)

	// The same approver cannot fill the second slot.
	_, err = f.svc.Approve(ctx, v.ID, approverID)
	assert.Equal(t, shared.CodeInsufficientAuthority, shared.CodeOf(err))

	v, err = f.svc.Approve(ctx, v.ID, approver2ID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, v.State)
	assert.Equal(t, 2, v.ApprovalsDone)
	require.NotNil(t, v.ApprovedBy)
	assert.Equal(t, approver2ID, *v.ApprovedBy)
}

func TestPostRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.poster.failures = 2
	})
	ctx := context.Background()
	v := f.authorized(t)

	v, err := f.svc.Post(ctx, v.ID, posterID)
	require.NoError(t, err)
	assert.Equal(t, StatePosted, v.State)
	assert.Equal(t, 3, f.poster.calls)
}

func TestPostFailureKeepsAuthorized(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.poster.failures = 100
	})
	ctx := context.Background()
	v := f.authorized(t)

	_, err := f.svc.Post(ctx, v.ID, posterID)
	require.Error(t, err)
	assert.Equal(t, shared.CodePostingFailed, shared.CodeOf(err))
	assert.Equal(t, 3, f.poster.calls)

	got, err := f.svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAuthorized, got.State)
	assert.Contains(t, f.bus.kinds(), "post_failed")

	// The retry budget resets per attempt; a recovered ledger posts fine.
	f.poster.failures = 0
	f.poster.calls = 0
	got, err = f.svc.Post(ctx, v.ID, posterID)
	require.NoError(t, err)
	assert.Equal(t, StatePosted, got.State)
}

func TestPostDeniedBeforeExternalCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.authorized(t)

	// No poster band, no journal entry.
	_, err := f.svc.Post(ctx, v.ID, creatorID)
	require.Error(t, err)
	assert.Equal(t, shared.CodeInsufficientAuthority, shared.CodeOf(err))
	assert.Equal(t, 0, f.poster.calls)

	got, err := f.svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAuthorized, got.State)
}

func TestSystemPostSkipsAuthority(t *testing.T) {
	f := newFixture(t)
	v := f.authorized(t)

	got, err := f.svc.SystemPost(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePosted, got.State)
}

func TestAutoSubmitOnCreate(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.cfg.AutoSubmitOnCreate = true
	})
	v := f.create(t, 2500)
	assert.Equal(t, StateSubmitted, v.State)
	require.NotNil(t, v.SubmittedBy)
	assert.Equal(t, creatorID, *v.SubmittedBy)
}

func TestBulkApprove(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.cfg.MaxBulkOperations = 3
	})
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		v := f.create(t, 2500)
		_, err := f.svc.Submit(ctx, v.ID, creatorID)
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}
	// The third voucher stays SUBMITTED so its approve fails.
	for _, id := range ids[:2] {
		_, err := f.svc.Review(ctx, id, reviewerID)
		require.NoError(t, err)
	}

	res, err := f.svc.Bulk(ctx, BulkRequest{Op: BulkApprove, IDs: ids}, approverID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, ids[2], res.Messages[0].ID)

	_, err = f.svc.Bulk(ctx, BulkRequest{Op: BulkApprove, IDs: []int64{1, 2, 3, 4}}, approverID)
	require.Error(t, err)
	assert.Equal(t, shared.CodeValidation, shared.CodeOf(err))
}

func TestBulkDisabled(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.cfg.EnableBulkApprovals = false
	})
	v := f.create(t, 2500)

	_, err := f.svc.Bulk(context.Background(), BulkRequest{Op: BulkApprove, IDs: []int64{v.ID}}, approverID)
	require.Error(t, err)
	assert.Equal(t, shared.CodeForbidden, shared.CodeOf(err))
}

func TestConcurrentApproveSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.create(t, 2500)

	_, err := f.svc.Submit(ctx, v.ID, creatorID)
	require.NoError(t, err)
	_, err = f.svc.Review(ctx, v.ID, reviewerID)
	require.NoError(t, err)

	results := make(chan error, 2)
	for _, actor := range []int64{approverID, approver2ID} {
		go func(actor int64) {
			_, err := f.svc.Approve(ctx, v.ID, actor)
			results <- err
		}(actor)
	}
	var errs []error
	for i := 0; i < 2; i++ {
		errs = append(errs, <-results)
	}

	var wins, losses int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		losses++
		assert.Equal(t, shared.CodeInvalidTransition, shared.CodeOf(err))
		assert.Contains(t, err.Error(), string(StateApproved))
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	got, err := f.svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, got.State)
	assert.Equal(t, 1, got.ApprovalsDone)
}

// authorized walks a fresh voucher to AUTHORIZED.
func (f *fixture) authorized(t *testing.T) *Voucher {
	t.Helper()
	ctx := context.Background()
	v := f.create(t, 2500)
	for _, step := range []func() (*Voucher, error){
		func() (*Voucher, error) { return f.svc.Submit(ctx, v.ID, creatorID) },
		func() (*Voucher, error) { return f.svc.Review(ctx, v.ID, reviewerID) },
		func() (*Voucher, error) { return f.svc.Approve(ctx, v.ID, approverID) },
		func() (*Voucher, error) { return f.svc.Authorize(ctx, v.ID, authorizerID) },
	} {
		var err error
		v, err = step()
		require.NoError(t, err)
	}
	require.Equal(t, StateAuthorized, v.State)
	return v
}

func TestFormatNumberWidth(t *testing.T) {
	assert.Equal(t, "PV/2025/00007", FormatNumber(KindPayment, 2025, 7))
	assert.Equal(t, "RV/2031/123456", FormatNumber(KindReceipt, 2031, 123456))
	for _, n := range []string{"PV/2025/00007", "RV/2031/123456"} {
		assert.True(t, NumberPattern.MatchString(n), fmt.Sprintf("pattern should accept %s", n))
	}
	assert.False(t, NumberPattern.MatchString("PV/2025/0007"))
}
