package vouchers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/beacon-erp/beacon-payments/internal/audit"
	"github.com/beacon-erp/beacon-payments/internal/events"
	"github.com/beacon-erp/beacon-payments/internal/observability"
	"github.com/beacon-erp/beacon-payments/internal/rbac"
	"github.com/beacon-erp/beacon-payments/internal/settings"
	"github.com/beacon-erp/beacon-payments/internal/shared"
	"github.com/beacon-erp/beacon-payments/internal/signatories"
)

// AuthorityChecker answers signatory-band questions.
type AuthorityChecker interface {
	AuthorizedFor(ctx context.Context, companyID, userID int64, role signatories.Role, amount float64) (signatories.Decision, error)
	AnyRoleFor(ctx context.Context, companyID, userID int64, amount float64) (bool, error)
}

// PermissionChecker answers registry permission questions.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID int64, code string) (bool, error)
	AnyoneHasPermission(ctx context.Context, code string) (bool, error)
}

// Poster submits an authorized voucher to the external accounting system.
type Poster interface {
	PostVoucher(ctx context.Context, v Voucher) error
}

// ServiceConfig tunes the external posting call.
type ServiceConfig struct {
	PostRetries int
	PostTimeout time.Duration
	// Backoff returns the delay before the given retry attempt. Tests
	// inject a zero backoff.
	Backoff func(attempt int) time.Duration
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.PostRetries <= 0 {
		c.PostRetries = 3
	}
	if c.PostTimeout <= 0 {
		c.PostTimeout = 30 * time.Second
	}
	if c.Backoff == nil {
		c.Backoff = func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * time.Second
		}
	}
	return c
}

// Service drives the approval state machine.
type Service struct {
	repo      Store
	authority AuthorityChecker
	perms     PermissionChecker
	config    settings.Loader
	bus       events.Publisher
	metrics   *observability.Metrics
	poster    Poster
	audits    *audit.Recorder
	logger    *slog.Logger
	cfg       ServiceConfig
}

// NewService constructs the service.
func NewService(repo Store, authority AuthorityChecker, perms PermissionChecker, config settings.Loader, bus events.Publisher, metrics *observability.Metrics, poster Poster, audits *audit.Recorder, logger *slog.Logger, cfg ServiceConfig) *Service {
	return &Service{
		repo:      repo,
		authority: authority,
		perms:     perms,
		config:    config,
		bus:       bus,
		metrics:   metrics,
		poster:    poster,
		audits:    audits,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

// Create mints identity and persists a draft voucher. Number and token are
// assigned in the same atomic write as the row.
func (s *Service) Create(ctx context.Context, req CreateVoucherRequest, actorID int64) (*Voucher, error) {
	if !req.Kind.Valid() {
		return nil, shared.E(shared.CodeValidation, "unknown voucher kind %q", req.Kind)
	}
	if req.Amount < 0 {
		return nil, shared.E(shared.CodeValidation, "amount must not be negative")
	}
	cfg, err := s.config.Load(ctx, req.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	token, err := MintToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	v := &Voucher{
		CompanyID:     req.CompanyID,
		Kind:          req.Kind,
		State:         StateDraft,
		Amount:        req.Amount,
		Currency:      req.Currency,
		PartnerID:     req.PartnerID,
		JournalID:     req.JournalID,
		DateEffective: req.DateEffective,
		Memo:          req.Memo,
		Token:         token,
		TokenIssuedAt: now,
		SaleOrderID:   req.SaleOrderID,
		ObligationID:  req.ObligationID,
		Cycle:         1,
		CreatedBy:     actorID,
	}

	year := v.DateEffective.Year()
	if v.DateEffective.IsZero() {
		year = now.Year()
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		seq, err := tx.NextNumber(ctx, v.CompanyID, v.Kind, year)
		if err != nil {
			return err
		}
		v.Number = FormatNumber(v.Kind, year, seq)
		id, err := tx.Insert(ctx, v)
		if err != nil {
			return err
		}
		v.ID = id
		return tx.AppendAudit(ctx, audit.Event{
			VoucherID: id,
			ActorID:   actorID,
			FromState: "",
			ToState:   string(StateDraft),
			Note:      "created " + v.Number,
		})
	})
	if err != nil {
		return nil, err
	}

	if cfg.AutoSubmitOnCreate {
		if _, err := s.Submit(ctx, v.ID, actorID); err != nil {
			// The draft exists; surface the submit failure as-is.
			return nil, err
		}
	}
	return s.repo.Get(ctx, v.ID)
}

// Get returns a voucher by ID.
func (s *Service) Get(ctx context.Context, id int64) (*Voucher, error) {
	return s.repo.Get(ctx, id)
}

// List returns vouchers matching the filters plus the unpaged total.
func (s *Service) List(ctx context.Context, req ListVouchersRequest) ([]Voucher, int, error) {
	return s.repo.List(ctx, req)
}

// Submit moves draft → submitted.
func (s *Service) Submit(ctx context.Context, id, actorID int64) (*Voucher, error) {
	return s.transition(ctx, ActionSubmit, id, actorID, "", applyOpts{})
}

// Review moves submitted → under_review.
func (s *Service) Review(ctx context.Context, id, actorID int64) (*Voucher, error) {
	return s.transition(ctx, ActionReview, id, actorID, "", applyOpts{})
}

// Approve moves under_review → approved, or re-enters under_review when
// tiered approvals demand another approver.
func (s *Service) Approve(ctx context.Context, id, actorID int64) (*Voucher, error) {
	return s.transition(ctx, ActionApprove, id, actorID, "", applyOpts{})
}

// Authorize moves approved → authorized.
func (s *Service) Authorize(ctx context.Context, id, actorID int64) (*Voucher, error) {
	return s.transition(ctx, ActionAuthorize, id, actorID, "", applyOpts{})
}

// Reject moves any pre-authorized state to rejected with a mandatory reason.
func (s *Service) Reject(ctx context.Context, id, actorID int64, reason string) (*Voucher, error) {
	if reason == "" {
		return nil, shared.MissingField("reason")
	}
	return s.transition(ctx, ActionReject, id, actorID, reason, applyOpts{})
}

// ResetToDraft returns a rejected voucher to draft, clearing every role
// stamp except the creator.
func (s *Service) ResetToDraft(ctx context.Context, id, actorID int64) (*Voucher, error) {
	return s.transition(ctx, ActionReset, id, actorID, "", applyOpts{})
}

// Post runs the external accounting call and, on success, commits
// authorized → posted. On failure the voucher stays authorized and the error
// surfaces as POSTING_FAILED after the retry budget is spent.
func (s *Service) Post(ctx context.Context, id, actorID int64) (*Voucher, error) {
	return s.post(ctx, id, actorID, applyOpts{})
}

// SystemPost posts on behalf of the automatic-posting policy. Signatory
// authority is not consulted; the sweeper is the policy.
func (s *Service) SystemPost(ctx context.Context, id int64) (*Voucher, error) {
	return s.post(ctx, id, 0, applyOpts{skipAuthority: true})
}

// Bulk applies one operation across many vouchers. Each voucher transitions
// independently; a failure is reported, not fatal to the batch.
func (s *Service) Bulk(ctx context.Context, req BulkRequest, actorID int64) (BulkResult, error) {
	var result BulkResult
	if len(req.IDs) == 0 {
		return result, shared.MissingField("ids")
	}
	if req.Op == BulkReject && req.Reason == "" {
		return result, shared.MissingField("reason")
	}

	// Batch policy follows the company of the first voucher; mixed-company
	// batches still transition per-voucher under each company's settings.
	first, err := s.repo.Get(ctx, req.IDs[0])
	if err != nil {
		return result, err
	}
	cfg, err := s.config.Load(ctx, first.CompanyID)
	if err != nil {
		return result, fmt.Errorf("load settings: %w", err)
	}
	if !cfg.EnableBulkApprovals {
		return result, shared.E(shared.CodeForbidden, "bulk approvals are disabled for company %d", first.CompanyID)
	}
	if len(req.IDs) > cfg.MaxBulkOperations {
		return result, shared.E(shared.CodeValidation, "batch of %d exceeds the limit of %d", len(req.IDs), cfg.MaxBulkOperations)
	}

	for _, id := range req.IDs {
		var err error
		switch req.Op {
		case BulkApprove:
			_, err = s.Approve(ctx, id, actorID)
		case BulkReject:
			_, err = s.Reject(ctx, id, actorID, req.Reason)
		case BulkAuthorize:
			_, err = s.Authorize(ctx, id, actorID)
		default:
			return result, shared.E(shared.CodeValidation, "unknown bulk op %q", req.Op)
		}
		if err != nil {
			result.Failed++
			result.Messages = append(result.Messages, BulkMessage{ID: id, Error: err.Error()})
			continue
		}
		result.Success++
	}
	return result, nil
}

func (s *Service) post(ctx context.Context, id, actorID int64, opts applyOpts) (*Voucher, error) {
	v, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.State != StateAuthorized {
		s.observe(ActionPost, "invalid")
		return nil, shared.InvalidTransition(string(ActionPost), string(v.State))
	}
	// Authority is settled here, before the journal entry leaves the
	// system. The transition below trusts it and only re-validates state
	// under the row lock.
	if !opts.skipAuthority {
		cfg, err := s.config.Load(ctx, v.CompanyID)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		if err := s.authorizeAction(ctx, nil, v, table[ActionPost], actorID, cfg); err != nil {
			s.observe(ActionPost, "denied")
			return nil, err
		}
	}
	opts.skipAuthority = true

	if err := s.callPoster(ctx, *v); err != nil {
		s.observe(ActionPost, "posting_failed")
		s.recordPostFailure(ctx, v, actorID, err)
		return nil, shared.E(shared.CodePostingFailed, "external posting failed: %v", err)
	}

	return s.transition(ctx, ActionPost, id, actorID, "", opts)
}

// callPoster retries the external call with exponential backoff and a hard
// per-attempt timeout.
func (s *Service) callPoster(ctx context.Context, v Voucher) error {
	if s.poster == nil {
		return nil
	}
	var lastErr error
	for attempt := 0; attempt < s.cfg.PostRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.Backoff(attempt)):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.PostTimeout)
		lastErr = s.poster.PostVoucher(callCtx, v)
		cancel()
		if lastErr == nil {
			return nil
		}
		if s.logger != nil {
			s.logger.Warn("posting attempt failed",
				slog.Int64("voucher_id", v.ID),
				slog.Int("attempt", attempt+1),
				slog.Any("error", lastErr))
		}
	}
	return lastErr
}

func (s *Service) recordPostFailure(ctx context.Context, v *Voucher, actorID int64, cause error) {
	// There is no state change to carry this row, so it stands alone.
	if err := s.appendStandaloneAudit(ctx, audit.Event{
		VoucherID: v.ID,
		ActorID:   actorID,
		FromState: string(StateAuthorized),
		ToState:   string(StateAuthorized),
		Note:      "posting failed: " + cause.Error(),
	}); err != nil && s.logger != nil {
		s.logger.Error("record posting failure", slog.Any("error", err))
	}
	ev := events.New(events.KindPostFailed)
	ev.VoucherID = v.ID
	ev.ActorID = actorID
	ev.FromState = string(StateAuthorized)
	ev.ToState = string(StateAuthorized)
	ev.Attributes["error"] = cause.Error()
	s.publish(ctx, ev)
}

type applyOpts struct {
	skipAuthority bool
}

// transition executes one state-machine edge under the voucher row lock.
// Validation, authority, stamps, signature ledger and audit all commit in
// one transaction; the event publishes after commit.
func (s *Service) transition(ctx context.Context, action Action, id, actorID int64, note string, opts applyOpts) (*Voucher, error) {
	t, ok := transitionFor(action)
	if !ok {
		return nil, shared.E(shared.CodeValidation, "unknown action %q", action)
	}

	var result *Voucher
	var ev events.Event
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		v, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !t.allows(v.State) {
			return shared.InvalidTransition(string(action), string(v.State))
		}
		cfg, err := s.config.Load(ctx, v.CompanyID)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}

		if action == ActionSubmit {
			if v.Amount <= 0 {
				return shared.MissingField("amount")
			}
			if v.PartnerID == 0 {
				return shared.MissingField("counterparty")
			}
		}

		if !opts.skipAuthority {
			if err := s.authorizeAction(ctx, tx, v, t, actorID, cfg); err != nil {
				return err
			}
		}

		now := time.Now()
		from := v.State
		to := t.To

		if action == ActionApprove {
			required := cfg.ApprovalsRequired(v.Amount)
			v.ApprovalsDone++
			if v.ApprovalsDone < required {
				// Tiered approval: loop back for the next approver slot.
				to = StateUnderReview
			}
		}

		v.State = to
		switch action {
		case ActionReject:
			v.RejectedReason = &note
		case ActionReset:
			clearStamps(v)
			v.Cycle++
		case ActionApprove:
			if to == StateApproved {
				stamp(v, action, actorID, now)
			}
		default:
			stamp(v, action, actorID, now)
		}

		if err := tx.SaveTransition(ctx, v); err != nil {
			return err
		}

		if t.Role != "" {
			sig := signatories.Signature{
				VoucherID: v.ID,
				Stage:     t.Role,
				Cycle:     v.Cycle,
				UserID:    actorID,
				At:        now,
			}
			if err := tx.RecordSignature(ctx, sig); err != nil {
				return err
			}
		}

		if err := tx.AppendAudit(ctx, audit.Event{
			VoucherID: v.ID,
			ActorID:   actorID,
			FromState: string(from),
			ToState:   string(to),
			Note:      note,
			At:        now,
		}); err != nil {
			return err
		}

		ev = events.New(eventKind(action))
		ev.VoucherID = v.ID
		ev.ActorID = actorID
		ev.FromState = string(from)
		ev.ToState = string(to)
		ev.At = now
		ev.Attributes["company_id"] = v.CompanyID
		ev.Attributes["voucher_number"] = v.Number
		ev.Attributes["amount"] = v.Amount
		ev.Attributes["currency"] = v.Currency
		ev.Attributes["counterparty"] = v.PartnerName
		ev.Attributes["kind"] = string(v.Kind)
		if note != "" {
			ev.Attributes["note"] = note
		}
		result = v
		return nil
	})
	if err != nil {
		s.observe(action, failureOutcome(err))
		if shared.CodeOf(err) == shared.CodeConfigurationMissing {
			// The transition rolled back; the alert must survive anyway.
			_ = s.appendStandaloneAudit(ctx, audit.Event{
				VoucherID: id,
				ActorID:   actorID,
				FromState: "",
				ToState:   "",
				Note:      err.Error(),
				Priority:  audit.PriorityHigh,
			})
		}
		return nil, err
	}

	s.observe(action, "ok")
	s.publish(ctx, ev)
	return result, nil
}

// authorizeAction enforces the per-transition authorization rules. tx may be
// nil when called outside a transaction (posting pre-check).
func (s *Service) authorizeAction(ctx context.Context, tx TxStore, v *Voucher, t Transition, actorID int64, cfg settings.Settings) error {
	if actorID == 0 {
		return shared.E(shared.CodeInsufficientAuthority, "unauthenticated actor")
	}
	switch t.Action {
	case ActionSubmit:
		if v.CreatedBy == actorID {
			return nil
		}
		ok, err := s.perms.HasPermission(ctx, actorID, rbac.PermVoucherSubmit)
		if err != nil {
			return err
		}
		if !ok {
			return shared.E(shared.CodeInsufficientAuthority, "user %d may not submit voucher %s", actorID, v.Number)
		}
		return nil

	case ActionReset:
		if v.CreatedBy == actorID {
			return nil
		}
		ok, err := s.perms.HasPermission(ctx, actorID, rbac.PermVoucherAdmin)
		if err != nil {
			return err
		}
		if !ok {
			return shared.E(shared.CodeInsufficientAuthority, "user %d may not reset voucher %s", actorID, v.Number)
		}
		return nil

	case ActionReject:
		ok, err := s.authority.AnyRoleFor(ctx, v.CompanyID, actorID, v.Amount)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		admin, err := s.perms.HasPermission(ctx, actorID, rbac.PermVoucherAdmin)
		if err != nil {
			return err
		}
		if !admin {
			return shared.E(shared.CodeInsufficientAuthority, "user %d holds no band covering %.2f", actorID, v.Amount)
		}
		return nil
	}

	// Stage transitions: review, approve, authorize, post.
	dec, err := s.authority.AuthorizedFor(ctx, v.CompanyID, actorID, t.Role, v.Amount)
	if err != nil {
		return err
	}
	if dec.Configured {
		if !dec.Authorized {
			return shared.E(shared.CodeInsufficientAuthority, "user %d holds no active %s band covering %.2f", actorID, t.Role, v.Amount)
		}
		if t.Action == ActionApprove && tx != nil {
			// A tiered round needs a different approver each slot.
			signed, err := tx.HasSignature(ctx, v.ID, signatories.RoleApprover, v.Cycle, actorID)
			if err != nil {
				return err
			}
			if signed {
				return shared.E(shared.CodeInsufficientAuthority, "user %d already approved voucher %s this round", actorID, v.Number)
			}
		}
		return nil
	}

	// No signatory configured for the role: company-default fallback group.
	fallback := fallbackPermission(t.Role)
	ok, err := s.perms.HasPermission(ctx, actorID, fallback)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if !cfg.RequiresApproval(v.Kind.Outbound(), v.Amount) {
		// Below-threshold vouchers may be walked through by submitters.
		ok, err := s.perms.HasPermission(ctx, actorID, rbac.PermVoucherSubmit)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	anyone, err := s.perms.AnyoneHasPermission(ctx, fallback)
	if err != nil {
		return err
	}
	if anyone {
		return shared.E(shared.CodeInsufficientAuthority, "user %d is not in the default %s group", actorID, t.Role)
	}
	return shared.E(shared.CodeConfigurationMissing, "no signatory or default group configured for role %s in company %d", t.Role, v.CompanyID)
}

func fallbackPermission(role signatories.Role) string {
	switch role {
	case signatories.RoleReviewer:
		return rbac.PermFallbackReviewer
	case signatories.RoleApprover:
		return rbac.PermFallbackApprover
	case signatories.RoleAuthorizer:
		return rbac.PermFallbackAuthorizer
	case signatories.RolePoster:
		return rbac.PermFallbackPoster
	}
	return rbac.PermVoucherAdmin
}

func failureOutcome(err error) string {
	switch shared.CodeOf(err) {
	case shared.CodeInvalidTransition:
		return "invalid"
	case shared.CodeInsufficientAuthority:
		return "denied"
	case shared.CodeMissingField:
		return "missing_field"
	case shared.CodeConfigurationMissing:
		return "config_missing"
	default:
		return "error"
	}
}

func (s *Service) observe(action Action, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(string(action), outcome)
	}
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if s.bus != nil && ev.Kind != "" {
		s.bus.Publish(ctx, ev)
	}
}

// appendStandaloneAudit writes an audit row outside any transaction, for
// alerts that must survive a rolled-back transition.
func (s *Service) appendStandaloneAudit(ctx context.Context, ev audit.Event) error {
	if s.audits == nil {
		return errors.New("audit recorder not configured")
	}
	return s.audits.AppendStandalone(ctx, ev)
}
