package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/beacon-erp/beacon-payments/internal/observability"
	"github.com/beacon-erp/beacon-payments/internal/settings"
	"github.com/beacon-erp/beacon-payments/internal/shared"
	"github.com/beacon-erp/beacon-payments/internal/vouchers"
)

// qrSize is the rendered PNG edge in pixels. 256px keeps modules well above
// the scanning floor at 200 dpi for tokens of this length.
const qrSize = 256

// TokenResolver resolves a verification token to its voucher.
type TokenResolver interface {
	GetByToken(ctx context.Context, token string) (*vouchers.Voucher, error)
}

// LogAppender persists verification attempts.
type LogAppender interface {
	Append(ctx context.Context, l Log) error
}

// Service answers public verification lookups.
type Service struct {
	resolver TokenResolver
	config   settings.Loader
	limiter  *RateLimiter
	logs     LogAppender
	metrics  *observability.Metrics
	logger   *slog.Logger

	baseURL       string
	defaultSecret string
}

// NewService constructs the service. defaultSecret signs projections for
// companies without their own secret.
func NewService(resolver TokenResolver, config settings.Loader, limiter *RateLimiter, logs LogAppender, metrics *observability.Metrics, logger *slog.Logger, baseURL, defaultSecret string) *Service {
	return &Service{
		resolver:      resolver,
		config:        config,
		limiter:       limiter,
		logs:          logs,
		metrics:       metrics,
		logger:        logger,
		baseURL:       strings.TrimRight(baseURL, "/"),
		defaultSecret: defaultSecret,
	}
}

// URL returns the public verification URL carried in the QR payload.
func (s *Service) URL(token string) string {
	return fmt.Sprintf("%s/verify/%s", s.baseURL, token)
}

// Lookup resolves a token for the given client address. Negative outcomes
// feed the per-address limiter; a blocked address gets RATE_LIMITED without
// a log row, since there is no voucher to attribute the attempt to.
func (s *Service) Lookup(ctx context.Context, token, clientIP string) (*Result, error) {
	ipHash := HashIP(clientIP)

	if s.limiter != nil {
		blocked, err := s.limiter.Blocked(ctx, ipHash)
		if err != nil {
			return nil, err
		}
		if blocked {
			s.observe("rate_limited")
			return nil, shared.E(shared.CodeRateLimited, "too many failed lookups, try again later")
		}
	}

	v, err := s.resolver.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, vouchers.ErrNotFound) {
			s.negative(ctx, Log{TokenHash: HashToken(token), IPHash: ipHash, Outcome: OutcomeInvalid}, settings.DefaultQRMaxScanAttempts)
			s.observe("invalid")
			return nil, shared.E(shared.CodeTokenNotFound, "unknown verification token")
		}
		return nil, err
	}

	cfg, err := s.config.Load(ctx, v.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	entry := Log{VoucherID: &v.ID, TokenHash: HashToken(token), IPHash: ipHash}

	if !cfg.EnableQRVerification {
		entry.Outcome = OutcomeInvalid
		s.negative(ctx, entry, cfg.QRMaxScanAttempts)
		s.observe("invalid")
		return nil, shared.E(shared.CodeTokenNotFound, "unknown verification token")
	}

	// A token issued on day zero stays valid through the last expiry day and
	// turns expired on the day after.
	if time.Now().After(v.TokenIssuedAt.AddDate(0, 0, cfg.QRExpiryDays)) {
		entry.Outcome = OutcomeExpired
		s.negative(ctx, entry, cfg.QRMaxScanAttempts)
		s.observe("expired")
		return nil, shared.E(shared.CodeTokenExpired, "verification token expired")
	}

	if v.State == vouchers.StateRejected {
		entry.Outcome = OutcomeCancelled
		s.negative(ctx, entry, cfg.QRMaxScanAttempts)
		s.observe("rejected")
		return &Result{Outcome: OutcomeRejected}, nil
	}

	proj := &Projection{
		VoucherNumber:    v.Number,
		CounterpartyName: v.PartnerName,
		Amount:           v.Amount,
		Currency:         v.Currency,
		DateEffective:    v.DateEffective,
		ApprovalState:    string(v.State),
		CompanyName:      cfg.CompanyName,
		IssuedAt:         v.TokenIssuedAt,
	}
	secret := cfg.VerifySecret
	if secret == "" {
		secret = s.defaultSecret
	}

	entry.Outcome = OutcomeValid
	s.append(ctx, entry)
	if s.limiter != nil {
		if err := s.limiter.RecordPositive(ctx, ipHash); err != nil && s.logger != nil {
			s.logger.Warn("reset negative streak", slog.Any("error", err))
		}
	}
	s.observe("valid")
	return &Result{
		Outcome:      OutcomeValid,
		Projection:   proj,
		IntegrityTag: proj.IntegrityTag(secret),
	}, nil
}

// QRPNG renders the verification URL for a known token. The image is
// derived, never stored.
func (s *Service) QRPNG(ctx context.Context, token string) ([]byte, error) {
	if _, err := s.resolver.GetByToken(ctx, token); err != nil {
		if errors.Is(err, vouchers.ErrNotFound) {
			return nil, shared.E(shared.CodeTokenNotFound, "unknown verification token")
		}
		return nil, err
	}
	return qrcode.Encode(s.URL(token), qrcode.Medium, qrSize)
}

func (s *Service) negative(ctx context.Context, entry Log, maxAttempts int) {
	s.append(ctx, entry)
	if s.limiter == nil {
		return
	}
	if err := s.limiter.RecordNegative(ctx, entry.IPHash, maxAttempts); err != nil && s.logger != nil {
		s.logger.Warn("record negative lookup", slog.Any("error", err))
	}
}

func (s *Service) append(ctx context.Context, entry Log) {
	if s.logs == nil {
		return
	}
	if err := s.logs.Append(ctx, entry); err != nil && s.logger != nil {
		s.logger.Error("append verification log", slog.Any("error", err))
	}
}

func (s *Service) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveVerification(outcome)
	}
}
