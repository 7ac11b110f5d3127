// Package settings loads company-scoped approval configuration. A Settings
// value is an immutable snapshot taken at the start of a transactional unit;
// configuration changes only affect subsequent transactions.
package settings

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Defaults applied when a company has no settings row.
const (
	DefaultOutboundThreshold = 1000
	DefaultInboundThreshold  = 5000
	DefaultTier2Threshold    = 10000
	DefaultTier3Threshold    = 50000
	DefaultQRExpiryDays      = 30
	DefaultQRMaxScanAttempts = 10
	DefaultMaxBulkOperations = 50
)

// Settings is the per-company approval configuration snapshot.
type Settings struct {
	CompanyID   int64
	CompanyName string

	OutboundThreshold float64
	InboundThreshold  float64
	Tier2Threshold    float64
	Tier3Threshold    float64

	AutoSubmitOnCreate        bool
	RequireSignatureAllStages bool
	EnableTieredApprovals     bool

	EnableQRVerification bool
	QRExpiryDays         int
	QRMaxScanAttempts    int

	EnableBulkApprovals bool
	MaxBulkOperations   int

	// VerifySecret signs public projections. Empty means the process-wide
	// secret applies.
	VerifySecret string

	LoadedAt time.Time
}

// Loader reads settings snapshots.
type Loader interface {
	Load(ctx context.Context, companyID int64) (Settings, error)
}

// Store is the PostgreSQL-backed Loader.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Load returns the company settings, falling back to documented defaults when
// no row exists. Signatory configuration is never defaulted here; that check
// belongs to the transition path.
func (s *Store) Load(ctx context.Context, companyID int64) (Settings, error) {
	if s == nil || s.pool == nil {
		return Settings{}, errors.New("settings store not initialised")
	}
	out := Defaulted(companyID)
	// COALESCE keeps the documented defaults for companies without a
	// settings row.
	err := s.pool.QueryRow(ctx, `SELECT c.name,
       COALESCE(cs.outbound_threshold, $2), COALESCE(cs.inbound_threshold, $3),
       COALESCE(cs.tier2_threshold, $4), COALESCE(cs.tier3_threshold, $5),
       COALESCE(cs.auto_submit_on_create, false),
       COALESCE(cs.require_signature_all_stages, true),
       COALESCE(cs.enable_tiered_approvals, false),
       COALESCE(cs.enable_qr_verification, true),
       COALESCE(cs.qr_expiry_days, $6), COALESCE(cs.qr_max_scan_attempts, $7),
       COALESCE(cs.enable_bulk_approvals, true), COALESCE(cs.max_bulk_operations, $8),
       COALESCE(cs.verify_secret, '')
FROM companies c
LEFT JOIN company_settings cs ON cs.company_id = c.id
WHERE c.id = $1`,
		companyID,
		float64(DefaultOutboundThreshold), float64(DefaultInboundThreshold),
		float64(DefaultTier2Threshold), float64(DefaultTier3Threshold),
		DefaultQRExpiryDays, DefaultQRMaxScanAttempts, DefaultMaxBulkOperations,
	).Scan(
		&out.CompanyName,
		&out.OutboundThreshold, &out.InboundThreshold, &out.Tier2Threshold, &out.Tier3Threshold,
		&out.AutoSubmitOnCreate, &out.RequireSignatureAllStages, &out.EnableTieredApprovals,
		&out.EnableQRVerification, &out.QRExpiryDays, &out.QRMaxScanAttempts,
		&out.EnableBulkApprovals, &out.MaxBulkOperations, &out.VerifySecret,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{}, errors.New("settings: company not found")
		}
		return Settings{}, err
	}
	out.LoadedAt = time.Now()
	return out, nil
}

// Defaulted returns a Settings value with the documented defaults.
func Defaulted(companyID int64) Settings {
	return Settings{
		CompanyID:                 companyID,
		OutboundThreshold:         DefaultOutboundThreshold,
		InboundThreshold:          DefaultInboundThreshold,
		Tier2Threshold:            DefaultTier2Threshold,
		Tier3Threshold:            DefaultTier3Threshold,
		RequireSignatureAllStages: true,
		EnableQRVerification:      true,
		QRExpiryDays:              DefaultQRExpiryDays,
		QRMaxScanAttempts:         DefaultQRMaxScanAttempts,
		EnableBulkApprovals:       true,
		MaxBulkOperations:         DefaultMaxBulkOperations,
		LoadedAt:                  time.Now(),
	}
}

// RequiresApproval reports whether the amount forces the full approval chain
// for the given direction. Comparison is inclusive.
func (s Settings) RequiresApproval(outbound bool, amount float64) bool {
	if outbound {
		return amount >= s.OutboundThreshold
	}
	return amount >= s.InboundThreshold
}

// ApprovalsRequired returns how many distinct approvals the amount demands.
func (s Settings) ApprovalsRequired(amount float64) int {
	if !s.EnableTieredApprovals {
		return 1
	}
	switch {
	case s.Tier3Threshold > 0 && amount >= s.Tier3Threshold:
		return 3
	case s.Tier2Threshold > 0 && amount >= s.Tier2Threshold:
		return 2
	default:
		return 1
	}
}
