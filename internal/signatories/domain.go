// Package signatories stores amount-banded stage authority and the
// per-voucher signature ledger.
package signatories

import "time"

// Role enumerates the approval stages a signatory may act at.
type Role string

const (
	RoleReviewer   Role = "REVIEWER"
	RoleApprover   Role = "APPROVER"
	RoleAuthorizer Role = "AUTHORIZER"
	RolePoster     Role = "POSTER"
)

// Signatory is a configuration row granting a user authority at a stage
// within an amount band. Zero on either bound means unbounded on that end.
// For a given (user, role, company) at most one active row exists.
type Signatory struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	Email     string    `json:"-"`
	Role      Role      `json:"role"`
	MinAmount float64   `json:"min_amount"`
	MaxAmount float64   `json:"max_amount"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Covers reports whether the band includes the amount. Bounds are inclusive.
func (s Signatory) Covers(amount float64) bool {
	if s.MinAmount > 0 && amount < s.MinAmount {
		return false
	}
	if s.MaxAmount > 0 && amount > s.MaxAmount {
		return false
	}
	return true
}

// Signature is an append-only ledger row capturing who acted at a stage.
// The bitmap is optional; rendering falls back to typographic initials when
// absent. Bitmaps are immutable once the stage is entered.
type Signature struct {
	ID        int64     `json:"id"`
	VoucherID int64     `json:"voucher_id"`
	Stage     Role      `json:"stage"`
	Cycle     int       `json:"cycle"`
	UserID    int64     `json:"user_id"`
	At        time.Time `json:"at"`
	Bitmap    []byte    `json:"-"`
}

// Decision is the outcome of an authority check.
type Decision struct {
	// Configured is false when no active signatory exists for the role at
	// all, which routes callers to the company-default fallback.
	Configured bool
	// Authorized is true when the acting user holds a band covering the
	// amount.
	Authorized bool
}
