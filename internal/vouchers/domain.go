package vouchers

import (
	"fmt"
	"regexp"
	"time"
)

// Kind distinguishes outbound payments from inbound receipts.
type Kind string

const (
	KindPayment Kind = "PAYMENT"
	KindReceipt Kind = "RECEIPT"
)

// Prefix returns the voucher-number prefix for the kind.
func (k Kind) Prefix() string {
	if k == KindReceipt {
		return "RV"
	}
	return "PV"
}

// Outbound reports whether money leaves the company.
func (k Kind) Outbound() bool {
	return k != KindReceipt
}

// Valid reports whether the kind is known.
func (k Kind) Valid() bool {
	return k == KindPayment || k == KindReceipt
}

// State enumerates the approval lifecycle.
type State string

const (
	StateDraft       State = "DRAFT"
	StateSubmitted   State = "SUBMITTED"
	StateUnderReview State = "UNDER_REVIEW"
	StateApproved    State = "APPROVED"
	StateAuthorized  State = "AUTHORIZED"
	StatePosted      State = "POSTED"
	StateRejected    State = "REJECTED"
)

// NumberPattern validates minted voucher numbers.
var NumberPattern = regexp.MustCompile(`^(PV|RV)/\d{4}/\d{5,}$`)

// FormatNumber renders the canonical voucher number.
func FormatNumber(kind Kind, year int, seq int64) string {
	return fmt.Sprintf("%s/%d/%05d", kind.Prefix(), year, seq)
}

// Voucher is the central approval entity. Number and verification token are
// assigned at creation and never change. A posted voucher is immutable apart
// from payment-application relations owned by external accounting.
type Voucher struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	Number    string `json:"voucher_number"`
	Kind      Kind   `json:"voucher_kind"`
	State     State  `json:"approval_state"`

	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	PartnerID     int64     `json:"counterparty_id"`
	PartnerName   string    `json:"counterparty_name,omitempty"`
	JournalID     *int64    `json:"journal_id,omitempty"`
	DateEffective time.Time `json:"date_effective"`
	Memo          string    `json:"memo,omitempty"`

	// Token is the opaque verification capability. Never serialized on
	// list/detail responses addressed to third parties.
	Token         string    `json:"-"`
	TokenIssuedAt time.Time `json:"-"`

	// SaleOrderID links commission-derived vouchers to their origin sale.
	SaleOrderID  *int64 `json:"origin_sale_order_id,omitempty"`
	ObligationID *int64 `json:"obligation_id,omitempty"`

	RejectedReason *string `json:"rejected_reason,omitempty"`

	// Cycle counts reset rounds; the signature ledger scopes distinct
	// approver checks to the current cycle.
	Cycle         int `json:"cycle"`
	ApprovalsDone int `json:"approvals_done"`

	CreatedBy    int64      `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	SubmittedBy  *int64     `json:"submitted_by,omitempty"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	ReviewedBy   *int64     `json:"reviewer,omitempty"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	ApprovedBy   *int64     `json:"approver,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	AuthorizedBy *int64     `json:"authorizer,omitempty"`
	AuthorizedAt *time.Time `json:"authorized_at,omitempty"`
	PostedBy     *int64     `json:"poster,omitempty"`
	PostedAt     *time.Time `json:"posted_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Terminal reports whether the state admits no further forward transitions.
func (s State) Terminal() bool {
	return s == StatePosted
}
