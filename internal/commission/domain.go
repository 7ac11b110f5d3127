// Package commission derives broker and staff commission lines from sale
// orders and feeds the obligation materializer. All money math runs on
// decimals; floats never touch an amount.
package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// CalcKind selects the calculation rule.
type CalcKind string

const (
	CalcFixed        CalcKind = "fixed"
	CalcPctUntaxed   CalcKind = "pct_untaxed"
	CalcPctSaleValue CalcKind = "pct_sale_value"
)

// Valid reports whether the calc kind is known.
func (k CalcKind) Valid() bool {
	return k == CalcFixed || k == CalcPctUntaxed || k == CalcPctSaleValue
}

// Role names the commission recipient's relationship to the sale.
type Role string

const (
	RoleBroker   Role = "broker"
	RoleReferrer Role = "referrer"
	RoleCashback Role = "cashback"
	RoleAgent1   Role = "agent1"
	RoleAgent2   Role = "agent2"
	RoleManager  Role = "manager"
	RoleDirector Role = "director"
)

// Bucket splits commissions into external payouts and internal incentives.
type Bucket string

const (
	BucketExternal Bucket = "external"
	BucketInternal Bucket = "internal"
)

// Bucket maps the role to its payout bucket.
func (r Role) Bucket() Bucket {
	switch r {
	case RoleBroker, RoleReferrer, RoleCashback:
		return BucketExternal
	}
	return BucketInternal
}

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	switch r {
	case RoleBroker, RoleReferrer, RoleCashback, RoleAgent1, RoleAgent2, RoleManager, RoleDirector:
		return true
	}
	return false
}

// Rule configures one commission recipient. A rule with SaleOrderID set is a
// per-order override; otherwise it is a company-level default for the partner.
type Rule struct {
	ID          int64           `json:"id"`
	CompanyID   int64           `json:"company_id"`
	PartnerID   int64           `json:"partner_id"`
	PartnerName string          `json:"partner_name,omitempty"`
	Role        Role            `json:"role"`
	CalcKind    CalcKind        `json:"calc_kind"`
	Rate        decimal.Decimal `json:"rate"`
	MinAmount   decimal.Decimal `json:"min_amount"`
	// MaxAmount zero means no cap.
	MaxAmount   decimal.Decimal `json:"max_amount"`
	Active      bool            `json:"active"`
	SaleOrderID *int64          `json:"sale_order_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Line is one derived commission amount on a sale order. Lines freeze when
// the sale confirms.
type Line struct {
	ID          int64           `json:"id"`
	SaleOrderID int64           `json:"sale_order_id"`
	PartnerID   int64           `json:"partner_id"`
	PartnerName string          `json:"partner_name,omitempty"`
	Role        Role            `json:"role"`
	CalcKind    CalcKind        `json:"calc_kind"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount_computed"`
	Bucket      Bucket          `json:"bucket"`
}

// Summary is the commission rollup exposed on the sale order.
type Summary struct {
	TotalExternal decimal.Decimal `json:"total_external"`
	TotalInternal decimal.Decimal `json:"total_internal"`
	NetCommission decimal.Decimal `json:"net_commission"`
}
