// Package orders carries the slim sale-order model the commission pipeline
// hangs off: totals, the customer reference mirrored onto obligations, and
// the confirmation that freezes commission lines.
package orders

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the sale-order lifecycle.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

// Order is a sale order. Commission lines recompute freely while the order
// is a draft and freeze at confirmation.
type Order struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	Number    string `json:"order_number"`

	CustomerID   int64  `json:"customer_id"`
	CustomerName string `json:"customer_name,omitempty"`
	// CustomerReference is the customer's PO reference, copied verbatim to
	// every derived obligation's vendor_ref.
	CustomerReference string `json:"customer_reference"`

	Currency     string          `json:"currency"`
	UntaxedTotal decimal.Decimal `json:"untaxed_total"`
	// SaleValue is an optional custom total; zero means unset.
	SaleValue   decimal.Decimal `json:"sale_value"`
	AmountTotal decimal.Decimal `json:"amount_total"`

	Status              Status `json:"status"`
	CommissionProcessed bool   `json:"commission_processed"`

	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// FormatNumber renders the canonical sale-order number.
func FormatNumber(year int, seq int64) string {
	return fmt.Sprintf("SO/%d/%05d", year, seq)
}
