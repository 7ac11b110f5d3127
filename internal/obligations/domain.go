// Package obligations materializes commission lines into purchase
// obligations and tracks their payment lifecycle. Posting is delegated to
// the voucher workflow through a derived draft voucher per obligation.
package obligations

import (
	"time"

	"github.com/shopspring/decimal"
)

// State enumerates the obligation lifecycle.
type State string

const (
	StatePending   State = "PENDING"
	StatePosted    State = "POSTED"
	StatePaid      State = "PAID"
	StateCancelled State = "CANCELLED"
)

// Obligation is a payable created to honor a commission line. The supplier
// is always the commission line's partner; the vendor reference mirrors the
// sale's customer reference verbatim for traceability.
type Obligation struct {
	ID           int64           `json:"id"`
	CompanyID    int64           `json:"company_id"`
	SaleOrderID  int64           `json:"sale_order_id"`
	LineID       int64           `json:"source_line_id"`
	SupplierID   int64           `json:"supplier_id"`
	SupplierName string          `json:"supplier_name,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	VendorRef    string          `json:"vendor_ref"`
	State        State           `json:"state"`
	VoucherID    *int64          `json:"voucher_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
