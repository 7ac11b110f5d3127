package orders

import (
	"github.com/shopspring/decimal"

	"github.com/beacon-erp/beacon-payments/internal/commission"
	"github.com/beacon-erp/beacon-payments/internal/obligations"
)

// CreateOrderRequest creates a draft sale order.
type CreateOrderRequest struct {
	CompanyID         int64           `json:"company_id" validate:"required,gt=0"`
	CustomerID        int64           `json:"customer_id" validate:"required,gt=0"`
	CustomerReference string          `json:"customer_reference" validate:"max=128"`
	Currency          string          `json:"currency" validate:"required,len=3"`
	UntaxedTotal      decimal.Decimal `json:"untaxed_total"`
	SaleValue         decimal.Decimal `json:"sale_value"`
	AmountTotal       decimal.Decimal `json:"amount_total"`
}

// OrderDetail is the sale order with its commission rollup.
type OrderDetail struct {
	Order       *Order                   `json:"order"`
	Lines       []commission.Line        `json:"commission_lines"`
	Summary     commission.Summary       `json:"commission_summary"`
	Obligations []obligations.Obligation `json:"obligations,omitempty"`
}
