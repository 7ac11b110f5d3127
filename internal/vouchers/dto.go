package vouchers

import "time"

// CreateVoucherRequest creates a draft voucher.
type CreateVoucherRequest struct {
	CompanyID     int64     `json:"company_id" validate:"required,gt=0"`
	Kind          Kind      `json:"voucher_kind" validate:"required,oneof=PAYMENT RECEIPT"`
	Amount        float64   `json:"amount" validate:"gte=0"`
	Currency      string    `json:"currency" validate:"required,len=3"`
	PartnerID     int64     `json:"counterparty_id" validate:"gte=0"`
	JournalID     *int64    `json:"journal_id,omitempty"`
	DateEffective time.Time `json:"date_effective" validate:"required"`
	Memo          string    `json:"memo,omitempty"`
	SaleOrderID   *int64    `json:"origin_sale_order_id,omitempty"`
	ObligationID  *int64    `json:"obligation_id,omitempty"`
}

// RejectRequest carries the mandatory rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,min=1"`
}

// ListVouchersRequest filters the voucher listing.
type ListVouchersRequest struct {
	CompanyID int64      `json:"company_id" validate:"required,gt=0"`
	State     *State     `json:"state,omitempty"`
	Kind      *Kind      `json:"kind,omitempty"`
	PartnerID *int64     `json:"counterparty_id,omitempty"`
	DateFrom  *time.Time `json:"date_from,omitempty"`
	DateTo    *time.Time `json:"date_to,omitempty"`
	Limit     int        `json:"limit" validate:"gte=0,lte=1000"`
	Offset    int        `json:"offset" validate:"gte=0"`
}

// BulkOp enumerates operations the bulk endpoint accepts.
type BulkOp string

const (
	BulkApprove   BulkOp = "approve"
	BulkReject    BulkOp = "reject"
	BulkAuthorize BulkOp = "authorize"
)

// BulkRequest executes one operation across many vouchers.
type BulkRequest struct {
	Op     BulkOp  `json:"op" validate:"required,oneof=approve reject authorize"`
	IDs    []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
	Reason string  `json:"reason,omitempty"`
}

// BulkMessage reports a per-voucher failure.
type BulkMessage struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

// BulkResult aggregates a bulk run.
type BulkResult struct {
	Success  int           `json:"success"`
	Failed   int           `json:"failed"`
	Messages []BulkMessage `json:"messages"`
}
