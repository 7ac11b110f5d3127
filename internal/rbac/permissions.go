package rbac

// Permission codes used by the payment workflow. Codes are lower-case and
// dot-separated, matching the host ERP's convention.
const (
	PermVoucherView   = "payments.voucher.view"
	PermVoucherCreate = "payments.voucher.create"
	PermVoucherSubmit = "payments.voucher.submit"
	PermVoucherAdmin  = "payments.voucher.admin"
	PermBulkApprove   = "payments.voucher.bulk"

	PermSaleView    = "payments.sale.view"
	PermSaleCreate  = "payments.sale.create"
	PermSaleConfirm = "payments.sale.confirm"

	// Fallback permissions grant stage authority when no signatory band is
	// configured for the role (company-default group).
	PermFallbackReviewer   = "payments.fallback.reviewer"
	PermFallbackApprover   = "payments.fallback.approver"
	PermFallbackAuthorizer = "payments.fallback.authorizer"
	PermFallbackPoster     = "payments.fallback.poster"
)
