package commission

import (
	"github.com/shopspring/decimal"
)

// Basis carries the sale-order amounts the calculations draw on.
type Basis struct {
	// UntaxedTotal is the sale's total before tax.
	UntaxedTotal decimal.Decimal
	// SaleValue is an optional custom total; zero means unset and
	// pct_sale_value falls back to UntaxedTotal.
	SaleValue decimal.Decimal
	// AmountTotal is the tax-inclusive total used by the net formula.
	AmountTotal decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Compute derives one line per active rule. Amounts round half-up to two
// decimal places after the min/max clamp.
func Compute(rules []Rule, basis Basis) []Line {
	lines := make([]Line, 0, len(rules))
	for _, r := range rules {
		if !r.Active {
			continue
		}
		amount := ruleAmount(r, basis)
		if amount.LessThan(r.MinAmount) {
			amount = r.MinAmount
		}
		if r.MaxAmount.IsPositive() && amount.GreaterThan(r.MaxAmount) {
			amount = r.MaxAmount
		}
		lines = append(lines, Line{
			SaleOrderID: derefID(r.SaleOrderID),
			PartnerID:   r.PartnerID,
			PartnerName: r.PartnerName,
			Role:        r.Role,
			CalcKind:    r.CalcKind,
			Rate:        r.Rate,
			Amount:      amount.Round(2),
			Bucket:      r.Role.Bucket(),
		})
	}
	return lines
}

func ruleAmount(r Rule, basis Basis) decimal.Decimal {
	switch r.CalcKind {
	case CalcFixed:
		return r.Rate
	case CalcPctUntaxed:
		return r.Rate.Div(hundred).Mul(basis.UntaxedTotal)
	case CalcPctSaleValue:
		base := basis.SaleValue
		if base.IsZero() {
			base = basis.UntaxedTotal
		}
		return r.Rate.Div(hundred).Mul(base)
	}
	return decimal.Zero
}

// Summarize rolls lines up into bucket totals and the net figure:
//
//	net_commission = amount_total - (total_internal - total_external)
//
// External commissions reduce the deductible from amount_total; the bracket
// sign is the established convention, not a typo.
func Summarize(lines []Line, amountTotal decimal.Decimal) Summary {
	var external, internal decimal.Decimal
	for _, l := range lines {
		switch l.Bucket {
		case BucketExternal:
			external = external.Add(l.Amount)
		case BucketInternal:
			internal = internal.Add(l.Amount)
		}
	}
	return Summary{
		TotalExternal: external,
		TotalInternal: internal,
		NetCommission: amountTotal.Sub(internal.Sub(external)),
	}
}

// ExternalExceedsUntaxed flags the soft invariant that external payouts
// should not outgrow the sale itself. Callers log a warning; the sale still
// confirms.
func (s Summary) ExternalExceedsUntaxed(untaxed decimal.Decimal) bool {
	return s.TotalExternal.GreaterThan(untaxed)
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
