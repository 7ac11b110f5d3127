package commission

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestComputeCalcKinds(t *testing.T) {
	basis := Basis{UntaxedTotal: d("100000"), AmountTotal: d("107000")}
	rules := []Rule{
		{PartnerID: 1, Role: RoleBroker, CalcKind: CalcPctUntaxed, Rate: d("2.5"), Active: true},
		{PartnerID: 2, Role: RoleAgent1, CalcKind: CalcFixed, Rate: d("150"), Active: true},
		{PartnerID: 3, Role: RoleReferrer, CalcKind: CalcPctSaleValue, Rate: d("1"), Active: true},
		{PartnerID: 4, Role: RoleManager, CalcKind: CalcFixed, Rate: d("999"), Active: false},
	}

	lines := Compute(rules, basis)
	require.Len(t, lines, 3)

	assert.True(t, lines[0].Amount.Equal(d("2500")), "broker got %s", lines[0].Amount)
	assert.Equal(t, BucketExternal, lines[0].Bucket)
	assert.True(t, lines[1].Amount.Equal(d("150")))
	assert.Equal(t, BucketInternal, lines[1].Bucket)
	// pct_sale_value falls back to untaxed when sale_value is unset.
	assert.True(t, lines[2].Amount.Equal(d("1000")))
}

func TestComputeSaleValueBase(t *testing.T) {
	basis := Basis{UntaxedTotal: d("100000"), SaleValue: d("120000")}
	lines := Compute([]Rule{
		{PartnerID: 1, Role: RoleBroker, CalcKind: CalcPctSaleValue, Rate: d("2"), Active: true},
	}, basis)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].Amount.Equal(d("2400")))
}

func TestComputeClamps(t *testing.T) {
	basis := Basis{UntaxedTotal: d("100000")}
	lines := Compute([]Rule{
		{PartnerID: 1, Role: RoleBroker, CalcKind: CalcPctUntaxed, Rate: d("0.01"), MinAmount: d("50"), Active: true},
		{PartnerID: 2, Role: RoleAgent1, CalcKind: CalcPctUntaxed, Rate: d("10"), MaxAmount: d("3000"), Active: true},
	}, basis)
	require.Len(t, lines, 2)
	// 0.01% of 100000 is 10, below the floor.
	assert.True(t, lines[0].Amount.Equal(d("50")))
	// 10% of 100000 is 10000, above the cap.
	assert.True(t, lines[1].Amount.Equal(d("3000")))
}

func TestComputeRounding(t *testing.T) {
	lines := Compute([]Rule{
		{PartnerID: 1, Role: RoleBroker, CalcKind: CalcPctUntaxed, Rate: d("3.33"), Active: true},
	}, Basis{UntaxedTotal: d("999.99")})
	require.Len(t, lines, 1)
	// 3.33% of 999.99 = 33.299667, rounded half-up.
	assert.True(t, lines[0].Amount.Equal(d("33.30")), "got %s", lines[0].Amount)
}

func TestSummarizeNetFormula(t *testing.T) {
	lines := []Line{
		{Role: RoleBroker, Bucket: BucketExternal, Amount: d("2500")},
		{Role: RoleCashback, Bucket: BucketExternal, Amount: d("500")},
		{Role: RoleAgent1, Bucket: BucketInternal, Amount: d("150")},
		{Role: RoleManager, Bucket: BucketInternal, Amount: d("1000")},
	}
	s := Summarize(lines, d("107000"))

	assert.True(t, s.TotalExternal.Equal(d("3000")))
	assert.True(t, s.TotalInternal.Equal(d("1150")))
	// 107000 - (1150 - 3000) = 108850.
	assert.True(t, s.NetCommission.Equal(d("108850")), "got %s", s.NetCommission)
}

func TestExternalExceedsUntaxed(t *testing.T) {
	s := Summarize([]Line{
		{Bucket: BucketExternal, Amount: d("1200")},
	}, d("1000"))
	assert.True(t, s.ExternalExceedsUntaxed(d("1000")))
	assert.False(t, s.ExternalExceedsUntaxed(d("1200")))
}

func TestRoleBuckets(t *testing.T) {
	for _, r := range []Role{RoleBroker, RoleReferrer, RoleCashback} {
		assert.Equal(t, BucketExternal, r.Bucket(), string(r))
	}
	for _, r := range []Role{RoleAgent1, RoleAgent2, RoleManager, RoleDirector} {
		assert.Equal(t, BucketInternal, r.Bucket(), string(r))
	}
}
