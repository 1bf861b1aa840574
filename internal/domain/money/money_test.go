package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

var soapShipping = ThresholdShipping{FreeFrom: d("50"), FlatFee: d("4.99")}

func TestPriceCart_TaxInclusiveSoap(t *testing.T) {
	b, err := PriceCart([]Line{{UnitPrice: d("9.99"), Quantity: 2}}, soapShipping, d("0.19"), true)
	require.NoError(t, err)

	assert.Equal(t, "19.98", b.Subtotal.StringFixed(2))
	assert.Equal(t, "4.99", b.ShippingCost.StringFixed(2))
	assert.Equal(t, "24.97", b.GrandTotal.StringFixed(2))
	// 24.97 - 24.97/1.19 = 3.98680..., half-to-even at two decimals.
	assert.Equal(t, "3.99", b.TaxAmount.StringFixed(2))
	assert.True(t, b.TaxInclusive)
}

func TestPriceCart_NetPlusTaxIsGrandTotal(t *testing.T) {
	carts := [][]Line{
		{{UnitPrice: d("9.99"), Quantity: 2}},
		{{UnitPrice: d("0.01"), Quantity: 7}, {UnitPrice: d("123.45"), Quantity: 1}},
		{{UnitPrice: d("19.99"), Quantity: 3}, {UnitPrice: d("4.35"), Quantity: 11}},
	}
	for _, lines := range carts {
		b, err := PriceCart(lines, soapShipping, d("0.19"), true)
		require.NoError(t, err)
		assert.True(t, b.Subtotal.Add(b.ShippingCost).Equal(b.GrandTotal), "inclusive grand total is subtotal+shipping")
		assert.True(t, b.NetAmount.Add(b.TaxAmount).Equal(b.GrandTotal), "net+tax must equal grand total to the penny")
		assert.True(t, b.NetAmount.Equal(b.GrandTotal.Sub(b.TaxAmount)))
	}
}

func TestPriceCart_TaxExclusive(t *testing.T) {
	b, err := PriceCart([]Line{{UnitPrice: d("9.99"), Quantity: 2}}, soapShipping, d("0.19"), false)
	require.NoError(t, err)

	assert.Equal(t, "4.74", b.TaxAmount.StringFixed(2))
	assert.Equal(t, "29.71", b.GrandTotal.StringFixed(2))
	assert.False(t, b.TaxInclusive)
}

func TestPriceCart_NoIntermediateRounding(t *testing.T) {
	// 3 × 0.333 = 0.999 would become 3 × 0.33 = 0.99 if lines were rounded first.
	b, err := PriceCart([]Line{{UnitPrice: d("0.333"), Quantity: 3}}, FreeShipping(), decimal.Zero, true)
	require.NoError(t, err)
	assert.Equal(t, "1.00", b.GrandTotal.StringFixed(2))
}

func TestPriceCart_RejectsInvalidLines(t *testing.T) {
	_, err := PriceCart([]Line{{UnitPrice: d("1"), Quantity: 0}}, nil, decimal.Zero, true)
	assert.ErrorIs(t, err, ErrInvalidLine)

	_, err = PriceCart([]Line{{UnitPrice: d("-1"), Quantity: 1}}, nil, decimal.Zero, true)
	assert.ErrorIs(t, err, ErrInvalidLine)

	_, err = PriceCart(nil, nil, decimal.Zero, true)
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = PriceCart([]Line{{UnitPrice: d("1"), Quantity: 1}}, nil, d("-0.1"), true)
	assert.ErrorIs(t, err, ErrInvalidTaxRate)
}

func TestThresholdShipping(t *testing.T) {
	assert.True(t, soapShipping.Cost(d("49.99")).Equal(d("4.99")))
	assert.True(t, soapShipping.Cost(d("50")).IsZero())
	assert.True(t, ThresholdShipping{FlatFee: d("3")}.Cost(d("1000")).Equal(d("3")))
}

func TestReconcile(t *testing.T) {
	lines := []Line{{UnitPrice: d("9.99"), Quantity: 2}}

	t.Run("no expected total defaults to inclusive", func(t *testing.T) {
		b, err := Reconcile(lines, soapShipping, d("0.19"), nil)
		require.NoError(t, err)
		assert.True(t, b.TaxInclusive)
	})

	t.Run("matches inclusive", func(t *testing.T) {
		b, err := Reconcile(lines, soapShipping, d("0.19"), dp("24.97"))
		require.NoError(t, err)
		assert.True(t, b.TaxInclusive)
	})

	t.Run("matches exclusive within a cent", func(t *testing.T) {
		b, err := Reconcile(lines, soapShipping, d("0.19"), dp("29.70"))
		require.NoError(t, err)
		assert.False(t, b.TaxInclusive)
		assert.Equal(t, "29.71", b.GrandTotal.StringFixed(2))
	})

	t.Run("tie prefers inclusive", func(t *testing.T) {
		b, err := Reconcile(lines, soapShipping, decimal.Zero, dp("24.97"))
		require.NoError(t, err)
		assert.True(t, b.TaxInclusive)
	})

	t.Run("neither interpretation", func(t *testing.T) {
		_, err := Reconcile(lines, soapShipping, d("0.19"), dp("27.00"))
		var perr *AmbiguousPricingError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "24.97", perr.Inclusive.StringFixed(2))
		assert.Equal(t, "29.71", perr.Exclusive.StringFixed(2))
	})
}

func TestResolve_ExplicitFlag(t *testing.T) {
	lines := []Line{{UnitPrice: d("9.99"), Quantity: 2}}
	exclusive := false

	b, err := Resolve(lines, soapShipping, d("0.19"), &exclusive, nil)
	require.NoError(t, err)
	assert.False(t, b.TaxInclusive)

	// An expected total that only fits the other convention is rejected.
	_, err = Resolve(lines, soapShipping, d("0.19"), &exclusive, dp("24.97"))
	var perr *AmbiguousPricingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "29.71", perr.Exclusive.StringFixed(2))
}
