package money

import "github.com/shopspring/decimal"

// ShippingPolicy prices shipping as a pure function of the cart subtotal.
type ShippingPolicy interface {
	Cost(subtotal decimal.Decimal) decimal.Decimal
}

// ThresholdShipping is free from FreeFrom upwards and FlatFee below it.
// A zero FreeFrom disables the free tier.
type ThresholdShipping struct {
	FreeFrom decimal.Decimal
	FlatFee  decimal.Decimal
}

func (s ThresholdShipping) Cost(subtotal decimal.Decimal) decimal.Decimal {
	if s.FreeFrom.IsPositive() && subtotal.GreaterThanOrEqual(s.FreeFrom) {
		return decimal.Zero
	}
	return s.FlatFee
}

type ShippingFunc func(subtotal decimal.Decimal) decimal.Decimal

func (f ShippingFunc) Cost(subtotal decimal.Decimal) decimal.Decimal { return f(subtotal) }

func FlatShipping(fee decimal.Decimal) ShippingPolicy {
	return ShippingFunc(func(decimal.Decimal) decimal.Decimal { return fee })
}

func FreeShipping() ShippingPolicy { return FlatShipping(decimal.Zero) }
