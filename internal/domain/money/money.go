// Package money prices carts: line totals, shipping, and tax-inclusive or
// tax-exclusive breakdowns in a single accounting currency.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnits is the number of decimals amounts are rounded to.
const MinorUnits = 2

var (
	ErrInvalidLine    = errors.New("money: unit price must be >= 0 and quantity >= 1")
	ErrInvalidTaxRate = errors.New("money: tax rate must be >= 0")
	ErrEmptyCart      = errors.New("money: cart has no lines")
)

// Epsilon is the tolerance used when matching an expected grand total.
var Epsilon = decimal.New(1, -MinorUnits)

// Line is the pricing input for one order line.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Total is UnitPrice × Quantity, unrounded.
func (l Line) Total() decimal.Decimal {
	return LineTotal(l.UnitPrice, l.Quantity)
}

func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// Round rounds to currency minor units, half to even.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(MinorUnits)
}

// Breakdown is the priced result of a cart.
type Breakdown struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	NetAmount    decimal.Decimal `json:"net_amount"`
	GrandTotal   decimal.Decimal `json:"grand_total"`
	TaxInclusive bool            `json:"tax_inclusive"`
}

// AmbiguousPricingError reports an expected total that matches neither tax convention.
type AmbiguousPricingError struct {
	Expected  decimal.Decimal
	Inclusive decimal.Decimal
	Exclusive decimal.Decimal
}

func (e *AmbiguousPricingError) Error() string {
	return fmt.Sprintf("money: expected total %s matches neither tax-inclusive %s nor tax-exclusive %s",
		e.Expected.StringFixed(MinorUnits), e.Inclusive.StringFixed(MinorUnits), e.Exclusive.StringFixed(MinorUnits))
}

// PriceCart computes the breakdown for lines under one tax convention.
func PriceCart(lines []Line, shipping ShippingPolicy, taxRate decimal.Decimal, pricesAreTaxInclusive bool) (Breakdown, error) {
	if len(lines) == 0 {
		return Breakdown{}, ErrEmptyCart
	}
	if taxRate.IsNegative() {
		return Breakdown{}, ErrInvalidTaxRate
	}
	subtotal := decimal.Zero
	for _, l := range lines {
		if l.Quantity < 1 || l.UnitPrice.IsNegative() {
			return Breakdown{}, ErrInvalidLine
		}
		subtotal = subtotal.Add(l.Total())
	}
	if shipping == nil {
		shipping = FreeShipping()
	}
	shippingCost := shipping.Cost(subtotal)
	gross := subtotal.Add(shippingCost)

	var tax, grand decimal.Decimal
	if pricesAreTaxInclusive {
		grand = Round(gross)
		// Extract from the rounded total so NetAmount + TaxAmount == GrandTotal.
		net := grand.DivRound(decimal.NewFromInt(1).Add(taxRate), 16)
		tax = Round(grand.Sub(net))
	} else {
		tax = Round(gross.Mul(taxRate))
		grand = Round(gross).Add(tax)
	}

	return Breakdown{
		Subtotal:     Round(subtotal),
		ShippingCost: Round(shippingCost),
		TaxRate:      taxRate,
		TaxAmount:    tax,
		NetAmount:    grand.Sub(tax),
		GrandTotal:   grand,
		TaxInclusive: pricesAreTaxInclusive,
	}, nil
}

// Reconcile prices the cart under both conventions and picks the one whose
// grand total lies within Epsilon of expected. Tax-inclusive wins ties and is
// used when expected is nil.
func Reconcile(lines []Line, shipping ShippingPolicy, taxRate decimal.Decimal, expected *decimal.Decimal) (Breakdown, error) {
	inclusive, err := PriceCart(lines, shipping, taxRate, true)
	if err != nil {
		return Breakdown{}, err
	}
	if expected == nil {
		return inclusive, nil
	}
	exclusive, err := PriceCart(lines, shipping, taxRate, false)
	if err != nil {
		return Breakdown{}, err
	}
	switch {
	case within(inclusive.GrandTotal, *expected):
		return inclusive, nil
	case within(exclusive.GrandTotal, *expected):
		return exclusive, nil
	default:
		return Breakdown{}, &AmbiguousPricingError{
			Expected:  *expected,
			Inclusive: inclusive.GrandTotal,
			Exclusive: exclusive.GrandTotal,
		}
	}
}

// Resolve uses an explicit tax convention when the cart carries one and
// otherwise falls back to Reconcile. An expected total must still match.
func Resolve(lines []Line, shipping ShippingPolicy, taxRate decimal.Decimal, inclusive *bool, expected *decimal.Decimal) (Breakdown, error) {
	if inclusive == nil {
		return Reconcile(lines, shipping, taxRate, expected)
	}
	b, err := PriceCart(lines, shipping, taxRate, *inclusive)
	if err != nil {
		return Breakdown{}, err
	}
	if expected != nil && !within(b.GrandTotal, *expected) {
		other, _ := PriceCart(lines, shipping, taxRate, !*inclusive)
		perr := &AmbiguousPricingError{Expected: *expected, Inclusive: b.GrandTotal, Exclusive: other.GrandTotal}
		if !*inclusive {
			perr.Inclusive, perr.Exclusive = other.GrandTotal, b.GrandTotal
		}
		return Breakdown{}, perr
	}
	return b, nil
}

func within(actual, expected decimal.Decimal) bool {
	return actual.Sub(expected).Abs().LessThanOrEqual(Epsilon)
}
