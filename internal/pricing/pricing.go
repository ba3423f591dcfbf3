// Package pricing computes order line totals and order-level aggregates.
// All amounts are fixed-point with two decimals.
package pricing

import (
	"math"

	"github.com/safar/autoparts-store/internal/database"
	"github.com/shopspring/decimal"
)

const Places = 2

// MaxQuantity and MaxAmount mirror the INTEGER and NUMERIC(12,2) columns.
// MaxAmount is exclusive.
const MaxQuantity = math.MaxInt32

var MaxAmount = decimal.New(1, 10)

type Line struct {
	Quantity  int
	UnitPrice decimal.Decimal
}

type Adjustments struct {
	Discount decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
}

type Totals struct {
	Subtotal      decimal.Decimal
	DiscountTotal decimal.Decimal
	ShippingTotal decimal.Decimal
	TaxTotal      decimal.Decimal
	GrandTotal    decimal.Decimal
}

// Policy decides what happens when the discount exceeds everything else.
// With ClampNegative the grand total floors at zero; otherwise it may go
// negative.
type Policy struct {
	ClampNegative bool
}

func DefaultPolicy() Policy {
	return Policy{ClampNegative: true}
}

func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// CheckQuantity rejects quantities that are not positive or do not fit a
// line.
func CheckQuantity(quantity int) error {
	if quantity <= 0 {
		return database.NewValidationError("quantity", "must be a positive integer, got %d", quantity)
	}
	if quantity > MaxQuantity {
		return database.NewValidationError("quantity", "must not exceed %d, got %d", MaxQuantity, quantity)
	}
	return nil
}

func checkAmount(field string, d decimal.Decimal) error {
	if d.GreaterThanOrEqual(MaxAmount) {
		return database.NewValidationError(field, "amount %s exceeds the %s limit", d.StringFixed(Places), MaxAmount.String())
	}
	return nil
}

func LineTotal(quantity int, unitPrice decimal.Decimal) (decimal.Decimal, error) {
	if err := CheckQuantity(quantity); err != nil {
		return decimal.Zero, err
	}
	if unitPrice.IsNegative() {
		return decimal.Zero, database.NewValidationError("unit_price", "must not be negative")
	}
	lt := Round(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
	if err := checkAmount("quantity", lt); err != nil {
		return decimal.Zero, err
	}
	return lt, nil
}

func Subtotal(lines []Line) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, l := range lines {
		lt, err := LineTotal(l.Quantity, l.UnitPrice)
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(lt)
	}
	if err := checkAmount("quantity", sum); err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

func (a Adjustments) Validate() error {
	if a.Discount.IsNegative() {
		return database.NewValidationError("discount_total", "must not be negative")
	}
	if a.Shipping.IsNegative() {
		return database.NewValidationError("shipping_total", "must not be negative")
	}
	if a.Tax.IsNegative() {
		return database.NewValidationError("tax_total", "must not be negative")
	}
	if err := checkAmount("discount_total", a.Discount); err != nil {
		return err
	}
	if err := checkAmount("shipping_total", a.Shipping); err != nil {
		return err
	}
	return checkAmount("tax_total", a.Tax)
}

// Compute builds the full aggregate for a set of lines.
func (p Policy) Compute(lines []Line, adj Adjustments) (Totals, error) {
	if err := adj.Validate(); err != nil {
		return Totals{}, err
	}
	subtotal, err := Subtotal(lines)
	if err != nil {
		return Totals{}, err
	}

	t := Totals{
		Subtotal:      subtotal,
		DiscountTotal: Round(adj.Discount),
		ShippingTotal: Round(adj.Shipping),
		TaxTotal:      Round(adj.Tax),
	}
	t.GrandTotal = p.GrandTotal(t)
	if err := checkAmount("grand_total", t.GrandTotal); err != nil {
		return Totals{}, err
	}
	return t, nil
}

// GrandTotal is subtotal - discount + shipping + tax.
func (p Policy) GrandTotal(t Totals) decimal.Decimal {
	g := t.Subtotal.Sub(t.DiscountTotal).Add(t.ShippingTotal).Add(t.TaxTotal)
	if p.ClampNegative && g.IsNegative() {
		return decimal.Zero
	}
	return Round(g)
}
