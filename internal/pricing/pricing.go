// Package pricing computes order money fields in minor currency units.
package pricing

import (
	"github.com/shopspring/decimal"

	"ms-fulfillment/internal/models"
)

var bpsDivisor = decimal.NewFromInt(10000)

// Policy is the rate snapshot applied to a new order.
type Policy struct {
	TaxRateBps    int64
	ServiceFeeBps int64
}

type Breakdown struct {
	Subtotal     int64
	Tax          int64
	ServiceFee   int64
	TotalCharged int64
}

// ApplyBps returns round(amount * bps / 10000), half away from zero.
func ApplyBps(amount, bps int64) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(bps)).
		Div(bpsDivisor).
		Round(0).
		IntPart()
}

func LineSubtotal(unitPrice, quantity int64) int64 {
	return unitPrice * quantity
}

// Compute prices a list of lines. Tip is zero at creation.
func (p Policy) Compute(items []models.OrderItemRequest) Breakdown {
	var subtotal int64
	for _, it := range items {
		subtotal += LineSubtotal(it.UnitPrice, it.Quantity)
	}
	tax := ApplyBps(subtotal, p.TaxRateBps)
	fee := ApplyBps(subtotal, p.ServiceFeeBps)
	return Breakdown{
		Subtotal:     subtotal,
		Tax:          tax,
		ServiceFee:   fee,
		TotalCharged: subtotal + tax + fee,
	}
}

// FormatCents renders minor units as a dollar string, e.g. 2475 -> "$24.75".
func FormatCents(cents int64) string {
	return "$" + decimal.New(cents, -2).StringFixed(2)
}
