// Package money computes sale totals in integer minor currency units.
//
// Every function is pure: no I/O, no state, no floating point. Overflow of
// int64 is treated as invalid input rather than wrapped.
package money

import (
	"math"

	"github.com/roach88/tillsync/internal/pos"
)

// Totals is the computed breakdown of a cart.
type Totals struct {
	LineTotals   []int64
	Subtotal     int64
	CartDiscount int64
	Tax          int64
	GrandTotal   int64
}

// LineTotal returns quantity*unitPrice - discount.
func LineTotal(quantity, unitPrice, discount int64) (int64, error) {
	if quantity <= 0 {
		return 0, pos.NewValidationError(pos.ErrCodeInvalidQuantity, "quantity must be positive, got %d", quantity)
	}
	if unitPrice < 0 {
		return 0, pos.NewValidationError(pos.ErrCodeInvalidMoney, "unit price must not be negative, got %d", unitPrice)
	}
	if discount < 0 {
		return 0, pos.NewValidationError(pos.ErrCodeInvalidMoney, "discount must not be negative, got %d", discount)
	}
	if unitPrice != 0 && quantity > math.MaxInt64/unitPrice {
		return 0, pos.NewValidationError(pos.ErrCodeInvalidMoney, "line total overflows (%d x %d)", quantity, unitPrice)
	}

	gross := quantity * unitPrice
	if discount > gross {
		return 0, pos.NewValidationError(pos.ErrCodeInvalidMoney, "discount %d exceeds line amount %d", discount, gross)
	}
	return gross - discount, nil
}

// Subtotal returns the sum of the line totals of lines.
func Subtotal(lines []pos.LineItem) (int64, error) {
	var sum int64
	for i, l := range lines {
		lt, err := LineTotal(l.Quantity, l.UnitPrice, l.Discount)
		if err != nil {
			return 0, err
		}
		if sum > math.MaxInt64-lt {
			return 0, pos.NewValidationError(pos.ErrCodeInvalidMoney, "subtotal overflows at line %d", i)
		}
		sum += lt
	}
	return sum, nil
}

// GrandTotal returns subtotal - cartDiscount + tax.
func GrandTotal(subtotal, cartDiscount, tax int64) (int64, error) {
	if subtotal < 0 {
		return 0, pos.NewValidationError(pos.ErrCodeInvalidMoney, "subtotal must not be negative, got %d", subtotal)
	}
	if cartDiscount < 0 {
		return 0, pos.NewValidationError(pos.ErrCodeInvalidMoney, "cart discount must not be negative, got %d", cartDiscount)
	}
	if tax < 0 {
		return 0, pos.NewValidationError(pos.ErrCodeInvalidMoney, "tax must not be negative, got %d", tax)
	}
	net := subtotal - cartDiscount
	if net < 0 {
		return 0, pos.NewValidationError(pos.ErrCodeInvalidMoney, "cart discount %d exceeds subtotal %d", cartDiscount, subtotal)
	}
	if net > math.MaxInt64-tax {
		return 0, pos.NewValidationError(pos.ErrCodeInvalidMoney, "grand total overflows")
	}
	return net + tax, nil
}

// Build computes every total of a cart in one pass.
func Build(lines []pos.LineItem, cartDiscount, tax int64) (Totals, error) {
	t := Totals{
		LineTotals:   make([]int64, len(lines)),
		CartDiscount: cartDiscount,
		Tax:          tax,
	}
	for i, l := range lines {
		lt, err := LineTotal(l.Quantity, l.UnitPrice, l.Discount)
		if err != nil {
			return Totals{}, err
		}
		t.LineTotals[i] = lt
	}

	sub, err := Subtotal(lines)
	if err != nil {
		return Totals{}, err
	}
	t.Subtotal = sub

	grand, err := GrandTotal(sub, cartDiscount, tax)
	if err != nil {
		return Totals{}, err
	}
	t.GrandTotal = grand
	return t, nil
}
