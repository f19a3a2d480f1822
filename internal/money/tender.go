package money

import (
	"math"

	"github.com/roach88/tillsync/internal/pos"
)

// Tendered returns the sum of all payment amounts.
// Every amount must be positive.
func Tendered(payments []pos.Payment) (int64, error) {
	var sum int64
	for i, p := range payments {
		if p.Amount <= 0 {
			return 0, pos.NewValidationError(pos.ErrCodeInvalidAmount, "payment %d amount must be positive, got %d", i, p.Amount)
		}
		if sum > math.MaxInt64-p.Amount {
			return 0, pos.NewValidationError(pos.ErrCodeInvalidMoney, "payment total overflows at payment %d", i)
		}
		sum += p.Amount
	}
	return sum, nil
}

// ChangeDue returns how much of the tender is handed back to the customer.
// Callers must have checked tendered >= grandTotal.
func ChangeDue(tendered, grandTotal int64) int64 {
	if tendered <= grandTotal {
		return 0
	}
	return tendered - grandTotal
}

// CashReceived returns the cash that stays in the drawer for a sale:
// cash tendered minus the change handed back, never below zero.
// Change is always paid out of the drawer, so it is charged against cash.
func CashReceived(payments []pos.Payment, changeDue int64) int64 {
	var cash int64
	for _, p := range payments {
		if p.Method == pos.PaymentMethodCash {
			cash += p.Amount
		}
	}
	if changeDue >= cash {
		return 0
	}
	return cash - changeDue
}
