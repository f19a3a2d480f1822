// Package reconcile keeps shift aggregates consistent with the sales and
// cash events recorded against a shift.
//
// It owns no storage. The store calls these functions inside the same
// transaction as the triggering sale, cash event or close, so aggregates
// never diverge from what was written.
//
// Totals are eager and local: a sale counts toward its shift the moment it
// is finalized, whatever its later sync outcome.
package reconcile

import (
	"fmt"

	"github.com/roach88/tillsync/internal/pos"
)

// ApplySale folds a finalized sale into an open shift's running totals.
func ApplySale(shift *pos.ShiftSession, grandTotal, cashReceived int64) error {
	if shift.Status != pos.ShiftOpen {
		return pos.NewValidationError(pos.ErrCodeShiftAlreadyClosed, "shift %s is closed", shift.ID)
	}
	shift.TotalSales += grandTotal
	shift.TotalCashReceived += cashReceived
	return nil
}

// CashEventTotals sums PAID_IN and PAID_OUT amounts.
func CashEventTotals(events []pos.CashEvent) (paidIn, paidOut int64) {
	for _, ev := range events {
		switch ev.Type {
		case pos.PaidIn:
			paidIn += ev.Amount
		case pos.PaidOut:
			paidOut += ev.Amount
		}
	}
	return paidIn, paidOut
}

// ExpectedCash returns startingCash + cashReceived + paidIn - paidOut.
// An unknown starting float counts as zero.
func ExpectedCash(startingCash *int64, cashReceived int64, events []pos.CashEvent) int64 {
	var start int64
	if startingCash != nil {
		start = *startingCash
	}
	paidIn, paidOut := CashEventTotals(events)
	return start + cashReceived + paidIn - paidOut
}

// Variance returns closingCash - expected, or nil when the drawer was not
// counted at close.
func Variance(closingCash *int64, expected int64) *int64 {
	if closingCash == nil {
		return nil
	}
	v := *closingCash - expected
	return &v
}

// Close freezes expected cash and variance on shift and marks it CLOSED.
func Close(shift *pos.ShiftSession, events []pos.CashEvent, in pos.CloseShiftInput) error {
	if shift.Status != pos.ShiftOpen {
		return pos.NewValidationError(pos.ErrCodeShiftAlreadyClosed, "shift %s is already closed", shift.ID)
	}
	expected := ExpectedCash(shift.StartingCash, shift.TotalCashReceived, events)
	shift.ExpectedCash = &expected
	shift.ClosingCash = in.ClosingCash
	shift.Variance = Variance(in.ClosingCash, expected)
	shift.ClosedBy = in.ClosedBy
	shift.Status = pos.ShiftClosed
	if in.Notes != "" {
		shift.Notes = in.Notes
	}
	return nil
}

// Verify recomputes the running totals from the recorded sales and
// reports any disagreement as an InvariantError.
func Verify(shift pos.ShiftSession, sales []pos.Sale, cashReceived func(pos.Sale) int64) error {
	var totalSales, totalCash int64
	for _, s := range sales {
		totalSales += s.GrandTotal
		totalCash += cashReceived(s)
	}
	if totalSales != shift.TotalSales {
		return &pos.InvariantError{
			Entity:  "shift",
			ID:      shift.ID,
			Message: fmt.Sprintf("total_sales is %d but recorded sales sum to %d", shift.TotalSales, totalSales),
		}
	}
	if totalCash != shift.TotalCashReceived {
		return &pos.InvariantError{
			Entity:  "shift",
			ID:      shift.ID,
			Message: fmt.Sprintf("total_cash_received is %d but recorded sales sum to %d", shift.TotalCashReceived, totalCash),
		}
	}
	return nil
}
