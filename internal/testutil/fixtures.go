package testutil

import "github.com/roach88/tillsync/internal/pos"

// Identifiers shared by fixtures.
const (
	Workspace = "ws-test"
	Register  = "reg-1"
	Cashier   = "cashier-1"
)

// Cents returns a pointer to v, for the nullable money fields.
func Cents(v int64) *int64 {
	return &v
}

// CashSale returns a one-line sale paid exactly in cash.
func CashSale(shiftID string, amount int64) pos.SaleInput {
	return pos.SaleInput{
		WorkspaceID: Workspace,
		ShiftID:     shiftID,
		RegisterID:  Register,
		CashierID:   Cashier,
		Lines: []pos.LineItem{
			{ProductID: "prod-1", Name: "Coffee beans", SKU: "CB-1", Quantity: 1, UnitPrice: amount},
		},
		Payments: []pos.Payment{{Method: pos.PaymentMethodCash, Amount: amount}},
	}
}

// CardSale returns a one-line sale paid exactly by card.
func CardSale(shiftID string, amount int64) pos.SaleInput {
	in := CashSale(shiftID, amount)
	in.Payments = []pos.Payment{{Method: "CARD", Amount: amount, Reference: "auth-0001"}}
	return in
}

// OpenShift returns an OpenShiftInput for the fixture register.
func OpenShift(startingCash *int64) pos.OpenShiftInput {
	return pos.OpenShiftInput{
		WorkspaceID:  Workspace,
		RegisterID:   Register,
		OpenedBy:     Cashier,
		StartingCash: startingCash,
	}
}
