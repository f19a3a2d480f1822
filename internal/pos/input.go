package pos

// SaleInput is what the register hands the store at finalization.
// Line totals are computed by the store; any value set on LineTotal is ignored.
type SaleInput struct {
	WorkspaceID  string     `json:"workspace_id"`
	ShiftID      string     `json:"shift_id,omitempty"`
	RegisterID   string     `json:"register_id"`
	CashierID    string     `json:"cashier_id"`
	CustomerID   string     `json:"customer_id,omitempty"`
	Lines        []LineItem `json:"lines"`
	CartDiscount int64      `json:"cart_discount"`
	Tax          int64      `json:"tax"`
	Payments     []Payment  `json:"payments"`
}

// OpenShiftInput opens a drawer on a register.
type OpenShiftInput struct {
	WorkspaceID  string `json:"workspace_id"`
	RegisterID   string `json:"register_id"`
	OpenedBy     string `json:"opened_by"`
	StartingCash *int64 `json:"starting_cash,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// CloseShiftInput closes an open shift with an optional physical count.
type CloseShiftInput struct {
	ShiftID     string `json:"shift_id"`
	ClosedBy    string `json:"closed_by"`
	ClosingCash *int64 `json:"closing_cash,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// CashEventInput records a manual drawer movement.
type CashEventInput struct {
	ShiftID string        `json:"shift_id"`
	Type    CashEventType `json:"type"`
	Amount  int64         `json:"amount"`
	Reason  string        `json:"reason,omitempty"`
}
