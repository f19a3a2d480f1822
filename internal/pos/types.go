package pos

import "time"

// SaleStatus is the sync lifecycle of a Sale.
type SaleStatus string

const (
	SalePendingSync SaleStatus = "PENDING_SYNC"
	SaleSynced      SaleStatus = "SYNCED"
	SaleFailed      SaleStatus = "FAILED"
)

// SyncStatus is the sync lifecycle of shift sessions and cash events.
type SyncStatus string

const (
	SyncPending SyncStatus = "PENDING"
	SyncSynced  SyncStatus = "SYNCED"
	SyncFailed  SyncStatus = "FAILED"
)

// ShiftStatus is the drawer state of a ShiftSession.
type ShiftStatus string

const (
	ShiftOpen   ShiftStatus = "OPEN"
	ShiftClosed ShiftStatus = "CLOSED"
)

// CashEventType distinguishes manual drawer movements.
type CashEventType string

const (
	PaidIn  CashEventType = "PAID_IN"
	PaidOut CashEventType = "PAID_OUT"
)

// Valid reports whether t is a known cash event type.
func (t CashEventType) Valid() bool {
	return t == PaidIn || t == PaidOut
}

// PaymentMethodCash is the only method that moves money in the drawer.
const PaymentMethodCash = "CASH"

// LineItem is one priced line of a sale.
type LineItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	SKU       string `json:"sku,omitempty"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Discount  int64  `json:"discount"`
	LineTotal int64  `json:"line_total"`
}

// Payment is one tender applied to a sale.
type Payment struct {
	Method    string `json:"method"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

// Sale is a finalized local transaction.
// Everything except the sync fields is immutable once written.
type Sale struct {
	ID             string     `json:"id"`
	WorkspaceID    string     `json:"workspace_id"`
	ShiftID        string     `json:"shift_id,omitempty"`
	RegisterID     string     `json:"register_id"`
	CashierID      string     `json:"cashier_id"`
	CustomerID     string     `json:"customer_id,omitempty"`
	Lines          []LineItem `json:"lines"`
	Subtotal       int64      `json:"subtotal"`
	CartDiscount   int64      `json:"cart_discount"`
	Tax            int64      `json:"tax"`
	GrandTotal     int64      `json:"grand_total"`
	Payments       []Payment  `json:"payments"`
	ChangeDue      int64      `json:"change_due"`
	CashReceived   int64      `json:"cash_received"`
	Status         SaleStatus `json:"status"`
	IdempotencyKey string     `json:"idempotency_key"`

	RemoteInvoiceID string     `json:"remote_invoice_id,omitempty"`
	RemotePaymentID string     `json:"remote_payment_id,omitempty"`
	ReceiptNumber   string     `json:"receipt_number,omitempty"`
	LastSyncError   string     `json:"last_sync_error,omitempty"`
	SyncAttempts    int        `json:"sync_attempts"`
	SyncedAt        *time.Time `json:"synced_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ShiftSession is one cash-drawer operating period for one register.
type ShiftSession struct {
	ID                string      `json:"id"`
	WorkspaceID       string      `json:"workspace_id"`
	RegisterID        string      `json:"register_id"`
	OpenedBy          string      `json:"opened_by"`
	OpenedAt          time.Time   `json:"opened_at"`
	StartingCash      *int64      `json:"starting_cash,omitempty"`
	Status            ShiftStatus `json:"status"`
	ClosedAt          *time.Time  `json:"closed_at,omitempty"`
	ClosedBy          string      `json:"closed_by,omitempty"`
	ClosingCash       *int64      `json:"closing_cash,omitempty"`
	TotalSales        int64       `json:"total_sales"`
	TotalCashReceived int64       `json:"total_cash_received"`
	ExpectedCash      *int64      `json:"expected_cash,omitempty"`
	Variance          *int64      `json:"variance,omitempty"`
	Notes             string      `json:"notes,omitempty"`

	SyncStatus    SyncStatus `json:"sync_status"`
	RemoteShiftID string     `json:"remote_shift_id,omitempty"`
	LastSyncError string     `json:"last_sync_error,omitempty"`
}

// CashEvent is a manual PAID_IN / PAID_OUT movement against an open shift.
type CashEvent struct {
	ID             string        `json:"id"`
	ShiftID        string        `json:"shift_id"`
	WorkspaceID    string        `json:"workspace_id"`
	Seq            int64         `json:"seq"`
	Type           CashEventType `json:"type"`
	Amount         int64         `json:"amount"`
	Reason         string        `json:"reason,omitempty"`
	OccurredAt     time.Time     `json:"occurred_at"`
	IdempotencyKey string        `json:"idempotency_key"`
	SyncStatus     SyncStatus    `json:"sync_status"`
	RemoteID       string        `json:"remote_id,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
}

// CatalogEntry is the offline read replica of one product.
type CatalogEntry struct {
	ProductID    string `json:"product_id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Barcode      string `json:"barcode,omitempty"`
	Price        int64  `json:"price"`
	Taxable      bool   `json:"taxable"`
	Status       string `json:"status"`
	EstimatedQty int64  `json:"estimated_qty"`
}

// CatalogState records when the snapshot was last pulled.
type CatalogState struct {
	LastPulledAt *time.Time `json:"last_pulled_at,omitempty"`
	Cursor       string     `json:"cursor,omitempty"`
	Entries      int        `json:"entries"`
}
