package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/tillsync/internal/pos"
)

// millis converts t to stored unix milliseconds.
func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// nullMillis converts an optional time to a nullable column value.
func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: millis(*t), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func fromNullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// marshalLines stores line items as a JSON column.
func marshalLines(lines []pos.LineItem) (string, error) {
	b, err := json.Marshal(lines)
	if err != nil {
		return "", fmt.Errorf("marshal lines: %w", err)
	}
	return string(b), nil
}

func unmarshalLines(s string) ([]pos.LineItem, error) {
	var lines []pos.LineItem
	if err := json.Unmarshal([]byte(s), &lines); err != nil {
		return nil, fmt.Errorf("unmarshal lines: %w", err)
	}
	return lines, nil
}

func marshalPayments(payments []pos.Payment) (string, error) {
	b, err := json.Marshal(payments)
	if err != nil {
		return "", fmt.Errorf("marshal payments: %w", err)
	}
	return string(b), nil
}

func unmarshalPayments(s string) ([]pos.Payment, error) {
	var payments []pos.Payment
	if err := json.Unmarshal([]byte(s), &payments); err != nil {
		return nil, fmt.Errorf("unmarshal payments: %w", err)
	}
	return payments, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const saleColumns = `id, workspace_id, shift_id, register_id, cashier_id, customer_id,
	lines, payments, subtotal, cart_discount, tax, grand_total, change_due, cash_received,
	status, idempotency_key, remote_invoice_id, remote_payment_id, receipt_number,
	last_sync_error, sync_attempts, synced_at, created_at`

func scanSale(row rowScanner) (pos.Sale, error) {
	var (
		sale      pos.Sale
		shiftID   sql.NullString
		lines     string
		payments  string
		syncedAt  sql.NullInt64
		createdAt int64
	)
	err := row.Scan(
		&sale.ID, &sale.WorkspaceID, &shiftID, &sale.RegisterID, &sale.CashierID, &sale.CustomerID,
		&lines, &payments, &sale.Subtotal, &sale.CartDiscount, &sale.Tax, &sale.GrandTotal,
		&sale.ChangeDue, &sale.CashReceived,
		&sale.Status, &sale.IdempotencyKey, &sale.RemoteInvoiceID, &sale.RemotePaymentID,
		&sale.ReceiptNumber, &sale.LastSyncError, &sale.SyncAttempts, &syncedAt, &createdAt,
	)
	if err != nil {
		return pos.Sale{}, err
	}
	sale.ShiftID = shiftID.String
	if sale.Lines, err = unmarshalLines(lines); err != nil {
		return pos.Sale{}, err
	}
	if sale.Payments, err = unmarshalPayments(payments); err != nil {
		return pos.Sale{}, err
	}
	sale.SyncedAt = fromNullMillis(syncedAt)
	sale.CreatedAt = fromMillis(createdAt)
	return sale, nil
}

const shiftColumns = `id, workspace_id, register_id, opened_by, opened_at, starting_cash,
	status, closed_at, closed_by, closing_cash, total_sales, total_cash_received,
	expected_cash, variance, notes, sync_status, remote_shift_id, last_sync_error`

func scanShift(row rowScanner) (pos.ShiftSession, error) {
	var (
		sh           pos.ShiftSession
		openedAt     int64
		startingCash sql.NullInt64
		closedAt     sql.NullInt64
		closingCash  sql.NullInt64
		expectedCash sql.NullInt64
		variance     sql.NullInt64
	)
	err := row.Scan(
		&sh.ID, &sh.WorkspaceID, &sh.RegisterID, &sh.OpenedBy, &openedAt, &startingCash,
		&sh.Status, &closedAt, &sh.ClosedBy, &closingCash, &sh.TotalSales, &sh.TotalCashReceived,
		&expectedCash, &variance, &sh.Notes, &sh.SyncStatus, &sh.RemoteShiftID, &sh.LastSyncError,
	)
	if err != nil {
		return pos.ShiftSession{}, err
	}
	sh.OpenedAt = fromMillis(openedAt)
	sh.StartingCash = fromNullInt(startingCash)
	sh.ClosedAt = fromNullMillis(closedAt)
	sh.ClosingCash = fromNullInt(closingCash)
	sh.ExpectedCash = fromNullInt(expectedCash)
	sh.Variance = fromNullInt(variance)
	return sh, nil
}

const cashEventColumns = `id, shift_id, workspace_id, seq, type, amount, reason, occurred_at,
	idempotency_key, sync_status, remote_id, last_error`

func scanCashEvent(row rowScanner) (pos.CashEvent, error) {
	var (
		ev         pos.CashEvent
		occurredAt int64
	)
	err := row.Scan(
		&ev.ID, &ev.ShiftID, &ev.WorkspaceID, &ev.Seq, &ev.Type, &ev.Amount, &ev.Reason,
		&occurredAt, &ev.IdempotencyKey, &ev.SyncStatus, &ev.RemoteID, &ev.LastError,
	)
	if err != nil {
		return pos.CashEvent{}, err
	}
	ev.OccurredAt = fromMillis(occurredAt)
	return ev, nil
}

const commandColumns = `id, seq, workspace_id, type, entity_id, payload, idempotency_key,
	fingerprint, status, fatal, replayed, attempts, created_at, last_attempted_at,
	next_attempt_at, last_error, dropped_at`

func scanCommand(row rowScanner) (pos.Command, error) {
	var (
		cmd           pos.Command
		payload       string
		fatal         int
		replayed      int
		createdAt     int64
		lastAttempted sql.NullInt64
		nextAttempt   sql.NullInt64
		droppedAt     sql.NullInt64
	)
	err := row.Scan(
		&cmd.ID, &cmd.Seq, &cmd.WorkspaceID, &cmd.Type, &cmd.EntityID, &payload,
		&cmd.IdempotencyKey, &cmd.Fingerprint, &cmd.Status, &fatal, &replayed, &cmd.Attempts,
		&createdAt, &lastAttempted, &nextAttempt, &cmd.LastError, &droppedAt,
	)
	if err != nil {
		return pos.Command{}, err
	}
	cmd.Payload = []byte(payload)
	cmd.Fatal = fatal != 0
	cmd.Replayed = replayed != 0
	cmd.CreatedAt = fromMillis(createdAt)
	cmd.LastAttemptedAt = fromNullMillis(lastAttempted)
	cmd.NextAttemptAt = fromNullMillis(nextAttempt)
	cmd.DroppedAt = fromNullMillis(droppedAt)
	return cmd, nil
}

const catalogColumns = `product_id, sku, name, barcode, price, taxable, status, estimated_qty`

func scanCatalogEntry(row rowScanner) (pos.CatalogEntry, error) {
	var (
		e       pos.CatalogEntry
		taxable int
	)
	if err := row.Scan(&e.ProductID, &e.SKU, &e.Name, &e.Barcode, &e.Price, &taxable, &e.Status, &e.EstimatedQty); err != nil {
		return pos.CatalogEntry{}, err
	}
	e.Taxable = taxable != 0
	return e, nil
}
