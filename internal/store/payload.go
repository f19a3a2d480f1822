package store

import (
	"time"

	"github.com/roach88/tillsync/internal/canonical"
	"github.com/roach88/tillsync/internal/pos"
)

// wireTime is the timestamp layout used inside command payloads.
const wireTime = "2006-01-02T15:04:05.000Z07:00"

func formatWireTime(t time.Time) string {
	return t.UTC().Format(wireTime)
}

// setOptional adds key only when v is non-empty; canonical JSON has no null.
func setOptional(obj canonical.Object, key, v string) {
	if v != "" {
		obj[key] = v
	}
}

func setOptionalInt(obj canonical.Object, key string, v *int64) {
	if v != nil {
		obj[key] = *v
	}
}

// salePayload is the body sent to POST sync/sale.
func salePayload(sale pos.Sale) ([]byte, error) {
	lines := make(canonical.Array, 0, len(sale.Lines))
	for _, l := range sale.Lines {
		line := canonical.Object{
			"productId": l.ProductID,
			"name":      l.Name,
			"quantity":  l.Quantity,
			"unitPrice": l.UnitPrice,
			"discount":  l.Discount,
			"lineTotal": l.LineTotal,
		}
		setOptional(line, "sku", l.SKU)
		lines = append(lines, line)
	}

	payments := make(canonical.Array, 0, len(sale.Payments))
	for _, p := range sale.Payments {
		pay := canonical.Object{
			"method": p.Method,
			"amount": p.Amount,
		}
		setOptional(pay, "reference", p.Reference)
		payments = append(payments, pay)
	}

	obj := canonical.Object{
		"idempotencyKey": sale.IdempotencyKey,
		"saleId":         sale.ID,
		"workspaceId":    sale.WorkspaceID,
		"registerId":     sale.RegisterID,
		"cashierId":      sale.CashierID,
		"lines":          lines,
		"subtotal":       sale.Subtotal,
		"cartDiscount":   sale.CartDiscount,
		"tax":            sale.Tax,
		"grandTotal":     sale.GrandTotal,
		"payments":       payments,
		"changeDue":      sale.ChangeDue,
		"createdAt":      formatWireTime(sale.CreatedAt),
	}
	setOptional(obj, "shiftId", sale.ShiftID)
	setOptional(obj, "customerId", sale.CustomerID)
	return canonical.Marshal(obj)
}

// shiftOpenPayload is the body sent to POST sync/shift-open.
func shiftOpenPayload(key string, sh pos.ShiftSession) ([]byte, error) {
	obj := canonical.Object{
		"idempotencyKey": key,
		"shiftId":        sh.ID,
		"workspaceId":    sh.WorkspaceID,
		"registerId":     sh.RegisterID,
		"openedBy":       sh.OpenedBy,
		"openedAt":       formatWireTime(sh.OpenedAt),
	}
	setOptionalInt(obj, "startingCash", sh.StartingCash)
	setOptional(obj, "notes", sh.Notes)
	return canonical.Marshal(obj)
}

// shiftClosePayload is the body sent to POST sync/shift-close.
func shiftClosePayload(key string, sh pos.ShiftSession, paidIn, paidOut int64) ([]byte, error) {
	obj := canonical.Object{
		"idempotencyKey":    key,
		"shiftId":           sh.ID,
		"workspaceId":       sh.WorkspaceID,
		"registerId":        sh.RegisterID,
		"closedBy":          sh.ClosedBy,
		"totalSales":        sh.TotalSales,
		"totalCashReceived": sh.TotalCashReceived,
		"paidIn":            paidIn,
		"paidOut":           paidOut,
	}
	if sh.ClosedAt != nil {
		obj["closedAt"] = formatWireTime(*sh.ClosedAt)
	}
	setOptionalInt(obj, "closingCash", sh.ClosingCash)
	setOptionalInt(obj, "expectedCash", sh.ExpectedCash)
	setOptionalInt(obj, "variance", sh.Variance)
	setOptional(obj, "notes", sh.Notes)
	return canonical.Marshal(obj)
}

// cashEventPayload is the body sent to POST sync/shift-cash-event.
func cashEventPayload(ev pos.CashEvent) ([]byte, error) {
	obj := canonical.Object{
		"idempotencyKey": ev.IdempotencyKey,
		"eventId":        ev.ID,
		"shiftId":        ev.ShiftID,
		"workspaceId":    ev.WorkspaceID,
		"seq":            ev.Seq,
		"type":           string(ev.Type),
		"amount":         ev.Amount,
		"occurredAt":     formatWireTime(ev.OccurredAt),
	}
	setOptional(obj, "reason", ev.Reason)
	return canonical.Marshal(obj)
}
