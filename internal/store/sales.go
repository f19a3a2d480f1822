package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/tillsync/internal/idem"
	"github.com/roach88/tillsync/internal/money"
	"github.com/roach88/tillsync/internal/pos"
	"github.com/roach88/tillsync/internal/reconcile"
)

// FinalizeSale validates and prices a sale, then persists it as
// PENDING_SYNC together with its SaleFinalize command.
//
// Validation runs before any write, so a rejected sale leaves no trace.
// If the sale belongs to an OPEN shift, the shift's totals are updated in
// the same transaction.
func (s *Store) FinalizeSale(ctx context.Context, in pos.SaleInput) (pos.Sale, pos.Command, error) {
	if err := requireFields(map[string]string{
		"workspace_id": in.WorkspaceID,
		"register_id":  in.RegisterID,
		"cashier_id":   in.CashierID,
	}); err != nil {
		return pos.Sale{}, pos.Command{}, err
	}
	if len(in.Lines) == 0 {
		return pos.Sale{}, pos.Command{}, pos.NewValidationError(pos.ErrCodeEmptyCart, "sale has no lines")
	}

	totals, err := money.Build(in.Lines, in.CartDiscount, in.Tax)
	if err != nil {
		return pos.Sale{}, pos.Command{}, err
	}
	tendered, err := money.Tendered(in.Payments)
	if err != nil {
		return pos.Sale{}, pos.Command{}, err
	}
	if tendered < totals.GrandTotal {
		return pos.Sale{}, pos.Command{}, pos.NewValidationError(pos.ErrCodeInsufficientPayment,
			"payments total %d, grand total is %d", tendered, totals.GrandTotal)
	}
	changeDue := money.ChangeDue(tendered, totals.GrandTotal)

	lines := make([]pos.LineItem, len(in.Lines))
	for i, l := range in.Lines {
		l.LineTotal = totals.LineTotals[i]
		lines[i] = l
	}
	payments := append([]pos.Payment(nil), in.Payments...)

	var (
		sale pos.Sale
		cmd  pos.Command
	)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		shift, attached, err := s.resolveSaleShift(ctx, tx, in)
		if err != nil {
			return err
		}

		now := s.now()
		id := s.ids.NewID()
		key, err := idem.Derive(pos.CmdSaleFinalize, id)
		if err != nil {
			return err
		}
		sale = pos.Sale{
			ID:             id,
			WorkspaceID:    in.WorkspaceID,
			RegisterID:     in.RegisterID,
			CashierID:      in.CashierID,
			CustomerID:     in.CustomerID,
			Lines:          lines,
			Subtotal:       totals.Subtotal,
			CartDiscount:   totals.CartDiscount,
			Tax:            totals.Tax,
			GrandTotal:     totals.GrandTotal,
			Payments:       payments,
			ChangeDue:      changeDue,
			CashReceived:   money.CashReceived(payments, changeDue),
			Status:         pos.SalePendingSync,
			IdempotencyKey: key,
			CreatedAt:      now,
		}
		if attached {
			sale.ShiftID = shift.ID
		}

		if err := insertSale(ctx, tx, sale); err != nil {
			return err
		}

		if attached {
			if err := reconcile.ApplySale(&shift, sale.GrandTotal, sale.CashReceived); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `
				UPDATE shift_sessions SET total_sales = ?, total_cash_received = ?
				WHERE id = ? AND status = 'OPEN'
			`, shift.TotalSales, shift.TotalCashReceived, shift.ID)
			if err != nil {
				return fmt.Errorf("update shift totals: %w", err)
			}
		}

		for _, l := range sale.Lines {
			// Offline stock estimate; unknown products are simply not tracked.
			_, err := tx.ExecContext(ctx, `
				UPDATE catalog_entries SET estimated_qty = estimated_qty - ? WHERE product_id = ?
			`, l.Quantity, l.ProductID)
			if err != nil {
				return fmt.Errorf("decrement stock estimate: %w", err)
			}
		}

		payload, err := salePayload(sale)
		if err != nil {
			return fmt.Errorf("build sale payload: %w", err)
		}
		cmd, err = s.enqueue(ctx, tx, pos.CmdSaleFinalize, sale.WorkspaceID, sale.ID, key, payload)
		return err
	})
	if err != nil {
		return pos.Sale{}, pos.Command{}, err
	}
	return sale, cmd, nil
}

// resolveSaleShift finds the shift a sale attaches to. An explicit shift
// id must name an OPEN shift; otherwise the register's OPEN shift, if any,
// is used.
func (s *Store) resolveSaleShift(ctx context.Context, q querier, in pos.SaleInput) (pos.ShiftSession, bool, error) {
	if in.ShiftID != "" {
		shift, err := getShift(ctx, q, in.ShiftID)
		if errors.Is(err, pos.ErrNotFound) {
			return pos.ShiftSession{}, false, pos.NewValidationError(pos.ErrCodeShiftNotFound, "shift %s does not exist", in.ShiftID)
		}
		if err != nil {
			return pos.ShiftSession{}, false, err
		}
		if shift.Status != pos.ShiftOpen {
			return pos.ShiftSession{}, false, pos.NewValidationError(pos.ErrCodeShiftAlreadyClosed, "shift %s is closed", shift.ID)
		}
		if shift.RegisterID != in.RegisterID {
			return pos.ShiftSession{}, false, pos.NewValidationError(pos.ErrCodeShiftNotFound,
				"shift %s belongs to register %s, not %s", shift.ID, shift.RegisterID, in.RegisterID)
		}
		return shift, true, nil
	}

	shift, err := getOpenShift(ctx, q, in.RegisterID)
	if errors.Is(err, pos.ErrNotFound) {
		if s.requireOpenShift {
			return pos.ShiftSession{}, false, pos.NewValidationError(pos.ErrCodeShiftRequired, "register %s has no open shift", in.RegisterID)
		}
		return pos.ShiftSession{}, false, nil
	}
	if err != nil {
		return pos.ShiftSession{}, false, err
	}
	return shift, true, nil
}

func insertSale(ctx context.Context, q querier, sale pos.Sale) error {
	lines, err := marshalLines(sale.Lines)
	if err != nil {
		return err
	}
	payments, err := marshalPayments(sale.Payments)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO sales (id, workspace_id, shift_id, register_id, cashier_id, customer_id,
			lines, payments, subtotal, cart_discount, tax, grand_total, change_due, cash_received,
			status, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sale.ID, sale.WorkspaceID, nullString(sale.ShiftID), sale.RegisterID, sale.CashierID, sale.CustomerID,
		lines, payments, sale.Subtotal, sale.CartDiscount, sale.Tax, sale.GrandTotal, sale.ChangeDue,
		sale.CashReceived, sale.Status, sale.IdempotencyKey, millis(sale.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

// GetSale returns a sale by id.
// Returns an error wrapping pos.ErrNotFound if no sale matches.
func (s *Store) GetSale(ctx context.Context, id string) (pos.Sale, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id)
	sale, err := scanSale(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.Sale{}, fmt.Errorf("sale %s: %w", id, pos.ErrNotFound)
	}
	if err != nil {
		return pos.Sale{}, fmt.Errorf("get sale %s: %w", id, err)
	}
	return sale, nil
}

// ListSales returns the sales of a shift in creation order.
func (s *Store) ListSales(ctx context.Context, shiftID string) ([]pos.Sale, error) {
	return listSales(ctx, s.db, shiftID)
}

func listSales(ctx context.Context, q querier, shiftID string) ([]pos.Sale, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+saleColumns+` FROM sales
		WHERE shift_id = ?
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, shiftID)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	var sales []pos.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sales: %w", err)
	}
	return sales, nil
}

// requireFields fails MISSING_FIELD for the first empty value, in name order.
func requireFields(fields map[string]string) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if fields[name] == "" {
			return pos.NewValidationError(pos.ErrCodeMissingField, "%s is required", name)
		}
	}
	return nil
}
