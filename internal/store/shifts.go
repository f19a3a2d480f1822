package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/tillsync/internal/idem"
	"github.com/roach88/tillsync/internal/pos"
	"github.com/roach88/tillsync/internal/reconcile"
)

// OpenShift opens a drawer session on a register and enqueues its
// ShiftOpen command. Fails SHIFT_ALREADY_OPEN, leaving the existing
// session untouched, if the register already has one OPEN.
func (s *Store) OpenShift(ctx context.Context, in pos.OpenShiftInput) (pos.ShiftSession, pos.Command, error) {
	if err := requireFields(map[string]string{
		"workspace_id": in.WorkspaceID,
		"register_id":  in.RegisterID,
		"opened_by":    in.OpenedBy,
	}); err != nil {
		return pos.ShiftSession{}, pos.Command{}, err
	}
	if in.StartingCash != nil && *in.StartingCash < 0 {
		return pos.ShiftSession{}, pos.Command{}, pos.NewValidationError(pos.ErrCodeInvalidAmount,
			"starting cash must not be negative, got %d", *in.StartingCash)
	}

	var (
		shift pos.ShiftSession
		cmd   pos.Command
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getOpenShift(ctx, tx, in.RegisterID)
		if err == nil {
			return pos.NewValidationError(pos.ErrCodeShiftAlreadyOpen,
				"register %s already has open shift %s", in.RegisterID, existing.ID)
		}
		if !errors.Is(err, pos.ErrNotFound) {
			return err
		}

		shift = pos.ShiftSession{
			ID:           s.ids.NewID(),
			WorkspaceID:  in.WorkspaceID,
			RegisterID:   in.RegisterID,
			OpenedBy:     in.OpenedBy,
			OpenedAt:     s.now(),
			StartingCash: in.StartingCash,
			Status:       pos.ShiftOpen,
			Notes:        in.Notes,
			SyncStatus:   pos.SyncPending,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO shift_sessions (id, workspace_id, register_id, opened_by, opened_at,
				starting_cash, status, notes, sync_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, shift.ID, shift.WorkspaceID, shift.RegisterID, shift.OpenedBy, millis(shift.OpenedAt),
			nullInt(shift.StartingCash), shift.Status, shift.Notes, shift.SyncStatus)
		if isUniqueViolation(err) {
			return pos.NewValidationError(pos.ErrCodeShiftAlreadyOpen, "register %s already has an open shift", in.RegisterID)
		}
		if err != nil {
			return fmt.Errorf("insert shift: %w", err)
		}

		key, err := idem.Derive(pos.CmdShiftOpen, shift.ID)
		if err != nil {
			return err
		}
		payload, err := shiftOpenPayload(key, shift)
		if err != nil {
			return fmt.Errorf("build shift-open payload: %w", err)
		}
		cmd, err = s.enqueue(ctx, tx, pos.CmdShiftOpen, shift.WorkspaceID, shift.ID, key, payload)
		return err
	})
	if err != nil {
		return pos.ShiftSession{}, pos.Command{}, err
	}
	return shift, cmd, nil
}

// CloseShift closes an OPEN shift irreversibly, freezing expected cash and
// variance, and enqueues its ShiftClose command.
func (s *Store) CloseShift(ctx context.Context, in pos.CloseShiftInput) (pos.ShiftSession, pos.Command, error) {
	if err := requireFields(map[string]string{
		"shift_id":  in.ShiftID,
		"closed_by": in.ClosedBy,
	}); err != nil {
		return pos.ShiftSession{}, pos.Command{}, err
	}
	if in.ClosingCash != nil && *in.ClosingCash < 0 {
		return pos.ShiftSession{}, pos.Command{}, pos.NewValidationError(pos.ErrCodeInvalidAmount,
			"closing cash must not be negative, got %d", *in.ClosingCash)
	}

	var (
		shift pos.ShiftSession
		cmd   pos.Command
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		shift, err = loadOpenShift(ctx, tx, in.ShiftID)
		if err != nil {
			return err
		}
		events, err := listCashEvents(ctx, tx, shift.ID)
		if err != nil {
			return err
		}
		if err := reconcile.Close(&shift, events, in); err != nil {
			return err
		}
		closedAt := s.now()
		shift.ClosedAt = &closedAt

		res, err := tx.ExecContext(ctx, `
			UPDATE shift_sessions SET
				status = ?, closed_at = ?, closed_by = ?, closing_cash = ?,
				expected_cash = ?, variance = ?, notes = ?
			WHERE id = ? AND status = 'OPEN'
		`, shift.Status, millis(closedAt), shift.ClosedBy, nullInt(shift.ClosingCash),
			nullInt(shift.ExpectedCash), nullInt(shift.Variance), shift.Notes, shift.ID)
		if err != nil {
			return fmt.Errorf("close shift: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		} else if n != 1 {
			return pos.NewValidationError(pos.ErrCodeShiftAlreadyClosed, "shift %s is already closed", shift.ID)
		}

		key, err := idem.Derive(pos.CmdShiftClose, shift.ID)
		if err != nil {
			return err
		}
		paidIn, paidOut := reconcile.CashEventTotals(events)
		payload, err := shiftClosePayload(key, shift, paidIn, paidOut)
		if err != nil {
			return fmt.Errorf("build shift-close payload: %w", err)
		}
		cmd, err = s.enqueue(ctx, tx, pos.CmdShiftClose, shift.WorkspaceID, shift.ID, key, payload)
		return err
	})
	if err != nil {
		return pos.ShiftSession{}, pos.Command{}, err
	}
	return shift, cmd, nil
}

// RecordCashEvent records a PAID_IN / PAID_OUT movement on an OPEN shift
// and enqueues its ShiftCashEvent command.
func (s *Store) RecordCashEvent(ctx context.Context, in pos.CashEventInput) (pos.CashEvent, pos.Command, error) {
	if err := requireFields(map[string]string{"shift_id": in.ShiftID}); err != nil {
		return pos.CashEvent{}, pos.Command{}, err
	}
	if !in.Type.Valid() {
		return pos.CashEvent{}, pos.Command{}, pos.NewValidationError(pos.ErrCodeInvalidCashEventType,
			"cash event type must be PAID_IN or PAID_OUT, got %q", in.Type)
	}
	if in.Amount <= 0 {
		return pos.CashEvent{}, pos.Command{}, pos.NewValidationError(pos.ErrCodeInvalidAmount,
			"cash event amount must be positive, got %d", in.Amount)
	}

	var (
		ev  pos.CashEvent
		cmd pos.Command
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		shift, err := loadOpenShift(ctx, tx, in.ShiftID)
		if err != nil {
			return err
		}

		var seq int64
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(seq), 0) + 1 FROM cash_events WHERE shift_id = ?
		`, shift.ID).Scan(&seq); err != nil {
			return fmt.Errorf("next cash event seq: %w", err)
		}

		id := s.ids.NewID()
		key, err := idem.Derive(pos.CmdShiftCashEvent, id)
		if err != nil {
			return err
		}
		ev = pos.CashEvent{
			ID:             id,
			ShiftID:        shift.ID,
			WorkspaceID:    shift.WorkspaceID,
			Seq:            seq,
			Type:           in.Type,
			Amount:         in.Amount,
			Reason:         in.Reason,
			OccurredAt:     s.now(),
			IdempotencyKey: key,
			SyncStatus:     pos.SyncPending,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cash_events (id, shift_id, workspace_id, seq, type, amount, reason,
				occurred_at, idempotency_key, sync_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, ev.ID, ev.ShiftID, ev.WorkspaceID, ev.Seq, ev.Type, ev.Amount, ev.Reason,
			millis(ev.OccurredAt), ev.IdempotencyKey, ev.SyncStatus)
		if err != nil {
			return fmt.Errorf("insert cash event: %w", err)
		}

		payload, err := cashEventPayload(ev)
		if err != nil {
			return fmt.Errorf("build cash event payload: %w", err)
		}
		cmd, err = s.enqueue(ctx, tx, pos.CmdShiftCashEvent, ev.WorkspaceID, ev.ID, key, payload)
		return err
	})
	if err != nil {
		return pos.CashEvent{}, pos.Command{}, err
	}
	return ev, cmd, nil
}

// loadOpenShift loads a shift for mutation, mapping a missing or closed
// shift to the matching validation error.
func loadOpenShift(ctx context.Context, q querier, id string) (pos.ShiftSession, error) {
	shift, err := getShift(ctx, q, id)
	if errors.Is(err, pos.ErrNotFound) {
		return pos.ShiftSession{}, pos.NewValidationError(pos.ErrCodeShiftNotFound, "shift %s does not exist", id)
	}
	if err != nil {
		return pos.ShiftSession{}, err
	}
	if shift.Status != pos.ShiftOpen {
		return pos.ShiftSession{}, pos.NewValidationError(pos.ErrCodeShiftAlreadyClosed, "shift %s is already closed", id)
	}
	return shift, nil
}

func getShift(ctx context.Context, q querier, id string) (pos.ShiftSession, error) {
	row := q.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shift_sessions WHERE id = ?`, id)
	shift, err := scanShift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.ShiftSession{}, fmt.Errorf("shift %s: %w", id, pos.ErrNotFound)
	}
	if err != nil {
		return pos.ShiftSession{}, fmt.Errorf("get shift %s: %w", id, err)
	}
	return shift, nil
}

func getOpenShift(ctx context.Context, q querier, registerID string) (pos.ShiftSession, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM shift_sessions
		WHERE register_id = ? AND status = 'OPEN'
	`, registerID)
	shift, err := scanShift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.ShiftSession{}, fmt.Errorf("open shift for register %s: %w", registerID, pos.ErrNotFound)
	}
	if err != nil {
		return pos.ShiftSession{}, fmt.Errorf("get open shift for register %s: %w", registerID, err)
	}
	return shift, nil
}

// GetShift returns a shift by id.
// Returns an error wrapping pos.ErrNotFound if no shift matches.
func (s *Store) GetShift(ctx context.Context, id string) (pos.ShiftSession, error) {
	return getShift(ctx, s.db, id)
}

// GetCurrentOpenShift returns the register's OPEN shift.
// Returns an error wrapping pos.ErrNotFound if the register has none.
func (s *Store) GetCurrentOpenShift(ctx context.Context, registerID string) (pos.ShiftSession, error) {
	return getOpenShift(ctx, s.db, registerID)
}

// ListCashEvents returns the cash events of a shift in seq order.
func (s *Store) ListCashEvents(ctx context.Context, shiftID string) ([]pos.CashEvent, error) {
	return listCashEvents(ctx, s.db, shiftID)
}

func listCashEvents(ctx context.Context, q querier, shiftID string) ([]pos.CashEvent, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+cashEventColumns+` FROM cash_events
		WHERE shift_id = ?
		ORDER BY seq ASC
	`, shiftID)
	if err != nil {
		return nil, fmt.Errorf("list cash events: %w", err)
	}
	defer rows.Close()

	var events []pos.CashEvent
	for rows.Next() {
		ev, err := scanCashEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cash event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cash events: %w", err)
	}
	return events, nil
}

// VerifyShift recomputes a shift's totals from its recorded sales.
// A mismatch is returned as a pos.InvariantError and never repaired.
func (s *Store) VerifyShift(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		shift, err := getShift(ctx, tx, id)
		if err != nil {
			return err
		}
		sales, err := listSales(ctx, tx, id)
		if err != nil {
			return err
		}
		return reconcile.Verify(shift, sales, func(sale pos.Sale) int64 { return sale.CashReceived })
	})
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
