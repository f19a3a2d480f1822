package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/tillsync/internal/idem"
	"github.com/roach88/tillsync/internal/outbox"
	"github.com/roach88/tillsync/internal/pos"
)

// liveCondition matches commands the dispatcher still owes the ledger:
// anything not yet terminal.
const liveCondition = `(status IN ('PENDING', 'IN_FLIGHT', 'CONFLICT')
	OR (status = 'FAILED' AND fatal = 0 AND dropped_at IS NULL))`

// enqueue writes a PENDING command for entityID inside tx.
//
// Re-enqueueing an existing key returns the stored command unchanged when
// the payload fingerprint matches, and an InvariantError when it does not:
// the same key must never describe two different mutations.
func (s *Store) enqueue(ctx context.Context, q querier, typ pos.CommandType, workspaceID, entityID, key string, payload []byte) (pos.Command, error) {
	want, err := idem.Derive(typ, entityID)
	if err != nil {
		return pos.Command{}, err
	}
	if key != want {
		return pos.Command{}, &pos.InvariantError{
			Entity:  "command",
			ID:      key,
			Message: fmt.Sprintf("idempotency key does not derive from entity %s (want %s)", entityID, want),
		}
	}

	now := s.now()
	cmd := pos.Command{
		ID:             s.ids.NewID(),
		WorkspaceID:    workspaceID,
		Type:           typ,
		EntityID:       entityID,
		Payload:        payload,
		IdempotencyKey: key,
		Fingerprint:    idem.Fingerprint(payload),
		Status:         pos.CommandPending,
		CreatedAt:      now,
	}

	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM commands`).Scan(&cmd.Seq); err != nil {
		return pos.Command{}, fmt.Errorf("next command seq: %w", err)
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO commands (id, seq, workspace_id, type, entity_id, payload, idempotency_key,
			fingerprint, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`, cmd.ID, cmd.Seq, cmd.WorkspaceID, cmd.Type, cmd.EntityID, string(cmd.Payload),
		cmd.IdempotencyKey, cmd.Fingerprint, cmd.Status, millis(now))
	if err != nil {
		return pos.Command{}, fmt.Errorf("insert command: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return pos.Command{}, fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		existing, err := getCommandByKey(ctx, q, key)
		if err != nil {
			return pos.Command{}, err
		}
		if existing.Fingerprint != cmd.Fingerprint {
			return pos.Command{}, &pos.InvariantError{
				Entity:  "command",
				ID:      existing.ID,
				Message: fmt.Sprintf("key %s re-enqueued with a different payload", key),
			}
		}
		return existing, nil
	}

	if err := recordTransition(ctx, q, cmd.ID, "", pos.CommandPending, now, "enqueued"); err != nil {
		return pos.Command{}, err
	}
	return cmd, nil
}

func recordTransition(ctx context.Context, q querier, commandID string, from, to pos.CommandStatus, at time.Time, note string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO command_transitions (command_id, from_status, to_status, at, note)
		VALUES (?, ?, ?, ?, ?)
	`, commandID, from, to, millis(at), note)
	if err != nil {
		return fmt.Errorf("record transition %s -> %s: %w", from, to, err)
	}
	return nil
}

func getCommand(ctx context.Context, q querier, id string) (pos.Command, error) {
	row := q.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = ?`, id)
	cmd, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.Command{}, fmt.Errorf("command %s: %w", id, pos.ErrNotFound)
	}
	if err != nil {
		return pos.Command{}, fmt.Errorf("get command %s: %w", id, err)
	}
	return cmd, nil
}

func getCommandByKey(ctx context.Context, q querier, key string) (pos.Command, error) {
	row := q.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE idempotency_key = ?`, key)
	cmd, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.Command{}, fmt.Errorf("command with key %s: %w", key, pos.ErrNotFound)
	}
	if err != nil {
		return pos.Command{}, fmt.Errorf("get command by key %s: %w", key, err)
	}
	return cmd, nil
}

// GetCommand returns a command by id.
// Returns an error wrapping pos.ErrNotFound if no command matches.
func (s *Store) GetCommand(ctx context.Context, id string) (pos.Command, error) {
	return getCommand(ctx, s.db, id)
}

// ListCommands returns commands matching filter in admission order.
func (s *Store) ListCommands(ctx context.Context, filter pos.CommandFilter) ([]pos.Command, error) {
	var (
		where []string
		args  []any
	)
	if filter.WorkspaceID != "" {
		where = append(where, "workspace_id = ?")
		args = append(args, filter.WorkspaceID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}

	query := `SELECT ` + commandColumns + ` FROM commands`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC, id COLLATE BINARY ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	var cmds []pos.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		cmds = append(cmds, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commands: %w", err)
	}
	return cmds, nil
}

// PendingWorkspaces returns every workspace with at least one live command.
func (s *Store) PendingWorkspaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT workspace_id FROM commands
		WHERE `+liveCondition+`
		ORDER BY workspace_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("pending workspaces: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ws string
		if err := rows.Scan(&ws); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// HeadCommand returns the oldest live command of a workspace, or false
// when the workspace has nothing left to send. Fatal and dropped commands
// are terminal and never become the head.
func (s *Store) HeadCommand(ctx context.Context, workspaceID string) (pos.Command, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+commandColumns+` FROM commands
		WHERE workspace_id = ? AND `+liveCondition+`
		ORDER BY seq ASC
		LIMIT 1
	`, workspaceID)
	cmd, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.Command{}, false, nil
	}
	if err != nil {
		return pos.Command{}, false, fmt.Errorf("head command for %s: %w", workspaceID, err)
	}
	return cmd, true, nil
}

// NextAttemptAt returns the earliest backoff deadline among retryable
// FAILED commands, or nil when none is waiting.
func (s *Store) NextAttemptAt(ctx context.Context) (*time.Time, error) {
	var next sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(next_attempt_at) FROM commands
		WHERE status = 'FAILED' AND fatal = 0 AND dropped_at IS NULL
	`).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("next attempt: %w", err)
	}
	return fromNullMillis(next), nil
}

// transition moves a command from its current status to `to` after
// checking the edge is allowed, and records the audit row.
func (s *Store) transition(ctx context.Context, q querier, cmd *pos.Command, to pos.CommandStatus, at time.Time, note string) error {
	if err := outbox.CheckTransition(cmd.ID, cmd.Status, to); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `UPDATE commands SET status = ? WHERE id = ? AND status = ?`, to, cmd.ID, cmd.Status)
	if err != nil {
		return fmt.Errorf("update command %s status: %w", cmd.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("command %s changed status concurrently: %w", cmd.ID, pos.ErrInvalidTransition)
	}
	if err := recordTransition(ctx, q, cmd.ID, cmd.Status, to, at, note); err != nil {
		return err
	}
	cmd.Status = to
	return nil
}

// ClaimCommand moves a PENDING command to IN_FLIGHT.
// Returns pos.ErrCommandNotClaimable if the command is in any other status.
func (s *Store) ClaimCommand(ctx context.Context, id string) (pos.Command, error) {
	var cmd pos.Command
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		cmd, err = getCommand(ctx, tx, id)
		if err != nil {
			return err
		}
		if cmd.Status != pos.CommandPending {
			return fmt.Errorf("claim %s in status %s: %w", id, cmd.Status, pos.ErrCommandNotClaimable)
		}
		now := s.now()
		if err := s.transition(ctx, tx, &cmd, pos.CommandInFlight, now, "claimed"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE commands SET last_attempted_at = ? WHERE id = ?`, millis(now), id); err != nil {
			return fmt.Errorf("stamp attempt: %w", err)
		}
		cmd.LastAttemptedAt = &now
		return nil
	})
	if err != nil {
		return pos.Command{}, err
	}
	return cmd, nil
}

// ReleaseCommand returns an IN_FLIGHT command to PENDING without counting
// an attempt. Used when a dispatch is cancelled before an outcome exists.
func (s *Store) ReleaseCommand(ctx context.Context, id, note string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		cmd, err := getCommand(ctx, tx, id)
		if err != nil {
			return err
		}
		return s.transition(ctx, tx, &cmd, pos.CommandPending, s.now(), note)
	})
}

// PromoteCommand returns a retryable FAILED command whose backoff has
// elapsed to PENDING so it can be claimed again.
func (s *Store) PromoteCommand(ctx context.Context, id string) (pos.Command, error) {
	var cmd pos.Command
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		cmd, err = getCommand(ctx, tx, id)
		if err != nil {
			return err
		}
		if !cmd.Retryable() {
			return fmt.Errorf("promote %s: not a retryable failure: %w", id, pos.ErrInvalidTransition)
		}
		now := s.now()
		if cmd.NextAttemptAt != nil && cmd.NextAttemptAt.After(now) {
			return fmt.Errorf("promote %s: backoff until %s: %w", id, cmd.NextAttemptAt.Format(time.RFC3339), pos.ErrInvalidTransition)
		}
		if err := s.transition(ctx, tx, &cmd, pos.CommandPending, now, "backoff elapsed"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE commands SET next_attempt_at = NULL WHERE id = ?`, id); err != nil {
			return fmt.Errorf("clear backoff: %w", err)
		}
		cmd.NextAttemptAt = nil
		return nil
	})
	if err != nil {
		return pos.Command{}, err
	}
	return cmd, nil
}

// ApplyOutcome records the result of one dispatch attempt on an IN_FLIGHT
// command and its owning entity, in one transaction.
//
// nextAttemptAt is only used for Retryable outcomes. The caller decides
// whether a retryable failure has exhausted its attempts and passes a
// Fatal outcome instead.
func (s *Store) ApplyOutcome(ctx context.Context, id string, out outbox.Outcome, nextAttemptAt time.Time) (pos.Command, error) {
	var cmd pos.Command
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		cmd, err = getCommand(ctx, tx, id)
		if err != nil {
			return err
		}
		if cmd.Status != pos.CommandInFlight {
			return fmt.Errorf("apply outcome to %s in status %s: %w", id, cmd.Status, pos.ErrInvalidTransition)
		}

		now := s.now()
		cmd.Attempts++

		switch out.Kind {
		case outbox.Succeeded:
			if err := s.transition(ctx, tx, &cmd, pos.CommandSucceeded, now, "ledger accepted"); err != nil {
				return err
			}
			cmd.LastError = ""
			cmd.NextAttemptAt = nil
			if err := markEntitySynced(ctx, tx, cmd, out.Remote, now); err != nil {
				return err
			}

		case outbox.Replayed:
			if err := s.transition(ctx, tx, &cmd, pos.CommandConflict, now, "ledger reports "+out.Code); err != nil {
				return err
			}
			if err := s.transition(ctx, tx, &cmd, pos.CommandSucceeded, now, "replay accepted as prior success"); err != nil {
				return err
			}
			cmd.Replayed = true
			cmd.LastError = ""
			cmd.NextAttemptAt = nil
			if err := markEntitySynced(ctx, tx, cmd, out.Remote, now); err != nil {
				return err
			}

		case outbox.Retryable:
			if err := s.transition(ctx, tx, &cmd, pos.CommandFailed, now, "retryable: "+out.Err()); err != nil {
				return err
			}
			next := nextAttemptAt.UTC().Truncate(time.Millisecond)
			cmd.Fatal = false
			cmd.LastError = out.Err()
			cmd.NextAttemptAt = &next
			if err := markEntityFailed(ctx, tx, cmd, "will retry: "+out.Err()); err != nil {
				return err
			}

		case outbox.Fatal:
			if err := s.transition(ctx, tx, &cmd, pos.CommandFailed, now, "fatal: "+out.Err()); err != nil {
				return err
			}
			cmd.Fatal = true
			cmd.LastError = out.Err()
			cmd.NextAttemptAt = nil
			if err := markEntityFailed(ctx, tx, cmd, out.Err()); err != nil {
				return err
			}

		default:
			return fmt.Errorf("apply outcome to %s: unknown outcome kind %d", id, out.Kind)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE commands
			SET attempts = ?, fatal = ?, replayed = ?, last_error = ?, next_attempt_at = ?
			WHERE id = ?
		`, cmd.Attempts, boolInt(cmd.Fatal), boolInt(cmd.Replayed), cmd.LastError, nullMillis(cmd.NextAttemptAt), id)
		if err != nil {
			return fmt.Errorf("update command %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return pos.Command{}, err
	}
	return cmd, nil
}

// markEntitySynced flips the owning entity to synced and stores whatever
// remote ids the ledger supplied. Empty ids never overwrite known ones.
func markEntitySynced(ctx context.Context, q querier, cmd pos.Command, remote outbox.Remote, now time.Time) error {
	var (
		res sql.Result
		err error
	)
	switch cmd.Type {
	case pos.CmdSaleFinalize:
		res, err = q.ExecContext(ctx, `
			UPDATE sales SET
				status = ?,
				remote_invoice_id = COALESCE(?, remote_invoice_id),
				remote_payment_id = COALESCE(?, remote_payment_id),
				receipt_number = COALESCE(?, receipt_number),
				last_sync_error = '',
				sync_attempts = sync_attempts + 1,
				synced_at = ?
			WHERE id = ?
		`, pos.SaleSynced, nullString(remote.InvoiceID), nullString(remote.PaymentID),
			nullString(remote.ReceiptNumber), millis(now), cmd.EntityID)
	case pos.CmdShiftOpen, pos.CmdShiftClose:
		res, err = q.ExecContext(ctx, `
			UPDATE shift_sessions SET
				sync_status = ?,
				remote_shift_id = COALESCE(?, remote_shift_id),
				last_sync_error = ''
			WHERE id = ?
		`, pos.SyncSynced, nullString(remote.ID), cmd.EntityID)
	case pos.CmdShiftCashEvent:
		res, err = q.ExecContext(ctx, `
			UPDATE cash_events SET
				sync_status = ?,
				remote_id = COALESCE(?, remote_id),
				last_error = ''
			WHERE id = ?
		`, pos.SyncSynced, nullString(remote.ID), cmd.EntityID)
	default:
		return fmt.Errorf("mark synced: unknown command type %q", cmd.Type)
	}
	return checkEntityUpdated(res, err, cmd)
}

func markEntityFailed(ctx context.Context, q querier, cmd pos.Command, msg string) error {
	var (
		res sql.Result
		err error
	)
	switch cmd.Type {
	case pos.CmdSaleFinalize:
		res, err = q.ExecContext(ctx, `
			UPDATE sales SET status = ?, last_sync_error = ?, sync_attempts = sync_attempts + 1
			WHERE id = ?
		`, pos.SaleFailed, msg, cmd.EntityID)
	case pos.CmdShiftOpen, pos.CmdShiftClose:
		res, err = q.ExecContext(ctx, `
			UPDATE shift_sessions SET sync_status = ?, last_sync_error = ? WHERE id = ?
		`, pos.SyncFailed, msg, cmd.EntityID)
	case pos.CmdShiftCashEvent:
		res, err = q.ExecContext(ctx, `
			UPDATE cash_events SET sync_status = ?, last_error = ? WHERE id = ?
		`, pos.SyncFailed, msg, cmd.EntityID)
	default:
		return fmt.Errorf("mark failed: unknown command type %q", cmd.Type)
	}
	return checkEntityUpdated(res, err, cmd)
}

func checkEntityUpdated(res sql.Result, err error, cmd pos.Command) error {
	if err != nil {
		return fmt.Errorf("update entity %s for command %s: %w", cmd.EntityID, cmd.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n != 1 {
		return &pos.InvariantError{
			Entity:  "command",
			ID:      cmd.ID,
			Message: fmt.Sprintf("owning %s entity %s does not exist", cmd.Type, cmd.EntityID),
		}
	}
	return nil
}

// RecoverInFlight returns every IN_FLIGHT command to PENDING.
// Called once on boot, before the dispatcher starts: a command left
// IN_FLIGHT was interrupted and its outcome is unknown, so it is resent
// under the same idempotency key.
func (s *Store) RecoverInFlight(ctx context.Context) (int, error) {
	var recovered int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE status = 'IN_FLIGHT' ORDER BY seq ASC`)
		if err != nil {
			return fmt.Errorf("query in-flight commands: %w", err)
		}
		var cmds []pos.Command
		for rows.Next() {
			cmd, err := scanCommand(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan command: %w", err)
			}
			cmds = append(cmds, cmd)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate commands: %w", err)
		}
		rows.Close()

		now := s.now()
		for i := range cmds {
			if err := s.transition(ctx, tx, &cmds[i], pos.CommandPending, now, "recovered after restart"); err != nil {
				return err
			}
		}
		recovered = len(cmds)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return recovered, nil
}

// RetryFailedCommand returns a FAILED command to PENDING on operator
// request, clearing its fatal flag and backoff.
// Returns pos.ErrCommandDropped for dropped commands.
func (s *Store) RetryFailedCommand(ctx context.Context, id string) (pos.Command, error) {
	var cmd pos.Command
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		cmd, err = getCommand(ctx, tx, id)
		if err != nil {
			return err
		}
		return s.retryFailed(ctx, tx, &cmd)
	})
	if err != nil {
		return pos.Command{}, err
	}
	return cmd, nil
}

func (s *Store) retryFailed(ctx context.Context, q querier, cmd *pos.Command) error {
	if cmd.Dropped() {
		return fmt.Errorf("retry %s: %w", cmd.ID, pos.ErrCommandDropped)
	}
	if cmd.Status != pos.CommandFailed {
		return fmt.Errorf("retry %s in status %s: %w", cmd.ID, cmd.Status, pos.ErrInvalidTransition)
	}
	if err := s.transition(ctx, q, cmd, pos.CommandPending, s.now(), "operator retry"); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `UPDATE commands SET fatal = 0, next_attempt_at = NULL WHERE id = ?`, cmd.ID); err != nil {
		return fmt.Errorf("reset command %s: %w", cmd.ID, err)
	}
	cmd.Fatal = false
	cmd.NextAttemptAt = nil
	return nil
}

// RetryFailedCommands retries every FAILED command that was not dropped
// and returns them in admission order.
func (s *Store) RetryFailedCommands(ctx context.Context) ([]pos.Command, error) {
	var retried []pos.Command
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+commandColumns+` FROM commands
			WHERE status = 'FAILED' AND dropped_at IS NULL
			ORDER BY seq ASC
		`)
		if err != nil {
			return fmt.Errorf("query failed commands: %w", err)
		}
		var cmds []pos.Command
		for rows.Next() {
			cmd, err := scanCommand(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan command: %w", err)
			}
			cmds = append(cmds, cmd)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate commands: %w", err)
		}
		rows.Close()

		for i := range cmds {
			if err := s.retryFailed(ctx, tx, &cmds[i]); err != nil {
				return err
			}
		}
		retried = cmds
		return nil
	})
	if err != nil {
		return nil, err
	}
	return retried, nil
}

// DropCommand abandons sync for a command. The command becomes a fatal
// FAILED that no later sync cycle touches, and its entity keeps whatever
// sync status it had. Dropping a SUCCEEDED or IN_FLIGHT command fails with
// pos.ErrInvalidTransition. Dropping twice is a no-op.
func (s *Store) DropCommand(ctx context.Context, id, reason string) (pos.Command, error) {
	var cmd pos.Command
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		cmd, err = getCommand(ctx, tx, id)
		if err != nil {
			return err
		}
		if cmd.Dropped() {
			return nil
		}
		if cmd.Status != pos.CommandPending && cmd.Status != pos.CommandFailed {
			return fmt.Errorf("drop %s in status %s: %w", id, cmd.Status, pos.ErrInvalidTransition)
		}

		now := s.now()
		msg := "dropped by operator"
		if reason != "" {
			msg += ": " + reason
		}
		if err := s.transition(ctx, tx, &cmd, pos.CommandFailed, now, msg); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE commands SET fatal = 1, next_attempt_at = NULL, dropped_at = ?, last_error = ?
			WHERE id = ?
		`, millis(now), msg, id)
		if err != nil {
			return fmt.Errorf("drop command %s: %w", id, err)
		}
		cmd.Fatal = true
		cmd.NextAttemptAt = nil
		cmd.DroppedAt = &now
		cmd.LastError = msg
		return nil
	})
	if err != nil {
		return pos.Command{}, err
	}
	return cmd, nil
}

// ListTransitions returns the audit log of one command, oldest first.
func (s *Store) ListTransitions(ctx context.Context, commandID string) ([]pos.CommandTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command_id, from_status, to_status, at, note
		FROM command_transitions
		WHERE command_id = ?
		ORDER BY id ASC
	`, commandID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []pos.CommandTransition
	for rows.Next() {
		var (
			tr pos.CommandTransition
			at int64
		)
		if err := rows.Scan(&tr.ID, &tr.CommandID, &tr.From, &tr.To, &at, &tr.Note); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.At = fromMillis(at)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// CountCommands returns the number of commands in each status.
// Dropped commands are counted under FAILED.
func (s *Store) CountCommands(ctx context.Context) (map[pos.CommandStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM commands GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count commands: %w", err)
	}
	defer rows.Close()

	counts := map[pos.CommandStatus]int{
		pos.CommandPending:   0,
		pos.CommandInFlight:  0,
		pos.CommandSucceeded: 0,
		pos.CommandFailed:    0,
		pos.CommandConflict:  0,
	}
	for rows.Next() {
		var (
			status pos.CommandStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
