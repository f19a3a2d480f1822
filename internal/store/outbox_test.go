package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillsync/internal/outbox"
	"github.com/roach88/tillsync/internal/pos"
	"github.com/roach88/tillsync/internal/testutil"
)

func TestEnqueue_SameKeySamePayloadIsIdempotent(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	sale, cmd, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)

	again, err := s.enqueue(ctx, s.db, pos.CmdSaleFinalize, sale.WorkspaceID, sale.ID, sale.IdempotencyKey, cmd.Payload)
	require.NoError(t, err)
	assert.Equal(t, cmd.ID, again.ID)

	cmds, err := s.ListCommands(ctx, pos.CommandFilter{})
	require.NoError(t, err)
	assert.Len(t, cmds, 1)
}

func TestEnqueue_SameKeyDifferentPayloadIsInvariant(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	sale, _, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)

	_, err = s.enqueue(ctx, s.db, pos.CmdSaleFinalize, sale.WorkspaceID, sale.ID, sale.IdempotencyKey, []byte(`{"tampered":true}`))
	assert.True(t, pos.IsInvariant(err), "got %v", err)
}

func TestEnqueue_KeyMustDeriveFromEntity(t *testing.T) {
	s, _ := createTestStore(t)

	_, err := s.enqueue(context.Background(), s.db, pos.CmdSaleFinalize, testutil.Workspace, "sale-1", "sale-finalize:other", []byte(`{}`))
	assert.True(t, pos.IsInvariant(err), "got %v", err)
}

func TestClaimCommand(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	_, cmd, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)

	claimed, err := s.ClaimCommand(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.CommandInFlight, claimed.Status)
	require.NotNil(t, claimed.LastAttemptedAt)
	assert.Equal(t, testutil.Epoch, *claimed.LastAttemptedAt)

	_, err = s.ClaimCommand(ctx, cmd.ID)
	assert.True(t, errors.Is(err, pos.ErrCommandNotClaimable), "got %v", err)

	_, err = s.ClaimCommand(ctx, "missing")
	assert.True(t, errors.Is(err, pos.ErrNotFound), "got %v", err)
}

func TestApplyOutcome_Succeeded(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()
	sale, cmd, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)
	clock.Advance(time.Minute)

	got := claimAndApply(t, s, cmd.ID, outbox.NewSucceeded(outbox.Remote{
		InvoiceID: "inv-1", PaymentID: "pay-1", ReceiptNumber: "R-0001",
	}))
	assert.Equal(t, pos.CommandSucceeded, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.False(t, got.Replayed)

	synced, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.SaleSynced, synced.Status)
	assert.Equal(t, "inv-1", synced.RemoteInvoiceID)
	assert.Equal(t, "pay-1", synced.RemotePaymentID)
	assert.Equal(t, "R-0001", synced.ReceiptNumber)
	assert.Equal(t, 1, synced.SyncAttempts)
	require.NotNil(t, synced.SyncedAt)
	assert.Equal(t, testutil.Epoch.Add(time.Minute), *synced.SyncedAt)

	assert.Equal(t, []string{">PENDING", "PENDING>IN_FLIGHT", "IN_FLIGHT>SUCCEEDED"}, transitionPath(t, s, cmd.ID))
}

func TestApplyOutcome_ReplayedPassesThroughConflict(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	sale, cmd, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)

	got := claimAndApply(t, s, cmd.ID, outbox.NewReplayed(outbox.Remote{InvoiceID: "inv-9"}, "IDEMPOTENT_REPLAY"))
	assert.Equal(t, pos.CommandSucceeded, got.Status)
	assert.True(t, got.Replayed)

	synced, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.SaleSynced, synced.Status)
	assert.Equal(t, "inv-9", synced.RemoteInvoiceID)

	assert.Equal(t, []string{
		">PENDING", "PENDING>IN_FLIGHT", "IN_FLIGHT>CONFLICT", "CONFLICT>SUCCEEDED",
	}, transitionPath(t, s, cmd.ID))
}

func TestApplyOutcome_ReplayWithoutIDsKeepsKnownIDs(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	sale, cmd, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE sales SET remote_invoice_id = 'inv-known' WHERE id = ?`, sale.ID)
	require.NoError(t, err)

	claimAndApply(t, s, cmd.ID, outbox.NewReplayed(outbox.Remote{}, "IDEMPOTENT_REPLAY"))

	synced, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.SaleSynced, synced.Status)
	assert.Equal(t, "inv-known", synced.RemoteInvoiceID)
	assert.Empty(t, synced.RemotePaymentID)
}

func TestApplyOutcome_Retryable(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	sale, cmd, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)

	_, err = s.ClaimCommand(ctx, cmd.ID)
	require.NoError(t, err)
	next := testutil.Epoch.Add(2 * time.Second)
	got, err := s.ApplyOutcome(ctx, cmd.ID, outbox.NewRetryable("HTTP_503", "service unavailable"), next)
	require.NoError(t, err)

	assert.Equal(t, pos.CommandFailed, got.Status)
	assert.False(t, got.Fatal)
	assert.True(t, got.Retryable())
	assert.Equal(t, "HTTP_503: service unavailable", got.LastError)
	require.NotNil(t, got.NextAttemptAt)
	assert.Equal(t, next, *got.NextAttemptAt)

	stored, err := s.GetCommand(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, got, stored)

	failed, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.SaleFailed, failed.Status)
	assert.Contains(t, failed.LastSyncError, "will retry")

	nextDue, err := s.NextAttemptAt(ctx)
	require.NoError(t, err)
	require.NotNil(t, nextDue)
	assert.Equal(t, next, *nextDue)
}

func TestApplyOutcome_Fatal(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	sale, cmd, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)

	got := claimAndApply(t, s, cmd.ID, outbox.NewFatal("VALIDATION_ERROR", "unknown sku"))
	assert.Equal(t, pos.CommandFailed, got.Status)
	assert.True(t, got.Fatal)
	assert.False(t, got.Retryable())
	assert.Nil(t, got.NextAttemptAt)

	failed, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.SaleFailed, failed.Status)
	assert.Equal(t, "VALIDATION_ERROR: unknown sku", failed.LastSyncError)

	_, found, err := s.HeadCommand(ctx, testutil.Workspace)
	require.NoError(t, err)
	assert.False(t, found, "fatal commands are terminal")
}

func TestApplyOutcome_RequiresInFlight(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	_, cmd, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)

	_, err = s.ApplyOutcome(ctx, cmd.ID, outbox.NewSucceeded(outbox.Remote{}), testutil.Epoch)
	assert.True(t, errors.Is(err, pos.ErrInvalidTransition), "got %v", err)
}

func TestApplyOutcome_UpdatesShiftAndCashEventEntities(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	shift, openCmd, err := s.OpenShift(ctx, testutil.OpenShift(nil))
	require.NoError(t, err)
	ev, evCmd, err := s.RecordCashEvent(ctx, pos.CashEventInput{ShiftID: shift.ID, Type: pos.PaidIn, Amount: 10})
	require.NoError(t, err)

	claimAndApply(t, s, openCmd.ID, outbox.NewSucceeded(outbox.Remote{ID: "srv-shift-1"}))
	claimAndApply(t, s, evCmd.ID, outbox.NewFatal("VALIDATION_ERROR", "bad reason"))

	gotShift, err := s.GetShift(ctx, shift.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.SyncSynced, gotShift.SyncStatus)
	assert.Equal(t, "srv-shift-1", gotShift.RemoteShiftID)

	events, err := s.ListCashEvents(ctx, shift.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev.ID, events[0].ID)
	assert.Equal(t, pos.SyncFailed, events[0].SyncStatus)
	assert.Equal(t, "VALIDATION_ERROR: bad reason", events[0].LastError)
}

func TestHeadCommand_OrdersBySeqAndSkipsTerminal(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	_, first, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)
	_, second, err := s.FinalizeSale(ctx, testutil.CashSale("", 200))
	require.NoError(t, err)

	head, found, err := s.HeadCommand(ctx, testutil.Workspace)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first.ID, head.ID)

	claimAndApply(t, s, first.ID, outbox.NewSucceeded(outbox.Remote{}))
	head, found, err = s.HeadCommand(ctx, testutil.Workspace)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, second.ID, head.ID)

	_, found, err = s.HeadCommand(ctx, "other-workspace")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHeadCommand_RetryableFailureBlocksWorkspace(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	_, first, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)
	_, _, err = s.FinalizeSale(ctx, testutil.CashSale("", 200))
	require.NoError(t, err)

	claimAndApply(t, s, first.ID, outbox.NewRetryable("TIMEOUT", "deadline exceeded"))

	head, found, err := s.HeadCommand(ctx, testutil.Workspace)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first.ID, head.ID)
	assert.Equal(t, pos.CommandFailed, head.Status)
}

func TestPendingWorkspaces(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	in := testutil.CashSale("", 100)
	in.WorkspaceID = "ws-b"
	_, _, err := s.FinalizeSale(ctx, in)
	require.NoError(t, err)
	in.WorkspaceID = "ws-a"
	in.RegisterID = "reg-2"
	_, cmd, err := s.FinalizeSale(ctx, in)
	require.NoError(t, err)

	ws, err := s.PendingWorkspaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ws-a", "ws-b"}, ws)

	claimAndApply(t, s, cmd.ID, outbox.NewSucceeded(outbox.Remote{}))
	ws, err = s.PendingWorkspaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ws-b"}, ws)
}

func TestPromoteCommand(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()
	_, cmd, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)

	_, err = s.ClaimCommand(ctx, cmd.ID)
	require.NoError(t, err)
	_, err = s.ApplyOutcome(ctx, cmd.ID, outbox.NewRetryable("TIMEOUT", "slow"), testutil.Epoch.Add(5*time.Second))
	require.NoError(t, err)

	_, err = s.PromoteCommand(ctx, cmd.ID)
	assert.True(t, errors.Is(err, pos.ErrInvalidTransition), "backoff not elapsed: %v", err)

	clock.Advance(5 * time.Second)
	promoted, err := s.PromoteCommand(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.CommandPending, promoted.Status)
	assert.Nil(t, promoted.NextAttemptAt)
	assert.Equal(t, 1, promoted.Attempts)
}

func TestReleaseCommand(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	sale, cmd, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)
	_, err = s.ClaimCommand(ctx, cmd.ID)
	require.NoError(t, err)

	require.NoError(t, s.ReleaseCommand(ctx, cmd.ID, "dispatch cancelled"))

	got, err := s.GetCommand(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.CommandPending, got.Status)
	assert.Zero(t, got.Attempts)

	unchanged, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.SalePendingSync, unchanged.Status)
}

func TestRecoverInFlight(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	_, a, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)
	_, b, err := s.FinalizeSale(ctx, testutil.CashSale("", 200))
	require.NoError(t, err)
	_, err = s.ClaimCommand(ctx, a.ID)
	require.NoError(t, err)

	n, err := s.RecoverInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, id := range []string{a.ID, b.ID} {
		got, err := s.GetCommand(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, pos.CommandPending, got.Status)
	}

	n, err = s.RecoverInFlight(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRetryFailedCommand(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	_, cmd, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)
	claimAndApply(t, s, cmd.ID, outbox.NewFatal("VALIDATION_ERROR", "bad"))

	retried, err := s.RetryFailedCommand(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.CommandPending, retried.Status)
	assert.False(t, retried.Fatal)

	_, err = s.RetryFailedCommand(ctx, cmd.ID)
	assert.True(t, errors.Is(err, pos.ErrInvalidTransition), "got %v", err)
}

func TestRetryFailedCommands_SkipsDropped(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	_, a, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)
	_, b, err := s.FinalizeSale(ctx, testutil.CashSale("", 200))
	require.NoError(t, err)
	claimAndApply(t, s, a.ID, outbox.NewFatal("VALIDATION_ERROR", "bad"))
	claimAndApply(t, s, b.ID, outbox.NewFatal("VALIDATION_ERROR", "bad"))
	_, err = s.DropCommand(ctx, b.ID, "")
	require.NoError(t, err)

	retried, err := s.RetryFailedCommands(ctx)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, a.ID, retried[0].ID)
}

func TestDropCommand(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	sale, cmd, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)

	dropped, err := s.DropCommand(ctx, cmd.ID, "duplicate ticket")
	require.NoError(t, err)
	assert.Equal(t, pos.CommandFailed, dropped.Status)
	assert.True(t, dropped.Fatal)
	assert.True(t, dropped.Dropped())
	assert.Equal(t, "dropped by operator: duplicate ticket", dropped.LastError)

	_, err = s.RetryFailedCommand(ctx, cmd.ID)
	assert.True(t, errors.Is(err, pos.ErrCommandDropped), "got %v", err)

	before := transitionPath(t, s, cmd.ID)
	_, err = s.DropCommand(ctx, cmd.ID, "again")
	require.NoError(t, err)
	assert.Equal(t, before, transitionPath(t, s, cmd.ID))

	unchanged, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.SalePendingSync, unchanged.Status)

	ws, err := s.PendingWorkspaces(ctx)
	require.NoError(t, err)
	assert.Empty(t, ws)
}

func TestDropCommand_RefusesSucceededAndInFlight(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	_, a, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)
	_, b, err := s.FinalizeSale(ctx, testutil.CashSale("", 200))
	require.NoError(t, err)

	claimAndApply(t, s, a.ID, outbox.NewSucceeded(outbox.Remote{}))
	_, err = s.DropCommand(ctx, a.ID, "")
	assert.True(t, errors.Is(err, pos.ErrInvalidTransition), "got %v", err)

	_, err = s.ClaimCommand(ctx, b.ID)
	require.NoError(t, err)
	_, err = s.DropCommand(ctx, b.ID, "")
	assert.True(t, errors.Is(err, pos.ErrInvalidTransition), "got %v", err)
}

func TestCountCommands(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	_, a, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)
	_, _, err = s.FinalizeSale(ctx, testutil.CashSale("", 200))
	require.NoError(t, err)
	claimAndApply(t, s, a.ID, outbox.NewSucceeded(outbox.Remote{}))

	counts, err := s.CountCommands(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[pos.CommandPending])
	assert.Equal(t, 1, counts[pos.CommandSucceeded])
	assert.Equal(t, 0, counts[pos.CommandFailed])
}

func TestListCommands_Filter(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	sale, a, err := s.FinalizeSale(ctx, testutil.CashSale("", 100))
	require.NoError(t, err)
	_, _, err = s.FinalizeSale(ctx, testutil.CashSale("", 200))
	require.NoError(t, err)
	claimAndApply(t, s, a.ID, outbox.NewSucceeded(outbox.Remote{}))

	byStatus, err := s.ListCommands(ctx, pos.CommandFilter{Status: pos.CommandSucceeded})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, a.ID, byStatus[0].ID)

	byEntity, err := s.ListCommands(ctx, pos.CommandFilter{EntityID: sale.ID})
	require.NoError(t, err)
	require.Len(t, byEntity, 1)

	limited, err := s.ListCommands(ctx, pos.CommandFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestListCommands_EmptyStore(t *testing.T) {
	s, _ := createTestStore(t)

	cmds, err := s.ListCommands(context.Background(), pos.CommandFilter{})
	require.NoError(t, err)
	assert.Empty(t, cmds)
}
