package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tillsync/internal/ident"
	"github.com/roach88/tillsync/internal/outbox"
	"github.com/roach88/tillsync/internal/pos"
	"github.com/roach88/tillsync/internal/testutil"
)

// createTestStore creates a store in a temp dir with a fake clock and
// sequential ids ("id-1", "id-2", ...).
func createTestStore(t *testing.T, opts ...Option) (*Store, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock()
	all := append([]Option{
		WithClock(clock),
		WithIDGenerator(ident.NewSequenceGenerator("id")),
	}, opts...)

	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, all...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// openTestShift opens a shift on the fixture register.
func openTestShift(t *testing.T, s *Store, startingCash *int64) pos.ShiftSession {
	t.Helper()
	shift, _, err := s.OpenShift(context.Background(), testutil.OpenShift(startingCash))
	require.NoError(t, err)
	return shift
}

// claimAndApply claims cmd and records out against it.
func claimAndApply(t *testing.T, s *Store, cmdID string, out outbox.Outcome) pos.Command {
	t.Helper()
	ctx := context.Background()
	_, err := s.ClaimCommand(ctx, cmdID)
	require.NoError(t, err)
	cmd, err := s.ApplyOutcome(ctx, cmdID, out, testutil.Epoch)
	require.NoError(t, err)
	return cmd
}

// transitionPath flattens a command's audit log to "FROM>TO" pairs.
func transitionPath(t *testing.T, s *Store, cmdID string) []string {
	t.Helper()
	trs, err := s.ListTransitions(context.Background(), cmdID)
	require.NoError(t, err)
	out := make([]string, 0, len(trs))
	for _, tr := range trs {
		out = append(out, string(tr.From)+">"+string(tr.To))
	}
	return out
}
