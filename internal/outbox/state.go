// Package outbox defines the command state machine, dispatch outcomes and
// the retry backoff policy. Durable command storage lives in the store;
// this package holds the rules the store enforces.
//
// States per command:
//
//	PENDING -> IN_FLIGHT -> SUCCEEDED
//	                     -> CONFLICT -> SUCCEEDED   (idempotent replay)
//	                     -> FAILED (retryable) -> PENDING after backoff
//	                     -> FAILED (fatal)     -> PENDING only by operator retry
//	IN_FLIGHT -> PENDING (restart recovery or cancelled dispatch)
//
// IN_FLIGHT is never durable across a restart: the store reverts it to
// PENDING on boot, which is safe because the idempotency key is reused.
package outbox

import (
	"fmt"

	"github.com/roach88/tillsync/internal/pos"
)

var transitions = map[pos.CommandStatus][]pos.CommandStatus{
	pos.CommandPending:  {pos.CommandInFlight, pos.CommandFailed},
	pos.CommandInFlight: {pos.CommandSucceeded, pos.CommandConflict, pos.CommandFailed, pos.CommandPending},
	pos.CommandConflict: {pos.CommandSucceeded},
	pos.CommandFailed:   {pos.CommandPending, pos.CommandFailed},
}

// CanTransition reports whether a command may move from one status to another.
// PENDING -> FAILED and FAILED -> FAILED exist only for operator drops.
func CanTransition(from, to pos.CommandStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition wrapped with context when the
// move is not allowed.
func CheckTransition(commandID string, from, to pos.CommandStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("command %s: %s -> %s: %w", commandID, from, to, pos.ErrInvalidTransition)
	}
	return nil
}

// Terminal reports whether a status never changes without operator action.
func Terminal(c pos.Command) bool {
	switch {
	case c.Status == pos.CommandSucceeded:
		return true
	case c.Status == pos.CommandFailed && (c.Fatal || c.Dropped()):
		return true
	default:
		return false
	}
}
