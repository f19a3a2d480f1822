package pos

import "time"

// CommandType names the remote operation an outbox command performs.
type CommandType string

const (
	CmdSaleFinalize   CommandType = "SaleFinalize"
	CmdShiftOpen      CommandType = "ShiftOpen"
	CmdShiftClose     CommandType = "ShiftClose"
	CmdShiftCashEvent CommandType = "ShiftCashEvent"
)

// CommandStatus is the outbox state of a Command.
type CommandStatus string

const (
	CommandPending   CommandStatus = "PENDING"
	CommandInFlight  CommandStatus = "IN_FLIGHT"
	CommandSucceeded CommandStatus = "SUCCEEDED"
	CommandFailed    CommandStatus = "FAILED"
	CommandConflict  CommandStatus = "CONFLICT"
)

// Command is one outbox entry: a not-yet-confirmed mutation against the
// remote ledger. It is written in the same transaction as its entity.
type Command struct {
	ID             string        `json:"id"`
	Seq            int64         `json:"seq"`
	WorkspaceID    string        `json:"workspace_id"`
	Type           CommandType   `json:"type"`
	EntityID       string        `json:"entity_id"`
	Payload        []byte        `json:"payload"`
	IdempotencyKey string        `json:"idempotency_key"`
	Fingerprint    string        `json:"fingerprint"`
	Status         CommandStatus `json:"status"`

	// Fatal marks a FAILED command that must not be retried automatically.
	Fatal bool `json:"fatal"`

	// Replayed is set when the ledger reported the key as already processed.
	Replayed bool `json:"replayed"`

	Attempts        int        `json:"attempts"`
	CreatedAt       time.Time  `json:"created_at"`
	LastAttemptedAt *time.Time `json:"last_attempted_at,omitempty"`
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	DroppedAt       *time.Time `json:"dropped_at,omitempty"`
}

// Dropped reports whether an operator abandoned sync for this command.
func (c Command) Dropped() bool {
	return c.DroppedAt != nil
}

// Retryable reports whether the dispatcher may pick the command up on its own.
func (c Command) Retryable() bool {
	return c.Status == CommandFailed && !c.Fatal && !c.Dropped()
}

// CommandTransition is one row of the append-only command audit log.
type CommandTransition struct {
	ID        int64         `json:"id"`
	CommandID string        `json:"command_id"`
	From      CommandStatus `json:"from"`
	To        CommandStatus `json:"to"`
	At        time.Time     `json:"at"`
	Note      string        `json:"note,omitempty"`
}

// CommandFilter narrows ListCommands. Zero values match everything.
type CommandFilter struct {
	WorkspaceID string
	Status      CommandStatus
	EntityID    string
	Limit       int
}
