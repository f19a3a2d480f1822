package outbox

import "fmt"

// Kind classifies what the remote ledger did with a command.
type Kind int

const (
	// Succeeded means the ledger accepted and applied the command.
	Succeeded Kind = iota + 1
	// Replayed means the ledger had already processed the idempotency key.
	// It is resolved exactly like Succeeded.
	Replayed
	// Retryable covers timeouts, transport errors, 5xx and in-progress keys.
	Retryable
	// Fatal is a non-retryable rejection such as a validation error.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case Replayed:
		return "replayed"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Remote carries the identifiers the ledger assigned.
// Every field is optional; empty fields never overwrite known values.
type Remote struct {
	InvoiceID     string `json:"invoice_id,omitempty"`
	PaymentID     string `json:"payment_id,omitempty"`
	ReceiptNumber string `json:"receipt_number,omitempty"`
	ID            string `json:"id,omitempty"`
}

// Empty reports whether the ledger returned no identifiers at all.
func (r Remote) Empty() bool {
	return r == Remote{}
}

// Outcome is the result of one dispatch attempt, represented as data so that
// nothing crosses the sync boundary as an error.
type Outcome struct {
	Kind       Kind   `json:"kind"`
	Remote     Remote `json:"remote"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	HTTPStatus int    `json:"http_status,omitempty"`
}

// Err renders a human-readable reason for failed outcomes.
func (o Outcome) Err() string {
	switch {
	case o.Code != "" && o.Message != "":
		return fmt.Sprintf("%s: %s", o.Code, o.Message)
	case o.Message != "":
		return o.Message
	case o.Code != "":
		return o.Code
	case o.HTTPStatus != 0:
		return fmt.Sprintf("http status %d", o.HTTPStatus)
	default:
		return ""
	}
}

// Success reports whether the outcome resolves the command as SUCCEEDED.
func (o Outcome) Success() bool {
	return o.Kind == Succeeded || o.Kind == Replayed
}

// NewSucceeded creates a Succeeded outcome.
func NewSucceeded(r Remote) Outcome {
	return Outcome{Kind: Succeeded, Remote: r}
}

// NewReplayed creates a Replayed outcome.
func NewReplayed(r Remote, code string) Outcome {
	return Outcome{Kind: Replayed, Remote: r, Code: code}
}

// NewRetryable creates a Retryable outcome.
func NewRetryable(code, message string) Outcome {
	return Outcome{Kind: Retryable, Code: code, Message: message}
}

// NewFatal creates a Fatal outcome.
func NewFatal(code, message string) Outcome {
	return Outcome{Kind: Fatal, Code: code, Message: message}
}
