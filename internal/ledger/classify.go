package ledger

import (
	"fmt"
	"net/http"

	"github.com/roach88/tillsync/internal/outbox"
)

// Ledger response codes with sync meaning.
const (
	CodeIdempotentReplay      = "IDEMPOTENT_REPLAY"
	CodeIdempotencyInProgress = "IDEMPOTENCY_IN_PROGRESS"
	CodeValidation            = "VALIDATION_ERROR"
)

// Local outcome codes for failures that never reached a ledger verdict.
const (
	CodeTransport          = "TRANSPORT_ERROR"
	CodeUnparseable        = "UNPARSEABLE_RESPONSE"
	CodeUnsupportedCommand = "UNSUPPORTED_COMMAND"
)

// Envelope is the response body of every sync endpoint.
type Envelope struct {
	OK              bool   `json:"ok"`
	ServerInvoiceID string `json:"serverInvoiceId,omitempty"`
	ServerPaymentID string `json:"serverPaymentId,omitempty"`
	ReceiptNumber   string `json:"receiptNumber,omitempty"`
	ServerID        string `json:"serverId,omitempty"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

func (e Envelope) remote() outbox.Remote {
	return outbox.Remote{
		InvoiceID:     e.ServerInvoiceID,
		PaymentID:     e.ServerPaymentID,
		ReceiptNumber: e.ReceiptNumber,
		ID:            e.ServerID,
	}
}

// Classify maps an HTTP status and parsed envelope to a sync outcome.
//
// Codes win over status: a replay is a replay whatever status carries it.
// parsed reports whether the body decoded as an envelope at all.
func Classify(status int, env Envelope, parsed bool) outbox.Outcome {
	out := classify(status, env, parsed)
	out.HTTPStatus = status
	return out
}

func classify(status int, env Envelope, parsed bool) outbox.Outcome {
	switch env.Code {
	case CodeIdempotentReplay:
		return outbox.NewReplayed(env.remote(), env.Code)
	case CodeIdempotencyInProgress:
		return outbox.NewRetryable(env.Code, messageOr(env, "request with this key is still being processed"))
	case CodeValidation:
		return outbox.NewFatal(env.Code, messageOr(env, "rejected by ledger validation"))
	}

	switch {
	case status >= 200 && status < 300:
		if !parsed {
			return outbox.NewRetryable(CodeUnparseable, fmt.Sprintf("http %d with unreadable body", status))
		}
		if !env.OK {
			return outbox.NewRetryable(codeOr(env, CodeUnparseable), messageOr(env, "success status without ok"))
		}
		return outbox.NewSucceeded(env.remote())

	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return outbox.NewFatal(codeOr(env, fmt.Sprintf("HTTP_%d", status)), messageOr(env, http.StatusText(status)))

	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		return outbox.NewRetryable(codeOr(env, fmt.Sprintf("HTTP_%d", status)), messageOr(env, http.StatusText(status)))

	case status >= 400 && status < 500:
		return outbox.NewFatal(codeOr(env, fmt.Sprintf("HTTP_%d", status)), messageOr(env, http.StatusText(status)))

	default:
		return outbox.NewRetryable(codeOr(env, fmt.Sprintf("HTTP_%d", status)), messageOr(env, "unexpected status"))
	}
}

func codeOr(env Envelope, fallback string) string {
	if env.Code != "" {
		return env.Code
	}
	return fallback
}

func messageOr(env Envelope, fallback string) string {
	if env.Message != "" {
		return env.Message
	}
	return fallback
}
