package pos

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ValidationCode categorizes synchronous rejections at the store boundary.
type ValidationCode string

const (
	ErrCodeEmptyCart            ValidationCode = "EMPTY_CART"
	ErrCodeInsufficientPayment  ValidationCode = "INSUFFICIENT_PAYMENT"
	ErrCodeInvalidAmount        ValidationCode = "INVALID_AMOUNT"
	ErrCodeInvalidQuantity      ValidationCode = "INVALID_QUANTITY"
	ErrCodeInvalidMoney         ValidationCode = "INVALID_MONEY"
	ErrCodeShiftAlreadyOpen     ValidationCode = "SHIFT_ALREADY_OPEN"
	ErrCodeShiftNotFound        ValidationCode = "SHIFT_NOT_FOUND"
	ErrCodeShiftAlreadyClosed   ValidationCode = "SHIFT_ALREADY_CLOSED"
	ErrCodeShiftRequired        ValidationCode = "SHIFT_REQUIRED"
	ErrCodeInvalidCashEventType ValidationCode = "INVALID_CASH_EVENT_TYPE"
	ErrCodeMissingField         ValidationCode = "MISSING_FIELD"
)

// ValidationError is returned for invalid local input. It is never
// enqueued and never retried.
type ValidationError struct {
	Code    ValidationCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError creates a ValidationError with a formatted message.
func NewValidationError(code ValidationCode, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsValidation returns true if err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// HasCode returns true if err is a ValidationError with the given code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code ValidationCode) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code == code
	}
	return false
}

// InvariantError reports local corruption: recorded state that contradicts
// itself. It requires manual reconciliation and is never repaired silently.
type InvariantError struct {
	Entity  string
	ID      string
	Message string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated on %s %s: %s", e.Entity, e.ID, e.Message)
}

// IsInvariant returns true if err is (or wraps) an InvariantError.
func IsInvariant(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

var (
	// ErrNotFound is returned by keyed lookups that match nothing.
	ErrNotFound = errors.New("not found")

	// ErrCommandNotClaimable is returned when a command is not PENDING at claim time.
	ErrCommandNotClaimable = errors.New("command is not pending")

	// ErrCommandDropped is returned when retrying a command an operator dropped.
	ErrCommandDropped = errors.New("command was dropped")

	// ErrInvalidTransition is returned for a command state change the outbox forbids.
	ErrInvalidTransition = errors.New("invalid command status transition")
)

// MoneyDecodeError reports a JSON decode error caused by a fractional or
// out-of-range number in an integer money field as INVALID_MONEY. Any other
// error yields nil.
func MoneyDecodeError(err error) *ValidationError {
	var te *json.UnmarshalTypeError
	if !errors.As(err, &te) || te.Type == nil || te.Type.Kind() != reflect.Int64 {
		return nil
	}
	if !strings.HasPrefix(te.Value, "number") {
		return nil
	}
	field := te.Field
	if field == "" {
		field = "amount"
	}
	return NewValidationError(ErrCodeInvalidMoney, "%s must be an integer number of minor units", field)
}
