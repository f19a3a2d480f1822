package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/roach88/tillsync/internal/pos"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rejected operation (validation, invalid transition, verification failure)
	ExitCommandError = 2 // Command error (bad flags, unreadable config, database unavailable)
)

// Error codes reported in CLIError.Code for failures that are not
// validation errors, which report their own code.
const (
	ErrCodeConfig     = "CONFIG"
	ErrCodeDatabase   = "DATABASE"
	ErrCodeInput      = "INPUT"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeDropped    = "COMMAND_DROPPED"
	ErrCodeTransition = "INVALID_TRANSITION"
	ErrCodeInvariant  = "INVARIANT_VIOLATION"
	ErrCodeLedger     = "LEDGER"
	ErrCodeInternal   = "INTERNAL"
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (ExitFailure or ExitCommandError)
	ErrCode string // Machine-readable code for JSON output
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, errCode, message string) *ExitError {
	return &ExitError{Code: code, ErrCode: errCode, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, errCode, message string, err error) *ExitError {
	return &ExitError{Code: code, ErrCode: errCode, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// classify turns a store or dispatcher error into an ExitError.
func classify(message string, err error) *ExitError {
	var ve *pos.ValidationError
	switch {
	case errors.As(err, &ve):
		return WrapExitError(ExitFailure, string(ve.Code), message, err)
	case errors.Is(err, pos.ErrNotFound):
		return WrapExitError(ExitFailure, ErrCodeNotFound, message, err)
	case errors.Is(err, pos.ErrCommandDropped):
		return WrapExitError(ExitFailure, ErrCodeDropped, message, err)
	case errors.Is(err, pos.ErrInvalidTransition), errors.Is(err, pos.ErrCommandNotClaimable):
		return WrapExitError(ExitFailure, ErrCodeTransition, message, err)
	case pos.IsInvariant(err):
		return WrapExitError(ExitFailure, ErrCodeInvariant, message, err)
	default:
		return WrapExitError(ExitCommandError, ErrCodeInternal, message, err)
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Diagnostics; defaults to Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command's output.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data. In text mode text renders it; a nil text prints
// data with fmt.
func (f *OutputFormatter) Success(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	if text == nil {
		_, err := fmt.Fprintln(f.Writer, data)
		return err
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

// Error writes an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Report writes err through Error. Used by main after a command failed.
func (f *OutputFormatter) Report(err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.ErrCode != "" {
		f.Error(exitErr.ErrCode, exitErr.Error(), nil)
		return
	}
	f.Error(ErrCodeInternal, err.Error(), nil)
}

// VerboseLog outputs a message only if verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.errWriter(), format+"\n", args...)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
