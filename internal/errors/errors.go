// Package errors provides standardized error codes for the dock client.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: the subsystem that produced the error (auth, conn, op, storage, config)
//   - error: the specific error type within that domain
//
// Codes are stable identifiers for programmatic handling and logging.
// Human-readable messages travel alongside them; the UI displays only
// the message, never the code.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Auth domain - login and credential errors
	CodeAuthInvalid      = "auth.invalid"      // Login rejected by the server
	CodeAuthUnauthorized = "auth.unauthorized" // Server closed the connection as unauthorized
	CodeAuthUnreachable  = "auth.unreachable"  // Login endpoint could not be reached

	// Conn domain - transport lifecycle errors
	CodeConnDialFailed = "conn.dial_failed" // WebSocket connect attempt failed
	CodeConnLost       = "conn.lost"        // Connection lost while connected
	CodeConnClosed     = "conn.closed"      // Stream ended (EOF or close frame)
	CodeConnSendFailed = "conn.send_failed" // Outgoing frame could not be written

	// Op domain - operation stream errors
	CodeOpDecodeFailed = "op.decode_failed" // Malformed remote operation payload

	// Storage domain - credential cache errors
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed

	// Config domain - configuration file errors
	CodeConfigInvalid = "config.invalid" // Config file unreadable or malformed

	// General domain - catch-all
	CodeUnknown = "error.unknown" // Unknown error
)

// CodedError wraps an error with a stable error code.
type CodedError struct {
	Code    string // Stable error code (e.g., "conn.lost").
	Message string // Human-readable error message.
	Cause   error  // Underlying error (may be nil).
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{Code: code, Message: message, Cause: cause}
}

// GetCode extracts the error code from an error, falling back to
// CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}

// Display converts any error to the string shown to the user. Coded
// errors contribute only their message; everything else is passed
// through verbatim. This is the single boundary where failures become
// display text for the session state's error field.
func Display(err error) string {
	if err == nil {
		return ""
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}
	return err.Error()
}
