package hublink

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error represents a hublink error with categorization.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error (if any)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Error codes for hublink operations.
const (
	// ErrCodeAuthentication indicates the hub rejected the access token.
	ErrCodeAuthentication = "AUTHENTICATION_ERROR"

	// ErrCodeTransport indicates a socket failure, a send without a usable
	// connection, or a closed connection during the handshake.
	ErrCodeTransport = "TRANSPORT_ERROR"

	// ErrCodeProtocol indicates an inbound frame that is not valid JSON.
	ErrCodeProtocol = "PROTOCOL_ERROR"

	// ErrCodeDisconnected indicates a call was made, or was pending, while
	// the connection was down.
	ErrCodeDisconnected = "DISCONNECTED"

	// ErrCodeQueuePersistence indicates the durable store failed while
	// queueing a command.
	ErrCodeQueuePersistence = "QUEUE_PERSISTENCE_ERROR"

	// ErrCodeNoData indicates no data was found.
	ErrCodeNoData = "NO_DATA"

	// ErrCodeValidation indicates validation failed.
	ErrCodeValidation = "VALIDATION_ERROR"

	// ErrCodeConfiguration indicates invalid configuration.
	ErrCodeConfiguration = "CONFIGURATION_ERROR"

	// ErrCodeDatabase indicates database operation failed.
	ErrCodeDatabase = "DATABASE_ERROR"
)

// Common errors.
var (
	// ErrNoData is returned when a query returns no results.
	// This is not necessarily an error condition in all cases.
	ErrNoData = &Error{
		Code:    ErrCodeNoData,
		Message: "no data found",
	}

	// ErrNotConnected is returned by calls issued while the client is not connected.
	ErrNotConnected = &Error{
		Code:    ErrCodeDisconnected,
		Message: "not connected",
	}
)

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error wrapping an underlying error.
func NewErrorWithCause(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// CommandError is a command the hub received and rejected.
// It carries the hub's error code, message and optional data verbatim.
type CommandError struct {
	Code    string
	Message string
	Data    json.RawMessage
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HasCode reports whether err is a *Error carrying code.
func HasCode(err error, code string) bool {
	var hlErr *Error
	if errors.As(err, &hlErr) {
		return hlErr.Code == code
	}
	return false
}

// IsNoData checks if an error is ErrNoData.
func IsNoData(err error) bool {
	if HasCode(err, ErrCodeNoData) {
		return true
	}
	return errors.Is(err, ErrNoData)
}

// IsAuthentication reports whether err is an authentication failure.
func IsAuthentication(err error) bool {
	return HasCode(err, ErrCodeAuthentication)
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return HasCode(err, ErrCodeTransport)
}

// IsDisconnected reports whether err was caused by a missing connection.
func IsDisconnected(err error) bool {
	return HasCode(err, ErrCodeDisconnected)
}

// IsCommandError reports whether err is a remote command rejection.
func IsCommandError(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr)
}

// IsOfflineLike reports whether err means the hub could not be reached, as
// opposed to the hub rejecting the command. Offline-like failures are the
// ones the queueing facade and the offline queue retry later.
func IsOfflineLike(err error) bool {
	var hlErr *Error
	if !errors.As(err, &hlErr) {
		return false
	}
	switch hlErr.Code {
	case ErrCodeDisconnected, ErrCodeTransport, ErrCodeAuthentication:
		return true
	default:
		return false
	}
}
