package model

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coregx/hublink/retry"
	"github.com/google/uuid"
)

// QueuedCommand is a service call that could not be delivered live and
// waits in the durable store for the next flush.
//
// Lifecycle:
//  1. Created by NewQueuedCommand with AttemptCount=0
//  2. Flush delivers it → deleted from the store
//  3. Non-connectivity failure → MarkFailed, re-persisted, retried next flush
//  4. AttemptCount reaches the dead-letter threshold → moved to DeadCommand
//
// Commands are flushed oldest first (CreatedAt, then ID).
type QueuedCommand struct {
	ID            int64          `json:"id" db:"id"`
	CommandID     string         `json:"commandId" db:"command_id"`
	Payload       string         `json:"payload" db:"payload"`
	AttemptCount  int            `json:"attemptCount" db:"attempt_count"`
	LastError     sql.NullString `json:"lastError" db:"last_error"`
	LastAttemptAt sql.NullTime   `json:"lastAttemptAt" db:"last_attempt_at"`
	CreatedAt     time.Time      `json:"createdAt" db:"created_at"`
}

// TableName returns the database table name for QueuedCommand.
func (c QueuedCommand) TableName() string {
	return DefaultTablePrefix + "command_queue"
}

// NewQueuedCommand wraps call into a new queue record with a fresh
// command id and the current time.
func NewQueuedCommand(call ServiceCall) (QueuedCommand, error) {
	payload, err := json.Marshal(call)
	if err != nil {
		return QueuedCommand{}, fmt.Errorf("encode service call: %w", err)
	}
	return QueuedCommand{
		CommandID: uuid.NewString(),
		Payload:   string(payload),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Call decodes the persisted service call.
func (c *QueuedCommand) Call() (ServiceCall, error) {
	var call ServiceCall
	if err := json.Unmarshal([]byte(c.Payload), &call); err != nil {
		return ServiceCall{}, ErrInvalidPayload
	}
	return call, nil
}

// MarkFailed records a failed delivery attempt.
func (c *QueuedCommand) MarkFailed(err error) {
	c.AttemptCount++
	c.LastAttemptAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	if err != nil {
		c.LastError = sql.NullString{String: err.Error(), Valid: true}
	}
}

// CanAttemptDelivery returns ErrMaxAttemptsExceeded once the command has
// used up the attempts strategy allows.
func (c *QueuedCommand) CanAttemptDelivery(strategy retry.Strategy) error {
	if !strategy.IsRetryable(c.AttemptCount) {
		return ErrMaxAttemptsExceeded
	}
	return nil
}

// ShouldDeadLetter reports whether the command reached the dead-letter threshold.
func (c *QueuedCommand) ShouldDeadLetter(threshold int) bool {
	return threshold > 0 && c.AttemptCount >= threshold
}

// Age returns how long the command has been queued.
func (c *QueuedCommand) Age() time.Duration {
	return time.Since(c.CreatedAt)
}

// Before orders commands oldest first, breaking creation-time ties by ID.
func (c *QueuedCommand) Before(other *QueuedCommand) bool {
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.Before(other.CreatedAt)
	}
	return c.ID < other.ID
}

// Domain errors returned by QueuedCommand methods.
var (
	// ErrMaxAttemptsExceeded indicates the command used up its delivery attempts.
	ErrMaxAttemptsExceeded = DomainError{Code: "MAX_ATTEMPTS", Message: "Maximum delivery attempts exceeded"}

	// ErrInvalidPayload indicates the stored payload is not a service call.
	ErrInvalidPayload = DomainError{Code: "INVALID_PAYLOAD", Message: "Queued payload is not a valid service call"}
)

// DomainError represents a domain-level business rule violation.
type DomainError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
}

func (e DomainError) Error() string {
	return e.Message
}
