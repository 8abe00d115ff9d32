package model

import (
	"database/sql"
	"time"
)

// DeadCommand is a queued command that was removed from the queue without
// being delivered: it exhausted its attempts, or the queue was full and it
// was the oldest entry.
//
// Items stay here until an operator resolves or deletes them.
type DeadCommand struct {
	ID            int64  `json:"id" db:"id"`
	CommandID     string `json:"commandId" db:"command_id"`
	Payload       string `json:"payload" db:"payload"`
	AttemptCount  int    `json:"attemptCount" db:"attempt_count"`
	LastError     string `json:"lastError" db:"last_error"`
	FailureReason string `json:"failureReason" db:"failure_reason"`

	QueuedAt       time.Time    `json:"queuedAt" db:"queued_at"`
	LastAttemptAt  sql.NullTime `json:"lastAttemptAt" db:"last_attempt_at"`
	DeadLetteredAt time.Time    `json:"deadLetteredAt" db:"dead_lettered_at"`

	IsResolved     bool         `json:"isResolved" db:"is_resolved"`
	ResolvedAt     sql.NullTime `json:"resolvedAt" db:"resolved_at"`
	ResolvedBy     string       `json:"resolvedBy" db:"resolved_by"`
	ResolutionNote string       `json:"resolutionNote" db:"resolution_note"`
}

// TableName returns the database table name for DeadCommand.
func (d DeadCommand) TableName() string {
	return DefaultTablePrefix + "dead_letter"
}

// Failure reasons recorded on DeadCommand.
const (
	ReasonAttemptsExhausted = "attempts exhausted"
	ReasonQueueFull         = "evicted: queue full"
	ReasonInvalidPayload    = "invalid payload"
)

// NewDeadCommand builds a dead-letter entry from a queued command.
func NewDeadCommand(cmd QueuedCommand, reason string) DeadCommand {
	return DeadCommand{
		CommandID:      cmd.CommandID,
		Payload:        cmd.Payload,
		AttemptCount:   cmd.AttemptCount,
		LastError:      cmd.LastError.String,
		FailureReason:  reason,
		QueuedAt:       cmd.CreatedAt,
		LastAttemptAt:  cmd.LastAttemptAt,
		DeadLetteredAt: time.Now().UTC(),
	}
}

// Resolve marks the entry as handled by an operator.
func (d *DeadCommand) Resolve(resolvedBy, note string) {
	d.IsResolved = true
	d.ResolvedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	d.ResolvedBy = resolvedBy
	d.ResolutionNote = note
}

// Age returns how long the entry has been dead-lettered.
func (d *DeadCommand) Age() time.Duration {
	return time.Since(d.DeadLetteredAt)
}

// IsOld reports whether the entry has waited longer than threshold.
func (d *DeadCommand) IsOld(threshold time.Duration) bool {
	return d.Age() > threshold
}

// DeadLetterStats summarizes the dead-letter table.
type DeadLetterStats struct {
	TotalItems      int `json:"totalItems"`
	UnresolvedItems int `json:"unresolvedItems"`
	ResolvedItems   int `json:"resolvedItems"`
}
