package hublink

import (
	"context"
	"time"

	"github.com/coregx/hublink/model"
)

// CommandRepository defines the persistence interface for the offline
// command queue.
//
// Implementations must be safe for concurrent use. Every backend must
// return commands in the same order: oldest CreatedAt first, ties broken
// by ascending ID.
type CommandRepository interface {
	// Load retrieves a queued command by ID.
	// Returns ErrNoData if not found.
	Load(ctx context.Context, id int64) (model.QueuedCommand, error)

	// Save creates a new queued command (if ID=0) or updates an existing one.
	// Returns the saved command with populated ID.
	Save(ctx context.Context, m *model.QueuedCommand) (*model.QueuedCommand, error)

	// Delete permanently removes a queued command from storage.
	Delete(ctx context.Context, m *model.QueuedCommand) error

	// FindAll retrieves every queued command, oldest first.
	// Returns ErrNoData if the queue is empty.
	FindAll(ctx context.Context) ([]model.QueuedCommand, error)

	// FindOldest retrieves up to limit queued commands, oldest first.
	// Returns ErrNoData if the queue is empty.
	FindOldest(ctx context.Context, limit int) ([]model.QueuedCommand, error)

	// Count returns the number of queued commands.
	Count(ctx context.Context) (int, error)
}

// SettingRepository defines the persistence interface for the generic
// key/value settings table.
type SettingRepository interface {
	// Get retrieves the value stored under key.
	// Returns ErrNoData if the key is not set.
	Get(ctx context.Context, key string) (string, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// DeadLetterRepository defines the persistence interface for commands
// removed from the queue without being delivered.
type DeadLetterRepository interface {
	// Load retrieves a dead-letter entry by ID.
	// Returns ErrNoData if not found.
	Load(ctx context.Context, id int64) (model.DeadCommand, error)

	// Save creates a new entry (if ID=0) or updates an existing one.
	// Returns the saved entry with populated ID.
	Save(ctx context.Context, m model.DeadCommand) (model.DeadCommand, error)

	// Delete permanently removes an entry.
	Delete(ctx context.Context, m model.DeadCommand) error

	// FindUnresolved retrieves unresolved entries, oldest first.
	// Returns ErrNoData if none found.
	FindUnresolved(ctx context.Context, limit int) ([]model.DeadCommand, error)

	// FindByCommandID retrieves the entry for a command id.
	// Returns ErrNoData if not found.
	FindByCommandID(ctx context.Context, commandID string) (model.DeadCommand, error)

	// FindOlderThan retrieves entries dead-lettered longer ago than threshold.
	// Returns ErrNoData if none found.
	FindOlderThan(ctx context.Context, threshold time.Duration, limit int) ([]model.DeadCommand, error)

	// GetStats returns totals for the dead-letter table.
	GetStats(ctx context.Context) (model.DeadLetterStats, error)

	// CountUnresolved returns the number of unresolved entries.
	CountUnresolved(ctx context.Context) (int, error)
}
