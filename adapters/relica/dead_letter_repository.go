package relica

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/coregx/hublink"
	"github.com/coregx/hublink/model"
	"github.com/coregx/relica"
)

// DeadLetterRepository implements hublink.DeadLetterRepository using Relica.
type DeadLetterRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewDeadLetterRepository creates a new DeadLetterRepository with default table prefix.
func NewDeadLetterRepository(sqlDB *sql.DB, driverName string) *DeadLetterRepository {
	return NewDeadLetterRepositoryWithPrefix(sqlDB, driverName, model.DefaultTablePrefix)
}

// NewDeadLetterRepositoryWithPrefix creates a new DeadLetterRepository with custom table prefix.
func NewDeadLetterRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *DeadLetterRepository {
	return &DeadLetterRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *DeadLetterRepository) tableName() string {
	return r.tablePrefix + "dead_letter"
}

// Load retrieves a dead-letter entry by ID.
func (r *DeadLetterRepository) Load(ctx context.Context, id int64) (model.DeadCommand, error) {
	var dead model.DeadCommand
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).Where("id = ?", id).One(&dead)
	if errors.Is(err, sql.ErrNoRows) {
		return dead, hublink.ErrNoData
	}
	if err != nil {
		return dead, hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to load dead letter", err)
	}
	return dead, nil
}

// Save creates or updates a dead-letter entry.
func (r *DeadLetterRepository) Save(ctx context.Context, m model.DeadCommand) (model.DeadCommand, error) {
	if m.ID == 0 {
		err := r.db.WithContext(ctx).Model(&m).Table(r.tableName()).Insert()
		if err != nil {
			return m, hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to insert dead letter", err)
		}
		return m, nil
	}

	err := r.db.WithContext(ctx).Model(&m).Table(r.tableName()).Update()
	if err != nil {
		return m, hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to update dead letter", err)
	}
	return m, nil
}

// Delete removes a dead-letter entry.
func (r *DeadLetterRepository) Delete(ctx context.Context, m model.DeadCommand) error {
	err := r.db.WithContext(ctx).Model(&m).Table(r.tableName()).Delete()
	if err != nil {
		return hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to delete dead letter", err)
	}
	return nil
}

// FindUnresolved retrieves unresolved entries, oldest first.
func (r *DeadLetterRepository) FindUnresolved(ctx context.Context, limit int) ([]model.DeadCommand, error) {
	var items []model.DeadCommand
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("is_resolved = ?", false).
		OrderBy("dead_lettered_at ASC").
		Limit(int64(limit)).
		All(&items)
	if err != nil {
		return nil, hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to find unresolved dead letters", err)
	}
	if len(items) == 0 {
		return nil, hublink.ErrNoData
	}
	return items, nil
}

// FindByCommandID retrieves the entry for a command id.
func (r *DeadLetterRepository) FindByCommandID(ctx context.Context, commandID string) (model.DeadCommand, error) {
	var dead model.DeadCommand
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).Where("command_id = ?", commandID).One(&dead)
	if errors.Is(err, sql.ErrNoRows) {
		return dead, hublink.ErrNoData
	}
	if err != nil {
		return dead, hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to find dead letter by command", err)
	}
	return dead, nil
}

// FindOlderThan retrieves entries dead-lettered longer ago than threshold.
func (r *DeadLetterRepository) FindOlderThan(ctx context.Context, threshold time.Duration, limit int) ([]model.DeadCommand, error) {
	var items []model.DeadCommand
	cutoffTime := time.Now().UTC().Add(-threshold)
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("dead_lettered_at < ?", cutoffTime).
		OrderBy("dead_lettered_at ASC").
		Limit(int64(limit)).
		All(&items)
	if err != nil {
		return nil, hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to find old dead letters", err)
	}
	if len(items) == 0 {
		return nil, hublink.ErrNoData
	}
	return items, nil
}

// GetStats retrieves dead-letter statistics.
func (r *DeadLetterRepository) GetStats(ctx context.Context) (model.DeadLetterStats, error) {
	var stats model.DeadLetterStats
	var totalCount int64

	err := r.db.WithContext(ctx).Select("COUNT(*)").From(r.tableName()).One(&totalCount)
	if err != nil {
		return stats, hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to count dead letters", err)
	}
	stats.TotalItems = int(totalCount)

	unresolved, err := r.CountUnresolved(ctx)
	if err != nil {
		return stats, err
	}
	stats.UnresolvedItems = unresolved
	stats.ResolvedItems = stats.TotalItems - stats.UnresolvedItems
	return stats, nil
}

// CountUnresolved returns the count of unresolved entries.
func (r *DeadLetterRepository) CountUnresolved(ctx context.Context) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Select("COUNT(*)").From(r.tableName()).Where("is_resolved = ?", false).One(&count)
	if err != nil {
		return 0, hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to count unresolved dead letters", err)
	}
	return int(count), nil
}
