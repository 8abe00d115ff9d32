package relica

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/coregx/hublink"
	"github.com/coregx/hublink/model"
	"github.com/coregx/relica"
)

// CommandRepository implements hublink.CommandRepository using Relica.
type CommandRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewCommandRepository creates a new CommandRepository with default table prefix.
func NewCommandRepository(sqlDB *sql.DB, driverName string) *CommandRepository {
	return NewCommandRepositoryWithPrefix(sqlDB, driverName, model.DefaultTablePrefix)
}

// NewCommandRepositoryWithPrefix creates a new CommandRepository with custom table prefix.
func NewCommandRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *CommandRepository {
	return &CommandRepository{
		db:          relica.WrapDB(sqlDB, driverName),
		tablePrefix: prefix,
	}
}

func (r *CommandRepository) tableName() string {
	return r.tablePrefix + "command_queue"
}

// Load retrieves a queued command by ID.
func (r *CommandRepository) Load(ctx context.Context, id int64) (model.QueuedCommand, error) {
	var cmd model.QueuedCommand

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("id = ?", id).
		One(&cmd)

	if errors.Is(err, sql.ErrNoRows) {
		return cmd, hublink.ErrNoData
	}
	if err != nil {
		return cmd, hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to load command", err)
	}

	return cmd, nil
}

// Save creates or updates a queued command.
func (r *CommandRepository) Save(ctx context.Context, m *model.QueuedCommand) (*model.QueuedCommand, error) {
	if m.ID == 0 {
		// Insert using Model() API - auto-populates m.ID
		err := r.db.WithContext(ctx).Model(m).Table(r.tableName()).Insert()
		if err != nil {
			return m, hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to insert command", err)
		}
		return m, nil
	}

	// Only the delivery bookkeeping changes after insert.
	_, err := r.db.WithContext(ctx).Update(r.tableName()).
		Set(map[string]interface{}{
			"attempt_count":   m.AttemptCount,
			"last_error":      m.LastError,
			"last_attempt_at": m.LastAttemptAt,
		}).
		Where("id = ?", m.ID).
		Execute()
	if err != nil {
		return m, hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to update command", err)
	}

	return m, nil
}

// Delete removes a queued command.
func (r *CommandRepository) Delete(ctx context.Context, m *model.QueuedCommand) error {
	// Delete using Model() API - auto WHERE id = ?
	err := r.db.WithContext(ctx).Model(m).Table(r.tableName()).Delete()
	if err != nil {
		return hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to delete command", err)
	}
	return nil
}

// FindAll retrieves every queued command, oldest first.
func (r *CommandRepository) FindAll(ctx context.Context) ([]model.QueuedCommand, error) {
	var cmds []model.QueuedCommand

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		OrderBy("created_at ASC").
		All(&cmds)

	if err != nil {
		return nil, hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to find commands", err)
	}
	if len(cmds) == 0 {
		return nil, hublink.ErrNoData
	}

	sortFIFO(cmds)
	return cmds, nil
}

// FindOldest retrieves up to limit queued commands, oldest first.
func (r *CommandRepository) FindOldest(ctx context.Context, limit int) ([]model.QueuedCommand, error) {
	var cmds []model.QueuedCommand

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		OrderBy("created_at ASC").
		Limit(int64(limit)).
		All(&cmds)

	if err != nil {
		return nil, hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to find oldest commands", err)
	}
	if len(cmds) == 0 {
		return nil, hublink.ErrNoData
	}

	sortFIFO(cmds)
	return cmds, nil
}

// Count returns the number of queued commands.
func (r *CommandRepository) Count(ctx context.Context) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Select("COUNT(*)").From(r.tableName()).One(&count)
	if err != nil {
		return 0, hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to count commands", err)
	}
	return int(count), nil
}

// sortFIFO breaks created_at ties by id, which the query builder's single
// ORDER BY column cannot express.
func sortFIFO(cmds []model.QueuedCommand) {
	sort.SliceStable(cmds, func(i, j int) bool {
		return cmds[i].Before(&cmds[j])
	})
}
