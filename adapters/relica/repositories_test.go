package relica

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/coregx/hublink"
	"github.com/coregx/hublink/model"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, hublink.ApplyMigrations(context.Background(), db, "sqlite3", ""))
	return db
}

func newCommand(t *testing.T, domain, service string) *model.QueuedCommand {
	t.Helper()
	cmd, err := model.NewQueuedCommand(model.ServiceCall{Domain: domain, Service: service})
	require.NoError(t, err)
	return &cmd
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, hublink.ApplyMigrations(context.Background(), db, "sqlite3", ""))
}

func TestApplyMigrations_UnknownDriver(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	err = hublink.ApplyMigrations(context.Background(), db, "oracle", "")
	assert.True(t, hublink.HasCode(err, hublink.ErrCodeConfiguration))
}

func TestCommandRepository_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewCommandRepository(openTestDB(t), "sqlite3")

	cmd := newCommand(t, "light", "turn_on")
	saved, err := repo.Save(ctx, cmd)
	require.NoError(t, err)
	require.NotZero(t, saved.ID)

	loaded, err := repo.Load(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, cmd.CommandID, loaded.CommandID)
	assert.JSONEq(t, cmd.Payload, loaded.Payload)
	assert.Equal(t, 0, loaded.AttemptCount)
	assert.False(t, loaded.LastError.Valid)

	loaded.MarkFailed(errors.New("entity unavailable"))
	_, err = repo.Save(ctx, &loaded)
	require.NoError(t, err)

	reloaded, err := repo.Load(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.AttemptCount)
	assert.Equal(t, "entity unavailable", reloaded.LastError.String)
	assert.True(t, reloaded.LastAttemptAt.Valid)

	require.NoError(t, repo.Delete(ctx, &reloaded))
	_, err = repo.Load(ctx, saved.ID)
	assert.True(t, hublink.IsNoData(err))
}

func TestCommandRepository_FIFO(t *testing.T) {
	ctx := context.Background()
	repo := NewCommandRepository(openTestDB(t), "sqlite3")

	base := time.Now().UTC().Truncate(time.Second)
	services := []string{"turn_on", "turn_off", "toggle"}
	for i, service := range services {
		cmd := newCommand(t, "light", service)
		cmd.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_, err := repo.Save(ctx, cmd)
		require.NoError(t, err)
	}

	cmds, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	for i, service := range services {
		call, err := cmds[i].Call()
		require.NoError(t, err)
		assert.Equal(t, service, call.Service)
	}

	oldest, err := repo.FindOldest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	assert.Equal(t, cmds[0].CommandID, oldest[0].CommandID)
	assert.Equal(t, cmds[1].CommandID, oldest[1].CommandID)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestCommandRepository_Empty(t *testing.T) {
	ctx := context.Background()
	repo := NewCommandRepository(openTestDB(t), "sqlite3")

	_, err := repo.FindAll(ctx)
	assert.True(t, hublink.IsNoData(err))

	_, err = repo.FindOldest(ctx, 1)
	assert.True(t, hublink.IsNoData(err))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDeadLetterRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewDeadLetterRepository(openTestDB(t), "sqlite3")

	cmd := newCommand(t, "lock", "unlock")
	cmd.MarkFailed(errors.New("jammed"))
	dead, err := repo.Save(ctx, model.NewDeadCommand(*cmd, model.ReasonAttemptsExhausted))
	require.NoError(t, err)
	require.NotZero(t, dead.ID)

	byCommand, err := repo.FindByCommandID(ctx, cmd.CommandID)
	require.NoError(t, err)
	assert.Equal(t, dead.ID, byCommand.ID)
	assert.Equal(t, "jammed", byCommand.LastError)
	assert.Equal(t, model.ReasonAttemptsExhausted, byCommand.FailureReason)

	unresolved, err := repo.FindUnresolved(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, unresolved, 1)

	byCommand.Resolve("operator", "unlocked by hand")
	_, err = repo.Save(ctx, byCommand)
	require.NoError(t, err)

	_, err = repo.FindUnresolved(ctx, 10)
	assert.True(t, hublink.IsNoData(err))

	stats, err := repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DeadLetterStats{TotalItems: 1, UnresolvedItems: 0, ResolvedItems: 1}, stats)

	_, err = repo.FindOlderThan(ctx, time.Hour, 10)
	assert.True(t, hublink.IsNoData(err))

	require.NoError(t, repo.Delete(ctx, byCommand))
	_, err = repo.Load(ctx, dead.ID)
	assert.True(t, hublink.IsNoData(err))
}

func TestSettingRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSettingRepository(openTestDB(t), "sqlite3")

	_, err := repo.Get(ctx, hublink.SettingToken)
	assert.True(t, hublink.IsNoData(err))

	require.NoError(t, repo.Put(ctx, hublink.SettingToken, "first"))
	require.NoError(t, repo.Put(ctx, hublink.SettingToken, "second"))

	value, err := repo.Get(ctx, hublink.SettingToken)
	require.NoError(t, err)
	assert.Equal(t, "second", value)

	require.NoError(t, repo.Delete(ctx, hublink.SettingToken))
	require.NoError(t, repo.Delete(ctx, hublink.SettingToken))
	_, err = repo.Get(ctx, hublink.SettingToken)
	assert.True(t, hublink.IsNoData(err))
}

func TestSettingsConfigProvider(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(openTestDB(t), "sqlite3")
	provider := hublink.NewSettingsConfigProvider(repos.Settings)

	cfg, err := provider.ConnectionConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, hublink.ConnectionConfig{}, cfg)

	err = provider.Save(ctx, hublink.ConnectionConfig{EndpointURL: "http://hub.local", Token: "tok"})
	assert.True(t, hublink.HasCode(err, hublink.ErrCodeValidation))

	want := hublink.ConnectionConfig{EndpointURL: "ws://hub.local:8123/api/websocket", Token: "tok"}
	require.NoError(t, provider.Save(ctx, want))

	cfg, err = provider.ConnectionConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, cfg)
}
