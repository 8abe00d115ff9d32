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

// SettingRepository implements hublink.SettingRepository using Relica.
type SettingRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewSettingRepository creates a new SettingRepository with default table prefix.
func NewSettingRepository(sqlDB *sql.DB, driverName string) *SettingRepository {
	return NewSettingRepositoryWithPrefix(sqlDB, driverName, model.DefaultTablePrefix)
}

// NewSettingRepositoryWithPrefix creates a new SettingRepository with custom table prefix.
func NewSettingRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *SettingRepository {
	return &SettingRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *SettingRepository) tableName() string {
	return r.tablePrefix + "setting"
}

func (r *SettingRepository) find(ctx context.Context, key string) (model.Setting, error) {
	var s model.Setting
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).Where("setting_key = ?", key).One(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return s, hublink.ErrNoData
	}
	if err != nil {
		return s, hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to load setting", err)
	}
	return s, nil
}

// Get retrieves the value stored under key.
func (r *SettingRepository) Get(ctx context.Context, key string) (string, error) {
	s, err := r.find(ctx, key)
	if err != nil {
		return "", err
	}
	return s.Value, nil
}

// Put stores value under key.
func (r *SettingRepository) Put(ctx context.Context, key, value string) error {
	s, err := r.find(ctx, key)
	if hublink.IsNoData(err) {
		s = model.NewSetting(key, value)
		if err := r.db.WithContext(ctx).Model(&s).Table(r.tableName()).Insert(); err != nil {
			return hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to insert setting", err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	s.Value = value
	s.UpdatedAt = time.Now().UTC()
	if err := r.db.WithContext(ctx).Model(&s).Table(r.tableName()).Update(); err != nil {
		return hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to update setting", err)
	}
	return nil
}

// Delete removes key.
func (r *SettingRepository) Delete(ctx context.Context, key string) error {
	s, err := r.find(ctx, key)
	if hublink.IsNoData(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Model(&s).Table(r.tableName()).Delete(); err != nil {
		return hublink.NewErrorWithCause(hublink.ErrCodeDatabase, "failed to delete setting", err)
	}
	return nil
}
