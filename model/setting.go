package model

import "time"

// Setting is one row of the generic key/value table used for small
// persisted values such as the hub endpoint and token.
type Setting struct {
	ID        int64     `json:"id" db:"id"`
	Key       string    `json:"key" db:"setting_key"`
	Value     string    `json:"value" db:"setting_value"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// TableName returns the database table name for Setting.
func (s Setting) TableName() string {
	return DefaultTablePrefix + "setting"
}

// NewSetting creates a setting row stamped with the current time.
func NewSetting(key, value string) Setting {
	return Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
}
