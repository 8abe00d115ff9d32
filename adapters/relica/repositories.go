package relica

import (
	"database/sql"

	"github.com/coregx/hublink"
	"github.com/coregx/hublink/model"
)

// Repositories holds all repository implementations.
type Repositories struct {
	Commands    hublink.CommandRepository
	DeadLetters hublink.DeadLetterRepository
	Settings    hublink.SettingRepository
}

// NewRepositories creates all repository implementations using Relica.
//
// The db parameter should be an *sql.DB connected to MySQL, PostgreSQL, or SQLite.
// The driverName should be "mysql", "postgres", or "sqlite3".
// The table prefix defaults to "hublink_".
func NewRepositories(db *sql.DB, driverName string) *Repositories {
	return NewRepositoriesWithPrefix(db, driverName, model.DefaultTablePrefix)
}

// NewRepositoriesWithPrefix creates all repository implementations with a custom table prefix.
func NewRepositoriesWithPrefix(db *sql.DB, driverName, prefix string) *Repositories {
	return &Repositories{
		Commands:    NewCommandRepositoryWithPrefix(db, driverName, prefix),
		DeadLetters: NewDeadLetterRepositoryWithPrefix(db, driverName, prefix),
		Settings:    NewSettingRepositoryWithPrefix(db, driverName, prefix),
	}
}
