package hublink

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/coregx/hublink/model"
)

// MigrationFiles contains the SQL schema for every supported driver, one
// directory per driver name (sqlite3, mysql, postgres). Table names carry
// a {{prefix}} placeholder.
//
// ApplyMigrations runs them directly. To use an external tool instead,
// render the placeholder first.
//
//go:embed migrations/*/*.sql
var MigrationFiles embed.FS

// ApplyMigrations creates the queue, dead-letter and settings tables for
// driverName with the given table prefix (empty means model.DefaultTablePrefix).
// Every statement is idempotent, so it is safe to run on each start.
func ApplyMigrations(ctx context.Context, db *sql.DB, driverName, prefix string) error {
	if prefix == "" {
		prefix = model.DefaultTablePrefix
	}

	dir := "migrations/" + driverName
	entries, err := fs.ReadDir(MigrationFiles, dir)
	if err != nil {
		return NewErrorWithCause(ErrCodeConfiguration, fmt.Sprintf("no migrations for driver %q", driverName), err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := fs.ReadFile(MigrationFiles, dir+"/"+name)
		if err != nil {
			return NewErrorWithCause(ErrCodeDatabase, "failed to read migration "+name, err)
		}
		for _, stmt := range splitStatements(strings.ReplaceAll(string(body), "{{prefix}}", prefix)) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return NewErrorWithCause(ErrCodeDatabase, "migration "+name+" failed", err)
			}
		}
	}
	return nil
}

func splitStatements(script string) []string {
	var stmts []string
	for _, part := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
