// Package relica provides repository implementations using Relica query builder.
//
// Relica (github.com/coregx/relica) is a lightweight, type-safe database query builder
// for Go with zero production dependencies.
//
// This package provides implementations of the hublink repository interfaces:
//   - CommandRepository (offline command queue)
//   - DeadLetterRepository
//   - SettingRepository (key/value settings)
//
// Example usage:
//
//	import (
//	    "database/sql"
//	    "github.com/coregx/hublink"
//	    "github.com/coregx/hublink/adapters/relica"
//	    _ "github.com/mattn/go-sqlite3"
//	)
//
//	db, err := sql.Open("sqlite3", "hublink.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := hublink.ApplyMigrations(ctx, db, "sqlite3", ""); err != nil {
//	    log.Fatal(err)
//	}
//
//	// driverName should be "mysql", "postgres", or "sqlite3"
//	repos := relica.NewRepositories(db, "sqlite3")
//
//	queue, err := hublink.NewOfflineQueue(
//	    hublink.WithCommandRepository(repos.Commands),
//	    hublink.WithDeadLetterRepository(repos.DeadLetters),
//	    hublink.WithDeliverer(client),
//	    hublink.WithConnectivity(connectivity),
//	    hublink.WithQueueLogger(logger),
//	)
package relica
