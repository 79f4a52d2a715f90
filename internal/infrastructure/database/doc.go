// Package database provides SQLite connectivity for homesync.
//
// This package manages:
//   - Opening the database file (or an in-memory database) with WAL mode
//   - Applying embedded, versioned SQL migrations
//   - Health checks
//
// The schema itself lives in the top-level migrations package; callers pass
// migrations.FS to Migrate. The device state store, the sqlite allow-list
// backend and the access event log all share one *DB.
//
// # Usage
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
