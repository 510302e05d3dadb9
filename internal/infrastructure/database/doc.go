// Package database provides SQLite connectivity for vspid.
//
// The database holds the audit trail of controller lifecycle events
// (attach, BAR map/unmap, controller create/delete). Live controller
// state is never persisted: it is rebuilt from the control plane on
// every start.
//
// This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Schema migrations read from an fs.FS (see the migrations package)
//   - In-memory databases for tests and ephemeral deployments
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Source()); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive-only: new columns must be NULLABLE or carry a
// DEFAULT, and each .up.sql should have a matching .down.sql.
package database
