// Package database provides SQLite connectivity and schema migrations for
// the forum core.
//
// The connection is opened in WAL mode with foreign keys enforced and a
// single open connection, which serialises writers. The token ledger's
// conditional revoke depends on that serialisation.
//
// Migrations are read from MigrationsFS (assigned by the migrations
// package) and applied one transaction per file. Filenames follow
// YYYYMMDD_HHMMSS_description.{up,down}.sql.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
