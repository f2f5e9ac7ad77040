// Package database provides SQLite connectivity for SmartRack Core.
//
// This package manages:
//   - Database connection with WAL mode and foreign keys enabled
//   - Schema migrations from an embedded filesystem
//   - The canonical timestamp storage format shared by all repositories
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//   - Passwords, device secrets and reset codes are only ever stored hashed
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive-only. Each file pair is named
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql.
package database
