// Package database provides the SQLite connection and schema migrations for
// the fleet daemon.
//
// The device registry, action ledger and audit log all persist here. A single
// connection is used, WAL mode lets readers proceed during writes, and
// migrations are embedded in the binary so a fresh data directory is
// initialised on first start.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//		Path:        "./data/fleet.db",
//		WALMode:     true,
//		BusyTimeout: 5,
//	})
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//		return err
//	}
package database
