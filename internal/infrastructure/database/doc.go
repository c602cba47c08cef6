// Package database provides SQLite storage for devicehub.
//
// The credential store (clients, companies, super users), the recovery
// token table, the device read model and the audit trail all live in a
// single SQLite file opened in WAL mode with a single writer connection.
//
// Schema changes are applied through numbered migrations embedded in the
// binary by the top-level migrations package:
//
//	db, err := database.Open(ctx, database.Config{Path: "./data/devicehub.db", WALMode: true})
//	if err != nil { ... }
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil { ... }
package database
