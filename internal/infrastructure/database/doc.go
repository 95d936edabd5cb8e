// Package database provides the bridge's SQLite store.
//
// It holds the fixture inventory (see the wiz recorder); live fixture
// state is never persisted. Open configures WAL mode and a busy timeout
// from the database section of the config file.
//
// Migrations are embedded by the migrations package and applied at
// startup:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or carry a default,
// and each .up.sql has a matching .down.sql.
package database
