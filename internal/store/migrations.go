package store

import (
	"database/sql"
	"fmt"

	"cryptosignal/internal/logging"
)

// RunMigrations applies additive schema migrations for databases created by
// older builds. Columns are only ever added, never dropped or altered.
func RunMigrations(db *sql.DB) error {
	migrations := []struct {
		name string
		fn   func(*sql.DB) error
	}{
		{"add_signals_signal_id", migrateSignalsSignalID},
		{"add_signals_exit_horizon", migrateSignalsExitHorizon},
	}

	for _, m := range migrations {
		if err := m.fn(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
	}
	return nil
}

func migrateSignalsSignalID(db *sql.DB) error {
	exists, err := columnExists(db, "signals", "signal_id")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	logging.Store("Migrating signals table: adding signal_id column")
	_, err = db.Exec("ALTER TABLE signals ADD COLUMN signal_id TEXT NOT NULL DEFAULT ''")
	return err
}

func migrateSignalsExitHorizon(db *sql.DB) error {
	exists, err := columnExists(db, "signals", "exit_horizon")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	logging.Store("Migrating signals table: adding exit_horizon column")
	_, err = db.Exec("ALTER TABLE signals ADD COLUMN exit_horizon TEXT")
	return err
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
