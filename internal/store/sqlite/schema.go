// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"database/sql"
	"fmt"
)

const schemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS leases (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	project_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	trust_id TEXT NOT NULL,
	start_date INTEGER NOT NULL,
	end_date INTEGER NOT NULL,
	before_end_date INTEGER,
	status TEXT NOT NULL,
	UNIQUE(project_id, name)
);

CREATE INDEX IF NOT EXISTS idx_leases_project ON leases(project_id);
CREATE INDEX IF NOT EXISTS idx_leases_status ON leases(status);

CREATE TABLE IF NOT EXISTS reservations (
	id TEXT PRIMARY KEY,
	lease_id TEXT NOT NULL REFERENCES leases(id) ON DELETE CASCADE,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	start_date INTEGER NOT NULL,
	end_date INTEGER NOT NULL,
	status TEXT NOT NULL,
	values_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_reservations_lease ON reservations(lease_id);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	lease_id TEXT NOT NULL REFERENCES leases(id) ON DELETE CASCADE,
	event_type TEXT NOT NULL,
	time INTEGER NOT NULL,
	status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_due ON events(status, time);
CREATE INDEX IF NOT EXISTS idx_events_lease_type ON events(lease_id, event_type);
`

func migrate(db *sql.DB) error {
	var currentVersion int
	if err := db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("sqlite: read user_version: %w", err)
	}

	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite: begin migration: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaDDL); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("sqlite: set user_version: %w", err)
	}

	return tx.Commit()
}
