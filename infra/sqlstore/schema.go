package sqlstore

import (
	"database/sql"
	"fmt"
)

// slot orders pending records by insertion. peer_id and local_sequence are
// NULL for records without identity; SQLite treats NULLs as distinct in
// unique indexes, so only full identities are constrained.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS records (
		slot            INTEGER PRIMARY KEY AUTOINCREMENT,
		global_position INTEGER UNIQUE,
		peer_id         TEXT,
		local_sequence  INTEGER,
		payload         BLOB
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS records_identity ON records(peer_id, local_sequence)`,
	`CREATE INDEX IF NOT EXISTS records_pending ON records(slot) WHERE global_position IS NULL`,
}

// EnsureSchema creates the records table and its indexes if missing.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlstore: schema: %w", err)
		}
	}
	return nil
}
