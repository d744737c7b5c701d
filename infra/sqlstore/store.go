// Package sqlstore is a durable peer store on SQLite.
package sqlstore

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"seqlog/domain/replog"
)

const columns = `global_position, local_sequence, peer_id, payload`

// Store keeps a peer's replica in one table. It applies the same merge
// rules as replog.Store, each Insert in one transaction.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	// One writer; also keeps a ":memory:" database alive across calls.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA busy_timeout=5000`} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlstore: %s: %w", pragma, err)
		}
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database, creating the schema.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: db is nil")
	}
	if err := EnsureSchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlstore: close: %w", err)
	}
	return nil
}

func nullPeer(id replog.PeerID) sql.NullString {
	return sql.NullString{String: string(id), Valid: id != ""}
}

// Insert merges records. On any conflict nothing is written.
func (s *Store) Insert(records []replog.Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range records {
		if err := insertOne(tx, rec); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}

func insertOne(tx *sql.Tx, rec replog.Record) error {
	if !rec.HasIdentity() {
		return insertAnonymous(tx, rec)
	}

	var slot int64
	var cur replog.NullUint64
	err := tx.QueryRow(`SELECT slot, global_position FROM records WHERE peer_id = ? AND local_sequence = ?`,
		string(rec.PeerID), rec.LocalSequence).Scan(&slot, &cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if rec.GlobalPosition.Valid {
			if err := checkFree(tx, rec); err != nil {
				return err
			}
		}
		return insertRow(tx, rec)
	case err != nil:
		return fmt.Errorf("sqlstore: lookup %s/%s: %w", rec.PeerID, rec.LocalSequence, err)
	}

	switch {
	case !rec.GlobalPosition.Valid:
		// Never clear an assigned position.
		return nil
	case cur.Valid && cur != rec.GlobalPosition:
		return &replog.ConflictError{
			PeerID:        rec.PeerID,
			LocalSequence: rec.LocalSequence,
			Existing:      cur,
			Incoming:      rec.GlobalPosition,
		}
	case cur.Valid:
		return nil
	}
	if err := checkFree(tx, rec); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE records SET global_position = ? WHERE slot = ?`, rec.GlobalPosition, slot); err != nil {
		return fmt.Errorf("sqlstore: assign position %s: %w", rec.GlobalPosition, err)
	}
	return nil
}

func insertAnonymous(tx *sql.Tx, rec replog.Record) error {
	if !rec.GlobalPosition.Valid {
		return insertRow(tx, rec)
	}
	var peer sql.NullString
	var seq replog.NullUint64
	var payload []byte
	err := tx.QueryRow(`SELECT peer_id, local_sequence, payload FROM records WHERE global_position = ?`,
		rec.GlobalPosition).Scan(&peer, &seq, &payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return insertRow(tx, rec)
	case err != nil:
		return fmt.Errorf("sqlstore: lookup position %s: %w", rec.GlobalPosition, err)
	}
	held := replog.Record{PeerID: replog.PeerID(peer.String), LocalSequence: seq}
	if !held.HasIdentity() && bytes.Equal(payload, rec.Payload) {
		return nil
	}
	return positionConflict(rec)
}

// checkFree fails when rec's position is already held. Callers have
// established that the holder cannot be rec itself.
func checkFree(tx *sql.Tx, rec replog.Record) error {
	var n int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM records WHERE global_position = ?`, rec.GlobalPosition).Scan(&n); err != nil {
		return fmt.Errorf("sqlstore: check position %s: %w", rec.GlobalPosition, err)
	}
	if n > 0 {
		return positionConflict(rec)
	}
	return nil
}

func positionConflict(rec replog.Record) error {
	return &replog.ConflictError{
		PeerID:        rec.PeerID,
		LocalSequence: rec.LocalSequence,
		Incoming:      rec.GlobalPosition,
		Position:      true,
	}
}

func insertRow(tx *sql.Tx, rec replog.Record) error {
	_, err := tx.Exec(`INSERT INTO records(`+columns+`) VALUES(?, ?, ?, ?)`,
		rec.GlobalPosition, rec.LocalSequence, nullPeer(rec.PeerID), rec.Payload)
	if err != nil {
		return fmt.Errorf("sqlstore: insert: %w", err)
	}
	return nil
}

// Range returns sequenced records with from <= position <= to.
func (s *Store) Range(from, to replog.NullUint64) ([]replog.Record, error) {
	q := `SELECT ` + columns + ` FROM records WHERE global_position IS NOT NULL`
	var args []any
	if from.Valid {
		q += ` AND global_position >= ?`
		args = append(args, from)
	}
	if to.Valid {
		q += ` AND global_position <= ?`
		args = append(args, to)
	}
	return s.query(q+` ORDER BY global_position`, args...)
}

// Pending returns up to limit unsequenced records in insertion order.
func (s *Store) Pending(limit int) ([]replog.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(`SELECT `+columns+` FROM records WHERE global_position IS NULL ORDER BY slot LIMIT ?`, limit)
}

// All returns sequenced records by position, then pending ones.
func (s *Store) All() ([]replog.Record, error) {
	return s.query(`SELECT ` + columns + ` FROM records ORDER BY global_position IS NULL, global_position, slot`)
}

func (s *Store) MaxLocalSequence(id replog.PeerID) (int64, error) {
	var v sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(local_sequence) FROM records WHERE peer_id = ?`, string(id)).Scan(&v); err != nil {
		return 0, fmt.Errorf("sqlstore: max local sequence: %w", err)
	}
	if !v.Valid {
		return -1, nil
	}
	return v.Int64, nil
}

func (s *Store) MaxGlobalPosition() (replog.NullUint64, error) {
	var v replog.NullUint64
	if err := s.db.QueryRow(`SELECT MAX(global_position) FROM records`).Scan(&v); err != nil {
		return replog.None, fmt.Errorf("sqlstore: max global position: %w", err)
	}
	return v, nil
}

func (s *Store) query(q string, args ...any) ([]replog.Record, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query: %w", err)
	}
	defer rows.Close()

	var out []replog.Record
	for rows.Next() {
		var r replog.Record
		var peer sql.NullString
		if err := rows.Scan(&r.GlobalPosition, &r.LocalSequence, &peer, &r.Payload); err != nil {
			return nil, fmt.Errorf("sqlstore: scan: %w", err)
		}
		r.PeerID = replog.PeerID(peer.String)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: rows: %w", err)
	}
	return out, nil
}
