// Package devdb reads the facility device inventory from SQLite and
// instantiates the active devices for a beamline. Construction is
// fault isolated per device: one bad record never hides the rest of
// the beamline.
package devdb

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// Record is one inventory row.
type Record struct {
	Name     string
	Beamline string
	Kind     string
	Prefix   string
	Active   bool
	// Z is the device position along the beam axis in meters.
	Z        float64
	Metadata map[string]any
}

// Store is a read-mostly handle on the inventory database.
type Store struct {
	db *sql.DB
}

// Open opens the inventory at path, creating the schema if needed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	name     TEXT PRIMARY KEY,
	beamline TEXT NOT NULL,
	kind     TEXT NOT NULL,
	prefix   TEXT NOT NULL,
	active   INTEGER NOT NULL DEFAULT 1,
	z        REAL NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS devices_beamline ON devices(beamline);
`

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put inserts or replaces one record.
func (s *Store) Put(rec Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata for %s: %w", rec.Name, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO devices (name, beamline, kind, prefix, active, z, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			beamline = excluded.beamline,
			kind     = excluded.kind,
			prefix   = excluded.prefix,
			active   = excluded.active,
			z        = excluded.z,
			metadata = excluded.metadata`,
		rec.Name, rec.Beamline, rec.Kind, rec.Prefix, rec.Active, rec.Z, string(meta))
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.Name, err)
	}
	return nil
}

// Search returns the active records for a beamline ordered by beam
// position, then name.
func (s *Store) Search(beamline string) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT name, beamline, kind, prefix, active, z, metadata
		FROM devices
		WHERE beamline = ? AND active = 1
		ORDER BY z, name`, beamline)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", beamline, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var meta string
		if err := rows.Scan(&rec.Name, &rec.Beamline, &rec.Kind, &rec.Prefix, &rec.Active, &rec.Z, &meta); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", rec.Name, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get returns one record by name.
func (s *Store) Get(name string) (Record, error) {
	var rec Record
	var meta string
	err := s.db.QueryRow(`
		SELECT name, beamline, kind, prefix, active, z, metadata
		FROM devices WHERE name = ?`, name).
		Scan(&rec.Name, &rec.Beamline, &rec.Kind, &rec.Prefix, &rec.Active, &rec.Z, &meta)
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
		return Record{}, fmt.Errorf("decode metadata for %s: %w", name, err)
	}
	return rec, nil
}
