// Package storage opens the shared SQLite database used by the task
// and memory stores. Schema ownership stays with those packages; this
// package only manages the connection and its pragmas.
package storage

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/refinelabs/refinery/pkg/errors"
)

// DB wraps the shared SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) the SQLite database at path and applies the
// pragmas the stores rely on. Use ":memory:" for tests.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.ExternalService, "open sqlite database"),
			errors.Fields{"path": path})
	}

	// A single connection sidesteps SQLITE_BUSY between the two stores.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, errors.WithFields(
				errors.Wrap(err, errors.ExternalService, "apply sqlite pragma"),
				errors.Fields{"pragma": p})
		}
	}

	return &DB{conn: conn, path: path}, nil
}

// Conn exposes the underlying connection for the stores.
func (d *DB) Conn() *sql.DB { return d.conn }

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Close releases the connection.
func (d *DB) Close() error { return d.conn.Close() }
