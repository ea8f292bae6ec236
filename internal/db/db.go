// Package db is the local store: one SQLite table per mirrored table plus
// the durable sync queue.
package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "profsync.db"

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// DB wraps sqlx.DB with the local store configuration.
type DB struct {
	*sqlx.DB
	path string
}

// Open opens the SQLite database in dataDir and applies pending migrations.
// The database is opened with:
// - WAL mode for concurrent reads/writes
// - Foreign key constraints enabled
// - A busy timeout so short lock waits do not surface as errors
func Open(ctx context.Context, dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create data directory")
	}
	path := filepath.Join(dataDir, FileName)
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)

	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// SQLite doesn't support multiple writers
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "ping %s", path)
	}

	db := &DB{DB: conn, path: path}
	if err := NewMigrator(conn.DB).Up(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
