package db

import (
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migration represents an applied schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

type migrationFile struct {
	version     int
	description string
	name        string
}

// Migrator applies the embedded schema migrations.
type Migrator struct {
	db    *sql.DB
	files fs.FS
}

// NewMigrator creates a Migrator over the embedded migrations.
func NewMigrator(db *sql.DB) *Migrator {
	sub, _ := fs.Sub(migrationFS, "migrations")
	return &Migrator{db: db, files: sub}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	_, err := m.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	if err := m.Initialize(); err != nil {
		return 0, err
	}
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Applied returns all applied migrations in version order.
func (m *Migrator) Applied() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		out = append(out, mig)
	}
	return out, rows.Err()
}

// list returns the migration files with the given suffix, sorted by version.
// Names follow V<version>__<description><suffix>.
func (m *Migrator) list(suffix string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, err
	}
	var files []migrationFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		parts := strings.SplitN(strings.TrimSuffix(name, suffix), "__", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.Atoi(strings.TrimPrefix(parts[0], "V"))
		if err != nil {
			continue
		}
		files = append(files, migrationFile{version: version, description: parts[1], name: name})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// Up applies all pending migrations. A migration whose recorded checksum
// no longer matches its file is reported rather than silently skipped.
func (m *Migrator) Up() error {
	if err := m.Initialize(); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "create schema_migrations", err)
	}
	applied, err := m.Applied()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "read applied migrations", err)
	}
	checksums := make(map[int]string, len(applied))
	for _, mig := range applied {
		checksums[mig.Version] = mig.Checksum
	}

	files, err := m.list(".up.sql")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "list migrations", err)
	}
	for _, f := range files {
		content, err := fs.ReadFile(m.files, f.name)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, "read "+f.name, err)
		}
		sum := checksum(content)
		if recorded, ok := checksums[f.version]; ok {
			if recorded != sum {
				return apperrors.Newf(apperrors.ErrMigration, "migration V%d changed after it was applied", f.version)
			}
			continue
		}
		if err := m.apply(f, content, sum); err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, fmt.Sprintf("apply V%d", f.version), err)
		}
	}
	return nil
}

func (m *Migrator) apply(f migrationFile, content []byte, sum string) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at, description, checksum)
		VALUES (?, ?, ?, ?)`, f.version, time.Now().Unix(), f.description, sum); err != nil {
		return err
	}
	return tx.Commit()
}

// Down rolls back the last applied migration.
func (m *Migrator) Down() error {
	current, err := m.CurrentVersion()
	if err != nil {
		return err
	}
	if current == 0 {
		return apperrors.New(apperrors.ErrMigration, "no migrations to rollback")
	}
	files, err := m.list(".down.sql")
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.version != current {
			continue
		}
		content, err := fs.ReadFile(m.files, f.name)
		if err != nil {
			return err
		}
		tx, err := m.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.Exec(string(content)); err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, fmt.Sprintf("rollback V%d", current), err)
		}
		if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", current); err != nil {
			return err
		}
		return tx.Commit()
	}
	return apperrors.Newf(apperrors.ErrMigration, "no rollback migration found for version %d", current)
}

func checksum(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}
