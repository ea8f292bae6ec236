package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUpIsIdempotent verifies a second Up applies nothing new.
func TestUpIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db.DB.DB)

	require.NoError(t, m.Up())
	applied, err := m.Applied()
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, 1, applied[0].Version)
	assert.Equal(t, "initial_schema", applied[0].Description)
	assert.Len(t, applied[0].Checksum, 64)

	version, err := m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

// TestDownThenUp verifies the rollback drops the schema and Up restores it.
func TestDownThenUp(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db.DB.DB)

	require.NoError(t, m.Down())
	version, err := m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 0, version)

	var n int
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM sqlite_master WHERE name = 'sync_queue'"))
	assert.Equal(t, 0, n)

	assert.Error(t, m.Down(), "nothing left to roll back")

	require.NoError(t, m.Up())
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM sqlite_master WHERE name = 'sync_queue'"))
	assert.Equal(t, 1, n)
}

// TestUpDetectsEditedMigration verifies a checksum mismatch is reported.
func TestUpDetectsEditedMigration(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec("UPDATE schema_migrations SET checksum = ? WHERE version = 1", strings.Repeat("0", 64))
	require.NoError(t, err)

	err = NewMigrator(db.DB.DB).Up()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "changed after it was applied")
}
