package database

import (
	"path/filepath"
	"testing"

	"docchat-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite(t *testing.T) {
	db, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "docchat.db")},
	})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", db.Dialector.Name())
	require.NoError(t, db.Exec("SELECT 1").Error)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}
