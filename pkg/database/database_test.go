package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", Postgres.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	assert.Equal(t, "SELECT * FROM t WHERE a = ?", SQLite.Rebind("SELECT * FROM t WHERE a = ?"))
}

func TestOpen_Lite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opsbot.db")
	db, dialect, err := Open(context.Background(), "", path)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, SQLite, dialect)
	assert.Equal(t, "sqlite", dialect.String())

	_, err = db.Exec("CREATE TABLE t (id TEXT)")
	assert.NoError(t, err)
}

func TestDialect_Driver(t *testing.T) {
	assert.Equal(t, "postgres", Postgres.Driver())
	assert.Equal(t, "sqlite", SQLite.Driver())
}
