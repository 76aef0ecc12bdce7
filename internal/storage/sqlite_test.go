package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteMigratesSchema(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "history.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", "prompt_log").Scan(&name)
	require.NoError(t, err, "prompt_log table missing")

	var version int
	require.NoError(t, db.QueryRow("PRAGMA user_version;").Scan(&version))
	assert.Equal(t, SchemaVersion, version)

	// Re-running is a no-op.
	require.NoError(t, Migrate(context.Background(), db))
}

func TestOpenSQLiteReopensExistingDatabase(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "history.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO prompt_log(id, source, prompt, created_at) VALUES('a', 'run', 'print(1)', 'x');`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM prompt_log;").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestMigrateRejectsNewerSchema(t *testing.T) {
	t.Parallel()

	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(fmt.Sprintf("PRAGMA user_version = %d;", SchemaVersion+1))
	require.NoError(t, err)

	err = Migrate(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than this build")
}

func TestOpenSQLiteRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := OpenSQLite(context.Background(), "")
	assert.Error(t, err)
}
