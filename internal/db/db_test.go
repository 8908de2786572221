package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSqliteDB_Memory_Defaults(t *testing.T) {
	database, err := NewSqliteDB()
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);")
	require.NoError(t, err)
}

func TestNewSqliteDB_File_CreatesParent(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "nested", "data.md")

	database, err := NewSqliteDB(WithPath(dbPath))
	require.NoError(t, err)
	defer database.Close()

	assert.DirExists(t, filepath.Dir(dbPath))
}

func TestNewSqliteDB_CustomPragmas_AllowsOverride(t *testing.T) {
	database, err := NewSqliteDB(WithPragmas("PRAGMA journal_mode=WAL;"))
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t2 (id INTEGER PRIMARY KEY);")
	assert.NoError(t, err)
}

func TestOpen_ForeignKeysEnabled(t *testing.T) {
	handle, err := Open(t.TempDir(), "data.md")
	require.NoError(t, err)
	defer handle.Close()

	var enabled int
	require.NoError(t, handle.Get(&enabled, "PRAGMA foreign_keys"))
	assert.Equal(t, 1, enabled)
}

func TestOpen_Unavailable(t *testing.T) {
	// a regular file where the store directory should be
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := Open(filepath.Join(blocker, "sub"), "data.md")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestUse_ClosesHandle(t *testing.T) {
	var captured *sqlx.DB
	err := Use(t.TempDir(), "data.md", func(h *sqlx.DB) error {
		captured = h
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	require.NotNil(t, captured)
	assert.Error(t, captured.Ping(), "handle should be closed after Use returns")
}

func TestWithTx_CommitAndRollback(t *testing.T) {
	handle, err := Open(t.TempDir(), "data.md")
	require.NoError(t, err)
	defer handle.Close()

	ctx := context.Background()
	_, err = handle.Exec("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
	require.NoError(t, err)

	err = WithTx(ctx, handle, func(tx *sqlx.Tx) error {
		_, err := tx.Exec("INSERT INTO kv (k, v) VALUES ('a', '1')")
		return err
	})
	require.NoError(t, err)

	err = WithTx(ctx, handle, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec("INSERT INTO kv (k, v) VALUES ('b', '2')"); err != nil {
			return err
		}
		// duplicate key aborts the whole unit
		_, err := tx.Exec("INSERT INTO kv (k, v) VALUES ('a', '3')")
		return err
	})
	require.Error(t, err)

	var keys []string
	require.NoError(t, handle.Select(&keys, "SELECT k FROM kv ORDER BY k"))
	assert.Equal(t, []string{"a"}, keys)
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	handle, err := Open(t.TempDir(), "data.md")
	require.NoError(t, err)
	defer handle.Close()

	_, err = handle.Exec("CREATE TABLE kv (k TEXT PRIMARY KEY)")
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = WithTx(context.Background(), handle, func(tx *sqlx.Tx) error {
			_, _ = tx.Exec("INSERT INTO kv (k) VALUES ('a')")
			panic("boom")
		})
	})

	var count int
	require.NoError(t, handle.Get(&count, "SELECT COUNT(*) FROM kv"))
	assert.Equal(t, 0, count)
}

func TestUseExisting_MissingStoreIsNotCreated(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "unmounted")

	called := false
	err := UseExisting(dir, "data.md", func(*sqlx.DB) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, called)
	assert.NoDirExists(t, dir)
	assert.False(t, Exists(dir, "data.md"))

	require.NoError(t, Use(dir, "data.md", func(handle *sqlx.DB) error {
		_, err := handle.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY)")
		return err
	}))
	assert.True(t, Exists(dir, "data.md"))

	err = UseExisting(dir, "data.md", func(handle *sqlx.DB) error {
		var count int
		return handle.Get(&count, "SELECT COUNT(*) FROM t")
	})
	assert.NoError(t, err)
}
