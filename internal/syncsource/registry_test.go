package syncsource

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/onesync/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	handle, err := db.Open(t.TempDir(), "data.md")
	require.NoError(t, err)
	t.Cleanup(func() { handle.Close() })

	reg := NewRegistry(handle)
	require.NoError(t, reg.CreateSchema(context.Background()))
	return reg
}

func TestNew_GeneratesDistinctIDs(t *testing.T) {
	a := New("/data/a")
	b := New("/data/a")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "/data/a", a.Path)
}

func TestIntermediaryStorage_DatabasePath(t *testing.T) {
	s := NewIntermediaryStorage("/mnt/dropbox/relay")
	assert.Equal(t, "/mnt/dropbox/relay/data.md", s.DatabasePath("data.md"))
}

func TestRegistry_CreateSchemaIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.CreateSchema(context.Background()))
	require.NoError(t, reg.CreateSchema(context.Background()))
}

func TestRegistry_AddGetList(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	src := &SyncSource{ID: "s1", Path: "/home/alice/docs"}
	require.NoError(t, reg.Add(ctx, src))

	got, err := reg.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, src, got)

	missing, err := reg.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRegistry_TwoSourceCap(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.Add(ctx, &SyncSource{ID: "s1", Path: "/a"}))
	require.NoError(t, reg.Add(ctx, &SyncSource{ID: "s2", Path: "/b"}))

	err := reg.Add(ctx, &SyncSource{ID: "s3", Path: "/c"})
	assert.ErrorIs(t, err, ErrTooManySources)

	count, err := reg.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	third, err := reg.Get(ctx, "s3")
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestRegistry_Update(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.Add(ctx, &SyncSource{ID: "s1", Path: "/a"}))
	require.NoError(t, reg.Update(ctx, &SyncSource{ID: "s1", Path: "/moved"}))

	got, err := reg.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "/moved", got.Path)

	err = reg.Update(ctx, &SyncSource{ID: "ghost", Path: "/x"})
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestRegistry_CountTxExcludesOwnID(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.Add(ctx, &SyncSource{ID: "s1", Path: "/a"}))
	require.NoError(t, reg.Add(ctx, &SyncSource{ID: "s2", Path: "/b"}))

	err := db.WithTx(ctx, reg.db, func(tx *sqlx.Tx) error {
		all, err := CountTx(tx, "")
		require.NoError(t, err)
		assert.Equal(t, 2, all)

		others, err := CountTx(tx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 1, others)
		return nil
	})
	require.NoError(t, err)
}

func TestRegistry_DeleteTx(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.Add(ctx, &SyncSource{ID: "s1", Path: "/a"}))
	require.NoError(t, db.WithTx(ctx, reg.db, func(tx *sqlx.Tx) error {
		return DeleteTx(tx, "s1")
	}))

	count, err := reg.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
