package syncjob

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/onesync/internal/db"
)

// txFactory lazily opens one physical store and begins a transaction on it, so a store is only
// touched once the operation actually needs it.
type txFactory struct {
	ctx    context.Context
	dir    string
	name   string
	handle *sqlx.DB
	tx     *sqlx.Tx
}

func (f *txFactory) path() string {
	return db.Path(f.dir, f.name)
}

func (f *txFactory) begin() (*sqlx.Tx, error) {
	if f.tx != nil {
		return f.tx, nil
	}
	if f.handle == nil {
		handle, err := db.Open(f.dir, f.name)
		if err != nil {
			return nil, err
		}
		f.handle = handle
	}
	tx, err := f.handle.BeginTxx(f.ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction on %s: %w", db.ErrStoreUnavailable, f.path(), err)
	}
	f.tx = tx
	return tx, nil
}

func (f *txFactory) commit() error {
	if f.tx == nil {
		return nil
	}
	tx := f.tx
	f.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", f.path(), err)
	}
	return nil
}

func (f *txFactory) rollback() {
	if f.tx == nil {
		return
	}
	if err := f.tx.Rollback(); err != nil {
		slog.Error("db rollback", "store", f.path(), "error", err)
	}
	f.tx = nil
}

func (f *txFactory) close() {
	f.rollback()
	if f.handle == nil {
		return
	}
	if err := f.handle.Close(); err != nil {
		slog.Warn("db close", "store", f.path(), "error", err)
	}
	f.handle = nil
}

// withStores runs fn with lazily opened transactions on the home store and on the store of the
// intermediary at interDir. On success the intermediary commits first and the home store
// second; there is no coordinator, so a failure between the two commits is logged and
// returned but not undone. Handles are closed on every exit path.
func (m *Manager) withStores(ctx context.Context, interDir string, fn func(home, inter *txFactory) error) error {
	home := &txFactory{ctx: ctx, dir: m.root, name: m.dbName}
	inter := &txFactory{ctx: ctx, dir: interDir, name: m.dbName}
	defer home.close()
	defer inter.close()

	if err := fn(home, inter); err != nil {
		inter.rollback()
		home.rollback()
		return err
	}

	if err := inter.commit(); err != nil {
		home.rollback()
		return err
	}
	if m.beforeHomeCommit != nil {
		if err := m.beforeHomeCommit(); err != nil {
			home.rollback()
			slog.Error("cross-store partial commit", "committed", inter.path(), "rolledBack", home.path(), "error", err)
			return err
		}
	}
	if err := home.commit(); err != nil {
		slog.Error("cross-store partial commit", "committed", inter.path(), "failed", home.path(), "error", err)
		return err
	}
	return nil
}
