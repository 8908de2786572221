package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/onesync/internal/utils"
)

var (
	// ErrStoreUnavailable is returned when a physical store cannot be opened or created.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Path returns the database file path of the store living in dir.
func Path(dir, name string) string {
	return filepath.Join(dir, name)
}

// Open opens (creating if necessary) the store <dir>/<name>.
// A store handle uses a single connection so pragmas and transactions stay on one session.
func Open(dir, name string) (*sqlx.DB, error) {
	path := Path(dir, name)
	handle, err := NewSqliteDB(WithPath(path), WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, path, err)
	}
	return handle, nil
}

// OpenExisting opens the store <dir>/<name> without creating the file or its directory.
// A missing store fails with ErrStoreUnavailable.
func OpenExisting(dir, name string) (*sqlx.DB, error) {
	path := Path(dir, name)
	handle, err := NewSqliteDB(WithPath(path), WithMaxOpenConns(1), WithExistingOnly())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, path, err)
	}
	return handle, nil
}

// Exists reports whether the store file <dir>/<name> is present.
func Exists(dir, name string) bool {
	return utils.FileExists(Path(dir, name))
}

// Use opens the store <dir>/<name>, runs fn and closes the handle on every exit path.
func Use(dir, name string, fn func(*sqlx.DB) error) error {
	return use(dir, name, Open, fn)
}

// UseExisting is Use for a store that must already exist. Read paths go through it so a
// missing store is reported instead of recreated empty.
func UseExisting(dir, name string, fn func(*sqlx.DB) error) error {
	return use(dir, name, OpenExisting, fn)
}

func use(dir, name string, open func(dir, name string) (*sqlx.DB, error), fn func(*sqlx.DB) error) error {
	handle, err := open(dir, name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := handle.Close(); cerr != nil {
			slog.Warn("db close", "path", Path(dir, name), "error", cerr)
		}
	}()
	return fn(handle)
}

// WithTx runs fn inside a transaction on db. The transaction is committed when fn returns nil
// and rolled back otherwise, including when fn panics.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("db rollback", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
