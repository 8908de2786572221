package syncsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/onesync/internal/db"
)

// MaxSources is the number of sources an intermediary storage can relay between.
const MaxSources = 2

var (
	// ErrTooManySources is returned when a store already holds MaxSources registrations.
	ErrTooManySources = errors.New("intermediary storage already has two sync sources")
	// ErrSourceNotFound is returned when updating a source that is not registered.
	ErrSourceNotFound = errors.New("sync source not registered")
)

const schema = `
CREATE TABLE IF NOT EXISTS datasource_info (
    source_id TEXT PRIMARY KEY,
    source_absolute_path TEXT NOT NULL
);
`

type dbSource struct {
	ID   string `db:"source_id"`
	Path string `db:"source_absolute_path"`
}

// Registry records the sources known to one physical store. The same registry table exists
// in a job's home store and in its intermediary store.
type Registry struct {
	db *sqlx.DB
}

// NewRegistry binds a registry to an open store handle.
func NewRegistry(handle *sqlx.DB) *Registry {
	return &Registry{db: handle}
}

// CreateSchema creates the registry table if it does not exist.
func (r *Registry) CreateSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create source registry schema: %w", err)
	}
	return nil
}

// CreateSchemaTx creates the registry table inside tx.
func CreateSchemaTx(tx *sqlx.Tx) error {
	if _, err := tx.Exec(schema); err != nil {
		return fmt.Errorf("create source registry schema: %w", err)
	}
	return nil
}

// Add registers src in its own transaction.
func (r *Registry) Add(ctx context.Context, src *SyncSource) error {
	return db.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return AddTx(tx, src)
	})
}

// AddTx registers src inside tx. The cap is counted in the same transaction as the insert so two
// concurrent registrations cannot both observe a free slot.
func AddTx(tx *sqlx.Tx, src *SyncSource) error {
	count, err := CountTx(tx, "")
	if err != nil {
		return err
	}
	if count >= MaxSources {
		return ErrTooManySources
	}

	_, err = tx.NamedExec(`INSERT INTO datasource_info (source_id, source_absolute_path)
	                       VALUES (:source_id, :source_absolute_path)`, dbSource(*src))
	if err != nil {
		return fmt.Errorf("add sync source %s: %w", src.ID, err)
	}
	slog.Debug("source registry add", "source", src.ID, "path", src.Path)
	return nil
}

// AddUncappedTx registers src inside tx without checking the cap. A job's home store registers
// one source per job and has no cap.
func AddUncappedTx(tx *sqlx.Tx, src *SyncSource) error {
	_, err := tx.NamedExec(`INSERT INTO datasource_info (source_id, source_absolute_path)
	                       VALUES (:source_id, :source_absolute_path)`, dbSource(*src))
	if err != nil {
		return fmt.Errorf("add sync source %s: %w", src.ID, err)
	}
	return nil
}

// Count returns the number of registered sources.
func (r *Registry) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM datasource_info"); err != nil {
		return 0, fmt.Errorf("count sync sources: %w", err)
	}
	return count, nil
}

// CountTx returns the number of registered sources inside tx, ignoring excludeID when set.
func CountTx(tx *sqlx.Tx, excludeID string) (int, error) {
	var count int
	if err := tx.Get(&count, "SELECT COUNT(*) FROM datasource_info WHERE source_id <> ?", excludeID); err != nil {
		return 0, fmt.Errorf("count sync sources: %w", err)
	}
	return count, nil
}

// Update rewrites the path of a registered source in its own transaction.
func (r *Registry) Update(ctx context.Context, src *SyncSource) error {
	return db.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return UpdateTx(tx, src)
	})
}

// UpdateTx rewrites the path of a registered source inside tx.
func UpdateTx(tx *sqlx.Tx, src *SyncSource) error {
	res, err := tx.NamedExec(`UPDATE datasource_info SET source_absolute_path = :source_absolute_path
	                          WHERE source_id = :source_id`, dbSource(*src))
	if err != nil {
		return fmt.Errorf("update sync source %s: %w", src.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sync source %s: %w", src.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, src.ID)
	}
	return nil
}

// DeleteTx removes the registration of id inside tx.
func DeleteTx(tx *sqlx.Tx, id string) error {
	if _, err := tx.Exec("DELETE FROM datasource_info WHERE source_id = ?", id); err != nil {
		return fmt.Errorf("delete sync source %s: %w", id, err)
	}
	return nil
}

// Get returns the registered source with id, or nil when it is not registered.
func (r *Registry) Get(ctx context.Context, id string) (*SyncSource, error) {
	var row dbSource
	err := r.db.GetContext(ctx, &row, "SELECT source_id, source_absolute_path FROM datasource_info WHERE source_id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get sync source %s: %w", id, err)
	}
	src := SyncSource(row)
	return &src, nil
}

// GetTx is Get inside tx.
func GetTx(tx *sqlx.Tx, id string) (*SyncSource, error) {
	var row dbSource
	err := tx.Get(&row, "SELECT source_id, source_absolute_path FROM datasource_info WHERE source_id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get sync source %s: %w", id, err)
	}
	src := SyncSource(row)
	return &src, nil
}

// List returns every registered source ordered by id.
func (r *Registry) List(ctx context.Context) ([]*SyncSource, error) {
	var rows []dbSource
	if err := r.db.SelectContext(ctx, &rows, "SELECT source_id, source_absolute_path FROM datasource_info ORDER BY source_id"); err != nil {
		return nil, fmt.Errorf("list sync sources: %w", err)
	}
	sources := make([]*SyncSource, 0, len(rows))
	for _, row := range rows {
		src := SyncSource(row)
		sources = append(sources, &src)
	}
	return sources, nil
}
