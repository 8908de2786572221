package syncjob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/onesync/internal/db"
	"github.com/openmined/onesync/internal/metadata"
	"github.com/openmined/onesync/internal/storelock"
	"github.com/openmined/onesync/internal/syncsource"
	"github.com/openmined/onesync/internal/utils"
)

// DefaultDatabaseName is the store file kept in the storage root and in every intermediary.
const DefaultDatabaseName = "data.md"

const jobSchema = `
CREATE TABLE IF NOT EXISTS syncjob (
    syncjob_id TEXT PRIMARY KEY,
    profile_name TEXT UNIQUE NOT NULL,
    metadata_source_location TEXT NOT NULL,
    sync_source_id TEXT NOT NULL REFERENCES datasource_info(source_id)
);
`

const selectJobs = `
SELECT j.syncjob_id, j.profile_name, j.metadata_source_location, j.sync_source_id, d.source_absolute_path
FROM syncjob j JOIN datasource_info d ON j.sync_source_id = d.source_id`

type dbJob struct {
	ID           string `db:"syncjob_id"`
	Name         string `db:"profile_name"`
	Intermediary string `db:"metadata_source_location"`
	SourceID     string `db:"sync_source_id"`
	SourcePath   string `db:"source_absolute_path"`
}

func (d dbJob) toJob() *SyncJob {
	return &SyncJob{
		ID:           d.ID,
		Name:         d.Name,
		Source:       &syncsource.SyncSource{ID: d.SourceID, Path: d.SourcePath},
		Intermediary: syncsource.NewIntermediaryStorage(d.Intermediary),
	}
}

// ManagerConfig locates the home store holding job registrations.
type ManagerConfig struct {
	StorageRoot  string
	DatabaseName string
}

// Manager creates, loads, edits and deletes sync jobs.
//
// A job lives in two physical stores: the home store under StorageRoot (job row + source row)
// and the store inside its intermediary storage (source row + metadata of both sides). Each
// store commits on its own. Writes that touch both always commit the intermediary first and
// the home store second. A crash between the two commits leaves the source registered in the
// intermediary only; Repair brings such pairs back in line.
type Manager struct {
	root   string
	dbName string

	// beforeHomeCommit runs between the two commits; tests use it to simulate a crash there.
	beforeHomeCommit func() error
}

// NewManager returns a Manager for the home store described by cfg.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.StorageRoot == "" {
		return nil, newError(KindInvalid, "new manager", "", errors.New("storage root is required"))
	}
	root, err := utils.ResolvePath(cfg.StorageRoot)
	if err != nil {
		return nil, newError(KindInvalid, "new manager", "", err)
	}
	name := cfg.DatabaseName
	if name == "" {
		name = DefaultDatabaseName
	}
	return &Manager{root: root, dbName: name}, nil
}

// StorageRoot returns the directory of the home store.
func (m *Manager) StorageRoot() string {
	return m.root
}

// DatabaseName returns the store file name used in the home and intermediary directories.
func (m *Manager) DatabaseName() string {
	return m.dbName
}

// HomeDatabasePath returns the home store file.
func (m *Manager) HomeDatabasePath() string {
	return db.Path(m.root, m.dbName)
}

// CreateSchemaTx provisions the home store tables inside tx.
func CreateSchemaTx(tx *sqlx.Tx) error {
	if err := syncsource.CreateSchemaTx(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(jobSchema); err != nil {
		return fmt.Errorf("create sync job schema: %w", err)
	}
	return nil
}

// CreateIntermediarySchemaTx provisions the intermediary store tables inside tx.
func CreateIntermediarySchemaTx(tx *sqlx.Tx) error {
	if err := syncsource.CreateSchemaTx(tx); err != nil {
		return err
	}
	return metadata.CreateSchemaTx(tx)
}

// CreateSyncJob registers a new job named name syncing sourcePath through intermediaryPath.
// Both stores are provisioned and the source is registered in both; the attempt leaves no rows
// behind when the name is taken or the intermediary already relays two sources.
func (m *Manager) CreateSyncJob(ctx context.Context, name, sourcePath, intermediaryPath string) (*SyncJob, error) {
	const op = "create"

	if err := m.validate(op, name, sourcePath, intermediaryPath); err != nil {
		return nil, err
	}
	sourcePath, intermediaryPath, err := m.resolve(op, name, sourcePath, intermediaryPath)
	if err != nil {
		return nil, err
	}
	job := New(name, sourcePath, intermediaryPath)

	if err := m.ensureDirs(op, job); err != nil {
		return nil, err
	}

	release, err := storelock.Acquire(ctx, m.HomeDatabasePath(), job.Intermediary.DatabasePath(m.dbName))
	if err != nil {
		return nil, newError(KindStoreUnavailable, op, name, err)
	}
	defer release()

	err = m.withStores(ctx, job.Intermediary.Path, func(homeTx, interTx *txFactory) error {
		home, err := homeTx.begin()
		if err != nil {
			return err
		}
		if err := CreateSchemaTx(home); err != nil {
			return err
		}
		if err := checkName(home, op, job); err != nil {
			return err
		}

		inter, err := interTx.begin()
		if err != nil {
			return err
		}
		if err := CreateIntermediarySchemaTx(inter); err != nil {
			return err
		}
		if err := syncsource.AddTx(inter, job.Source); err != nil {
			return err
		}

		if err := syncsource.AddUncappedTx(home, job.Source); err != nil {
			return err
		}
		return insertJobTx(home, job)
	})
	if err != nil {
		return nil, storeError(op, name, err)
	}

	slog.Info("sync job created", "job", job.Name, "id", job.ID, "source", job.Source.Path, "intermediary", job.Intermediary.Path)
	return job, nil
}

// Load returns the job named name, or nil when no such job exists.
// Unlike LoadAll, store faults are returned to the caller.
func (m *Manager) Load(ctx context.Context, name string) (*SyncJob, error) {
	if !utils.FileExists(m.HomeDatabasePath()) {
		return nil, nil
	}

	var job *SyncJob
	err := db.Use(m.root, m.dbName, func(handle *sqlx.DB) error {
		var row dbJob
		err := handle.GetContext(ctx, &row, selectJobs+" WHERE j.profile_name = ?", name)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("load sync job: %w", err)
		}
		job = row.toJob()
		return nil
	})
	if err != nil {
		return nil, storeError("load", name, err)
	}
	return job, nil
}

// LoadAll returns every job of the home store ordered by name. Any fault, such as a home store
// that was never fully provisioned, yields an empty list.
func (m *Manager) LoadAll(ctx context.Context) []*SyncJob {
	jobs := []*SyncJob{}
	if !utils.FileExists(m.HomeDatabasePath()) {
		return jobs
	}

	err := db.Use(m.root, m.dbName, func(handle *sqlx.DB) error {
		var rows []dbJob
		if err := handle.SelectContext(ctx, &rows, selectJobs+" ORDER BY j.profile_name"); err != nil {
			return err
		}
		for _, row := range rows {
			jobs = append(jobs, row.toJob())
		}
		return nil
	})
	if err != nil {
		slog.Warn("load sync jobs", "store", m.HomeDatabasePath(), "error", err)
		return []*SyncJob{}
	}
	return jobs
}

// Update applies a renamed job, a moved source folder or a new intermediary storage.
// The name must stay unique and the target intermediary must have room for the source.
// The intermediary registration commits first, then the source and job rows at home.
// The resolved paths are written back to job only when the update succeeds.
func (m *Manager) Update(ctx context.Context, job *SyncJob) error {
	const op = "update"

	if job == nil || job.Source == nil || job.Intermediary == nil {
		return newError(KindInvalid, op, "", errors.New("job, source and intermediary are required"))
	}
	if err := m.validate(op, job.Name, job.Source.Path, job.Intermediary.Path); err != nil {
		return err
	}
	sourcePath, intermediaryPath, err := m.resolve(op, job.Name, job.Source.Path, job.Intermediary.Path)
	if err != nil {
		return err
	}
	next := job.Clone()
	next.Source.Path = sourcePath
	next.Intermediary.Path = intermediaryPath

	if err := m.ensureDirs(op, next); err != nil {
		return err
	}

	release, err := storelock.Acquire(ctx, m.HomeDatabasePath(), next.Intermediary.DatabasePath(m.dbName))
	if err != nil {
		return newError(KindStoreUnavailable, op, next.Name, err)
	}
	defer release()

	err = m.withStores(ctx, next.Intermediary.Path, func(homeTx, interTx *txFactory) error {
		home, err := homeTx.begin()
		if err != nil {
			return err
		}
		current, err := loadByIDTx(home, next.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return newError(KindNotFound, op, next.Name, nil)
		}
		if current.Source.ID != next.Source.ID {
			return newError(KindInvalid, op, next.Name, errors.New("the sync source of a job cannot be replaced"))
		}
		if err := checkName(home, op, next); err != nil {
			return err
		}

		inter, err := interTx.begin()
		if err != nil {
			return err
		}
		if err := CreateIntermediarySchemaTx(inter); err != nil {
			return err
		}
		registered, err := syncsource.GetTx(inter, next.Source.ID)
		if err != nil {
			return err
		}
		if registered == nil {
			err = syncsource.AddTx(inter, next.Source)
		} else {
			err = syncsource.UpdateTx(inter, next.Source)
		}
		if err != nil {
			return err
		}

		if err := syncsource.UpdateTx(home, next.Source); err != nil {
			return err
		}
		return updateJobTx(home, next)
	})
	if err != nil {
		return storeError(op, next.Name, err)
	}

	job.Source.Path = next.Source.Path
	job.Intermediary.Path = next.Intermediary.Path
	slog.Info("sync job updated", "job", job.Name, "id", job.ID, "source", job.Source.Path, "intermediary", job.Intermediary.Path)
	return nil
}

// Delete removes the job row and its source row from the home store. Metadata rows and the
// intermediary's registration are left in place; cleaning them up is not this package's job.
func (m *Manager) Delete(ctx context.Context, job *SyncJob) error {
	const op = "delete"
	if job == nil || job.Source == nil {
		return newError(KindInvalid, op, "", errors.New("job and source are required"))
	}

	release, err := storelock.Acquire(ctx, m.HomeDatabasePath())
	if err != nil {
		return newError(KindStoreUnavailable, op, job.Name, err)
	}
	defer release()

	err = db.Use(m.root, m.dbName, func(handle *sqlx.DB) error {
		return db.WithTx(ctx, handle, func(tx *sqlx.Tx) error {
			if _, err := tx.Exec("DELETE FROM syncjob WHERE syncjob_id = ?", job.ID); err != nil {
				return fmt.Errorf("delete sync job: %w", err)
			}
			return syncsource.DeleteTx(tx, job.Source.ID)
		})
	})
	if err != nil {
		return storeError(op, job.Name, err)
	}

	slog.Info("sync job deleted", "job", job.Name, "id", job.ID)
	return nil
}

func (m *Manager) validate(op, name, sourcePath, intermediaryPath string) error {
	switch {
	case name == "":
		return newError(KindInvalid, op, name, errors.New("job name is required"))
	case sourcePath == "":
		return newError(KindInvalid, op, name, errors.New("source path is required"))
	case intermediaryPath == "":
		return newError(KindInvalid, op, name, errors.New("intermediary path is required"))
	}
	return nil
}

func (m *Manager) resolve(op, name, sourcePath, intermediaryPath string) (string, string, error) {
	src, err := utils.ResolvePath(sourcePath)
	if err != nil {
		return "", "", newError(KindInvalid, op, name, err)
	}
	inter, err := utils.ResolvePath(intermediaryPath)
	if err != nil {
		return "", "", newError(KindInvalid, op, name, err)
	}
	if filepath.Clean(inter) == m.root {
		return "", "", newError(KindInvalid, op, name, errors.New("intermediary storage must differ from the storage root"))
	}
	return src, inter, nil
}

func (m *Manager) ensureDirs(op string, job *SyncJob) error {
	for _, dir := range []string{m.root, job.Intermediary.Path} {
		if err := utils.EnsureDir(dir); err != nil {
			return newError(KindStoreUnavailable, op, job.Name, fmt.Errorf("create directory %s: %w", dir, err))
		}
	}
	return nil
}

func checkName(tx *sqlx.Tx, op string, job *SyncJob) error {
	exists, err := nameExistsTx(tx, job.Name, job.ID)
	if err != nil {
		return err
	}
	if exists {
		return newError(KindNameExists, op, job.Name, nil)
	}
	return nil
}

// nameExistsTx reports whether a job other than id already uses name.
func nameExistsTx(tx *sqlx.Tx, name, id string) (bool, error) {
	var count int
	err := tx.Get(&count, "SELECT COUNT(*) FROM syncjob WHERE profile_name = ? AND syncjob_id <> ?", name, id)
	if err != nil {
		return false, fmt.Errorf("check sync job name: %w", err)
	}
	return count > 0, nil
}

func loadByIDTx(tx *sqlx.Tx, id string) (*SyncJob, error) {
	var row dbJob
	if err := tx.Get(&row, selectJobs+" WHERE j.syncjob_id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load sync job %s: %w", id, err)
	}
	return row.toJob(), nil
}

func insertJobTx(tx *sqlx.Tx, job *SyncJob) error {
	_, err := tx.NamedExec(`INSERT INTO syncjob (syncjob_id, profile_name, metadata_source_location, sync_source_id)
	                       VALUES (:syncjob_id, :profile_name, :metadata_source_location, :sync_source_id)`, toDBJob(job))
	if err != nil {
		return fmt.Errorf("insert sync job: %w", err)
	}
	return nil
}

func updateJobTx(tx *sqlx.Tx, job *SyncJob) error {
	_, err := tx.NamedExec(`UPDATE syncjob SET profile_name = :profile_name, metadata_source_location = :metadata_source_location
	                       WHERE syncjob_id = :syncjob_id`, toDBJob(job))
	if err != nil {
		return fmt.Errorf("update sync job: %w", err)
	}
	return nil
}

func toDBJob(job *SyncJob) dbJob {
	return dbJob{
		ID:           job.ID,
		Name:         job.Name,
		Intermediary: job.Intermediary.Path,
		SourceID:     job.Source.ID,
		SourcePath:   job.Source.Path,
	}
}
