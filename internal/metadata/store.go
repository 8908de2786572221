package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/onesync/internal/db"
)

// Both tables reference the source registry (datasource_info) of the same physical store.
const schema = `
CREATE TABLE IF NOT EXISTS filemetadata (
    source_id TEXT NOT NULL REFERENCES datasource_info(source_id),
    relative_path TEXT NOT NULL,
    hash_code TEXT NOT NULL,
    last_modified_time TEXT NOT NULL, -- RFC3339Nano, UTC
    stable_id1 INTEGER NOT NULL DEFAULT 0,
    stable_id2 INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (source_id, relative_path)
);

CREATE TABLE IF NOT EXISTS foldermetadata (
    source_id TEXT NOT NULL REFERENCES datasource_info(source_id),
    relative_path TEXT NOT NULL,
    PRIMARY KEY (source_id, relative_path)
);

CREATE INDEX IF NOT EXISTS idx_filemetadata_hash ON filemetadata(hash_code);
`

// dbFileItem is used for scanning from the database where time is stored as TEXT.
type dbFileItem struct {
	SourceID     string `db:"source_id"`
	RelativePath string `db:"relative_path"`
	HashCode     string `db:"hash_code"`
	LastModified string `db:"last_modified_time"`
	StableID1    int64  `db:"stable_id1"`
	StableID2    int64  `db:"stable_id2"`
}

type dbFolderItem struct {
	SourceID     string `db:"source_id"`
	RelativePath string `db:"relative_path"`
}

func toDBFile(item FileItem) dbFileItem {
	return dbFileItem{
		SourceID:     item.SourceID,
		RelativePath: item.RelativePath,
		HashCode:     item.HashCode,
		LastModified: item.LastModified.UTC().Format(time.RFC3339Nano),
		// stored as the two's complement bit pattern, restored exactly on load
		StableID1: int64(item.StableID1),
		StableID2: int64(item.StableID2),
	}
}

func (d dbFileItem) toItem() (FileItem, error) {
	modTime, err := time.Parse(time.RFC3339Nano, d.LastModified)
	if err != nil {
		return FileItem{}, fmt.Errorf("parse last_modified_time for %s: %w", d.RelativePath, err)
	}
	return FileItem{
		SourceID:     d.SourceID,
		RelativePath: d.RelativePath,
		HashCode:     d.HashCode,
		LastModified: modTime,
		StableID1:    uint64(d.StableID1),
		StableID2:    uint64(d.StableID2),
	}, nil
}

// Store persists file and folder metadata in one physical store.
// Every write comes in two forms: a standalone one that owns its transaction and a Tx one that
// joins a transaction opened by the caller.
type Store struct {
	db *sqlx.DB
}

// NewStore binds a metadata store to an open store handle.
func NewStore(handle *sqlx.DB) *Store {
	return &Store{db: handle}
}

// DB returns the underlying store handle.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// CreateSchema creates the metadata tables if they do not exist.
func (s *Store) CreateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create metadata schema: %w", err)
	}
	return nil
}

// CreateSchemaTx creates the metadata tables inside tx.
func CreateSchemaTx(tx *sqlx.Tx) error {
	if _, err := tx.Exec(schema); err != nil {
		return fmt.Errorf("create metadata schema: %w", err)
	}
	return nil
}

func sourceClause(sel Selector) string {
	if sel == SourceNotEquals {
		return "source_id <> ?"
	}
	return "source_id = ?"
}

// Load returns the file and folder metadata selected by sourceID and sel.
// An unknown source yields an empty snapshot, not an error.
func (s *Store) Load(ctx context.Context, sourceID string, sel Selector) (*Metadata, error) {
	files, err := s.LoadFiles(ctx, sourceID, sel)
	if err != nil {
		return nil, err
	}
	folders, err := s.LoadFolders(ctx, sourceID, sel)
	if err != nil {
		return nil, err
	}
	return &Metadata{Files: *files, Folders: *folders}, nil
}

// LoadFiles returns file metadata ordered by source id and relative path.
func (s *Store) LoadFiles(ctx context.Context, sourceID string, sel Selector) (*Files, error) {
	var rows []dbFileItem
	query := `SELECT source_id, relative_path, hash_code, last_modified_time, stable_id1, stable_id2
	          FROM filemetadata WHERE ` + sourceClause(sel) + ` ORDER BY source_id, relative_path`
	if err := s.db.SelectContext(ctx, &rows, query, sourceID); err != nil {
		return nil, fmt.Errorf("load file metadata for %s (%s): %w", sourceID, sel, err)
	}

	files := &Files{SourceID: sourceID, Selector: sel, Items: make([]FileItem, 0, len(rows))}
	for _, row := range rows {
		item, err := row.toItem()
		if err != nil {
			return nil, err
		}
		files.Items = append(files.Items, item)
	}
	return files, nil
}

// LoadFolders returns folder metadata ordered by source id and relative path.
func (s *Store) LoadFolders(ctx context.Context, sourceID string, sel Selector) (*Folders, error) {
	var rows []dbFolderItem
	query := `SELECT source_id, relative_path FROM foldermetadata
	          WHERE ` + sourceClause(sel) + ` ORDER BY source_id, relative_path`
	if err := s.db.SelectContext(ctx, &rows, query, sourceID); err != nil {
		return nil, fmt.Errorf("load folder metadata for %s (%s): %w", sourceID, sel, err)
	}

	folders := &Folders{SourceID: sourceID, Selector: sel, Items: make([]FolderItem, 0, len(rows))}
	for _, row := range rows {
		folders.Items = append(folders.Items, FolderItem(row))
	}
	return folders, nil
}

// AddFiles inserts items atomically: either all rows are written or none.
func (s *Store) AddFiles(ctx context.Context, items []FileItem) error {
	return db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return AddFilesTx(tx, items)
	})
}

// AddFilesTx inserts items inside tx. The first failing row aborts with an error; the caller
// owns the rollback.
func AddFilesTx(tx *sqlx.Tx, items []FileItem) error {
	query := `INSERT INTO filemetadata (source_id, relative_path, hash_code, last_modified_time, stable_id1, stable_id2)
	          VALUES (:source_id, :relative_path, :hash_code, :last_modified_time, :stable_id1, :stable_id2)`
	for _, item := range items {
		if _, err := tx.NamedExec(query, toDBFile(item)); err != nil {
			return fmt.Errorf("add file metadata %s: %w", item.RelativePath, err)
		}
	}
	if len(items) > 0 {
		slog.Debug("metadata add", "kind", "file", "count", len(items))
	}
	return nil
}

// DeleteFiles removes items atomically.
func (s *Store) DeleteFiles(ctx context.Context, items []FileItem) error {
	return db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return DeleteFilesTx(tx, items)
	})
}

// DeleteFilesTx removes items inside tx.
func DeleteFilesTx(tx *sqlx.Tx, items []FileItem) error {
	for _, item := range items {
		_, err := tx.Exec("DELETE FROM filemetadata WHERE source_id = ? AND relative_path = ?",
			item.SourceID, item.RelativePath)
		if err != nil {
			return fmt.Errorf("delete file metadata %s: %w", item.RelativePath, err)
		}
	}
	if len(items) > 0 {
		slog.Debug("metadata delete", "kind", "file", "count", len(items))
	}
	return nil
}

// UpdateFiles rewrites the hash and last modified time of items atomically.
func (s *Store) UpdateFiles(ctx context.Context, items []FileItem) error {
	return db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return UpdateFilesTx(tx, items)
	})
}

// UpdateFilesTx rewrites hash and last modified time inside tx. Path and stable identity are
// left as stored so move detection keeps its history.
func UpdateFilesTx(tx *sqlx.Tx, items []FileItem) error {
	query := `UPDATE filemetadata SET hash_code = :hash_code, last_modified_time = :last_modified_time
	          WHERE source_id = :source_id AND relative_path = :relative_path`
	for _, item := range items {
		if _, err := tx.NamedExec(query, toDBFile(item)); err != nil {
			return fmt.Errorf("update file metadata %s: %w", item.RelativePath, err)
		}
	}
	if len(items) > 0 {
		slog.Debug("metadata update", "kind", "file", "count", len(items))
	}
	return nil
}

// AddFolders inserts folder items atomically.
func (s *Store) AddFolders(ctx context.Context, items []FolderItem) error {
	return db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return AddFoldersTx(tx, items)
	})
}

// AddFoldersTx inserts folder items inside tx.
func AddFoldersTx(tx *sqlx.Tx, items []FolderItem) error {
	query := `INSERT INTO foldermetadata (source_id, relative_path) VALUES (:source_id, :relative_path)`
	for _, item := range items {
		if _, err := tx.NamedExec(query, dbFolderItem(item)); err != nil {
			return fmt.Errorf("add folder metadata %s: %w", item.RelativePath, err)
		}
	}
	if len(items) > 0 {
		slog.Debug("metadata add", "kind", "folder", "count", len(items))
	}
	return nil
}

// DeleteFolders removes folder items atomically.
func (s *Store) DeleteFolders(ctx context.Context, items []FolderItem) error {
	return db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return DeleteFoldersTx(tx, items)
	})
}

// DeleteFoldersTx removes folder items inside tx.
func DeleteFoldersTx(tx *sqlx.Tx, items []FolderItem) error {
	for _, item := range items {
		_, err := tx.Exec("DELETE FROM foldermetadata WHERE source_id = ? AND relative_path = ?",
			item.SourceID, item.RelativePath)
		if err != nil {
			return fmt.Errorf("delete folder metadata %s: %w", item.RelativePath, err)
		}
	}
	if len(items) > 0 {
		slog.Debug("metadata delete", "kind", "folder", "count", len(items))
	}
	return nil
}

// Count returns the number of file and folder rows held for sourceID.
func (s *Store) Count(ctx context.Context, sourceID string) (files int, folders int, err error) {
	if err = s.db.GetContext(ctx, &files, "SELECT COUNT(*) FROM filemetadata WHERE source_id = ?", sourceID); err != nil {
		return 0, 0, fmt.Errorf("count file metadata: %w", err)
	}
	if err = s.db.GetContext(ctx, &folders, "SELECT COUNT(*) FROM foldermetadata WHERE source_id = ?", sourceID); err != nil {
		return 0, 0, fmt.Errorf("count folder metadata: %w", err)
	}
	return files, folders, nil
}
