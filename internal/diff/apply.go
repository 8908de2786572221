package diff

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/onesync/internal/db"
	"github.com/openmined/onesync/internal/metadata"
)

// Apply persists result into store in a single transaction: created items are added, deleted
// items removed and modified items get their hash and time rewritten. If any step fails none
// of them takes effect.
func Apply(ctx context.Context, store *metadata.Store, result *Result) error {
	if result == nil || !result.HasChanges() {
		return nil
	}
	err := db.WithTx(ctx, store.DB(), func(tx *sqlx.Tx) error {
		return ApplyTx(tx, result)
	})
	if err != nil {
		return fmt.Errorf("apply metadata diff: %w", err)
	}
	return nil
}

// ApplyTx persists result inside a transaction owned by the caller.
func ApplyTx(tx *sqlx.Tx, result *Result) error {
	// folders first so a later file failure still rolls them back with everything else
	if err := metadata.AddFoldersTx(tx, result.Folders.Created); err != nil {
		return err
	}
	if err := metadata.AddFilesTx(tx, result.Files.Created); err != nil {
		return err
	}
	if err := metadata.DeleteFilesTx(tx, result.Files.Deleted); err != nil {
		return err
	}
	if err := metadata.DeleteFoldersTx(tx, result.Folders.Deleted); err != nil {
		return err
	}
	return metadata.UpdateFilesTx(tx, result.Files.Modified)
}

// UpdateMetadata compares prev with curr, persists the difference and returns it.
// On failure the store is left as it was and the returned result is nil.
func UpdateMetadata(ctx context.Context, store *metadata.Store, prev, curr *metadata.Metadata, opts Options) (*Result, error) {
	result := Compute(prev, curr, opts)
	if err := Apply(ctx, store, result); err != nil {
		return nil, err
	}

	var source string
	if curr != nil {
		source = curr.SourceID()
	}
	stats := result.Stats()
	slog.Info("metadata updated",
		"source", source,
		"created", stats.FilesCreated,
		"deleted", stats.FilesDeleted,
		"modified", stats.FilesModified,
		"foldersCreated", stats.FoldersCreated,
		"foldersDeleted", stats.FoldersDeleted,
	)
	return result, nil
}
