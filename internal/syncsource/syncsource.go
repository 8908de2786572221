package syncsource

import (
	"github.com/google/uuid"
	"github.com/openmined/onesync/internal/db"
)

// SyncSource is one physical folder taking part in a sync job.
type SyncSource struct {
	ID   string
	Path string
}

// New returns a source for path with a fresh opaque id.
func New(path string) *SyncSource {
	return &SyncSource{
		ID:   uuid.NewString(),
		Path: path,
	}
}

// IntermediaryStorage is the shared staging folder relaying changes between two sources.
// It holds its own store with the metadata of both sides and a mirrored source registry.
type IntermediaryStorage struct {
	Path string
}

// NewIntermediaryStorage returns the intermediary storage rooted at path.
func NewIntermediaryStorage(path string) *IntermediaryStorage {
	return &IntermediaryStorage{Path: path}
}

// DatabasePath returns the location of the intermediary's store file.
func (s *IntermediaryStorage) DatabasePath(name string) string {
	return db.Path(s.Path, name)
}
