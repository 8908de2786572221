package syncjob

import (
	"github.com/google/uuid"
	"github.com/openmined/onesync/internal/syncsource"
)

// SyncJob binds one sync source to one intermediary storage under a unique name.
type SyncJob struct {
	ID           string
	Name         string
	Source       *syncsource.SyncSource
	Intermediary *syncsource.IntermediaryStorage
}

// New returns a job with fresh ids for itself and its source.
func New(name, sourcePath, intermediaryPath string) *SyncJob {
	return &SyncJob{
		ID:           uuid.NewString(),
		Name:         name,
		Source:       syncsource.New(sourcePath),
		Intermediary: syncsource.NewIntermediaryStorage(intermediaryPath),
	}
}

// Clone returns a deep copy, handy for editing a job before Update.
func (j *SyncJob) Clone() *SyncJob {
	src := *j.Source
	inter := *j.Intermediary
	return &SyncJob{ID: j.ID, Name: j.Name, Source: &src, Intermediary: &inter}
}
