package syncjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/onesync/internal/db"
	"github.com/openmined/onesync/internal/storelock"
	"github.com/openmined/onesync/internal/syncsource"
)

var errDryRun = errors.New("dry run")

// RepairReport lists what a Repair pass found.
type RepairReport struct {
	Checked int
	// Registered names jobs whose source was missing from the intermediary registry.
	Registered []string
	// Updated names jobs whose intermediary registration carried a stale source path.
	Updated []string
	// Failed maps job names to the reason they could not be brought in line.
	Failed map[string]error
}

// Consistent reports whether every checked job already matched its intermediary.
func (r *RepairReport) Consistent() bool {
	return len(r.Registered) == 0 && len(r.Updated) == 0 && len(r.Failed) == 0
}

// Repair compares the source registration of every home job with the registry of its
// intermediary and re-syncs the intermediary from the home store, which is authoritative for
// its own jobs. Running it twice is harmless. With dryRun set nothing is written.
//
// An intermediary whose store file is gone is reported in Failed and left alone.
//
// Registrations present only in an intermediary cannot be judged from here: the peer's home
// store owns them.
func (m *Manager) Repair(ctx context.Context, dryRun bool) (*RepairReport, error) {
	report := &RepairReport{Failed: map[string]error{}}

	for _, job := range m.LoadAll(ctx) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		action, err := m.repairJob(ctx, job, dryRun)
		switch {
		case err != nil:
			report.Failed[job.Name] = err
			slog.Warn("repair", "job", job.Name, "error", err)
		case action == repairRegistered:
			report.Registered = append(report.Registered, job.Name)
		case action == repairUpdated:
			report.Updated = append(report.Updated, job.Name)
		}
	}

	slog.Info("repair finished", "checked", report.Checked, "registered", len(report.Registered),
		"updated", len(report.Updated), "failed", len(report.Failed), "dryRun", dryRun)
	return report, nil
}

type repairAction int

const (
	repairNone repairAction = iota
	repairRegistered
	repairUpdated
)

func (m *Manager) repairJob(ctx context.Context, job *SyncJob, dryRun bool) (repairAction, error) {
	const op = "repair"

	// a missing intermediary is usually an unmounted folder, not one to provision again
	if !db.Exists(job.Intermediary.Path, m.dbName) {
		return repairNone, newError(KindStoreUnavailable, op, job.Name,
			fmt.Errorf("%w: intermediary store %s is missing", db.ErrStoreUnavailable, job.Intermediary.DatabasePath(m.dbName)))
	}

	release, err := storelock.Acquire(ctx, job.Intermediary.DatabasePath(m.dbName))
	if err != nil {
		return repairNone, newError(KindStoreUnavailable, op, job.Name, err)
	}
	defer release()

	action := repairNone
	err = db.UseExisting(job.Intermediary.Path, m.dbName, func(handle *sqlx.DB) error {
		return db.WithTx(ctx, handle, func(tx *sqlx.Tx) error {
			if err := CreateIntermediarySchemaTx(tx); err != nil {
				return err
			}
			registered, err := syncsource.GetTx(tx, job.Source.ID)
			if err != nil {
				return err
			}
			switch {
			case registered == nil:
				action = repairRegistered
				err = syncsource.AddTx(tx, job.Source)
			case registered.Path != job.Source.Path:
				action = repairUpdated
				err = syncsource.UpdateTx(tx, job.Source)
			}
			if err != nil {
				return err
			}
			if dryRun {
				return errDryRun
			}
			return nil
		})
	})
	if errors.Is(err, errDryRun) {
		err = nil
	}
	if err != nil {
		return repairNone, storeError(op, job.Name, err)
	}
	return action, nil
}
