package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/onesync/internal/activitylog"
	"github.com/openmined/onesync/internal/db"
	"github.com/openmined/onesync/internal/diff"
	"github.com/openmined/onesync/internal/metadata"
	"github.com/openmined/onesync/internal/scanner"
	"github.com/openmined/onesync/internal/storelock"
	"github.com/openmined/onesync/internal/syncjob"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const maxParallelSyncs = 4

func (c *cli) newSyncCmd() *cobra.Command {
	var all, peer bool
	var include []string

	cmd := &cobra.Command{
		Use:   "sync [NAME...]",
		Short: "Scan source folders and record their changes in the intermediary",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var jobs []*syncjob.SyncJob
			switch {
			case all && len(args) > 0:
				return errors.New("pass job names or --all, not both")
			case all:
				jobs = c.manager.LoadAll(ctx)
			case len(args) == 0:
				return errors.New("pass job names or --all")
			default:
				for _, name := range args {
					job, err := c.loadJob(ctx, name)
					if err != nil {
						return err
					}
					jobs = append(jobs, job)
				}
			}

			out := &lockedWriter{w: cmd.OutOrStdout()}
			g, ctx := errgroup.WithContext(ctx)
			g.SetLimit(maxParallelSyncs)
			for _, job := range jobs {
				g.Go(func() error {
					run, err := c.syncJob(ctx, job, include)
					if err != nil {
						return fmt.Errorf("sync %s: %w", job.Name, err)
					}
					out.printf("%s: %s\n", job.Name, run)
					if peer {
						return c.printPeer(ctx, out, job)
					}
					return nil
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Sync every job")
	cmd.Flags().BoolVarP(&peer, "peer", "p", false, "Also list what the other side of each job has recorded")
	cmd.Flags().StringSliceVar(&include, "include", nil, "Only consider files matching these glob patterns")
	return cmd
}

type syncRun struct {
	stats diff.Stats
	scan  scanner.Stats
}

func (r syncRun) String() string {
	return fmt.Sprintf("files +%d -%d ~%d, folders +%d -%d (scanned %s)",
		r.stats.FilesCreated, r.stats.FilesDeleted, r.stats.FilesModified,
		r.stats.FoldersCreated, r.stats.FoldersDeleted, r.scan)
}

// syncJob records the current state of the job's source folder in its intermediary store
// and appends the run to the activity log. The stored snapshot seeds the scan, so unchanged
// files are not hashed again and files the scan did not look at keep their rows.
func (c *cli) syncJob(ctx context.Context, job *syncjob.SyncJob, include []string) (syncRun, error) {
	start := time.Now()
	dbName := c.cfg.DatabaseName

	if !db.Exists(job.Intermediary.Path, dbName) {
		return syncRun{}, fmt.Errorf("%w: intermediary store %s is missing", db.ErrStoreUnavailable, job.Intermediary.DatabasePath(dbName))
	}
	release, err := storelock.Acquire(ctx, job.Intermediary.DatabasePath(dbName))
	if err != nil {
		return syncRun{}, err
	}
	defer release()

	var result *diff.Result
	var scan scanner.Stats
	err = db.UseExisting(job.Intermediary.Path, dbName, func(handle *sqlx.DB) error {
		store := metadata.NewStore(handle)
		if err := store.CreateSchema(ctx); err != nil {
			return err
		}
		prev, err := store.Load(ctx, job.Source.ID, metadata.SourceEquals)
		if err != nil {
			return err
		}

		s, err := scanner.New(job.Source.Path, job.Source.ID,
			scanner.WithInclude(include...),
			scanner.WithIgnore(dbName, dbName+"-*"),
			scanner.WithPrevious(prev),
		)
		if err != nil {
			return err
		}
		snapshot, err := s.Scan(ctx)
		if err != nil {
			return err
		}
		scan = s.Stats()

		result, err = diff.UpdateMetadata(ctx, store, prev, snapshot, diff.Options{CaseInsensitive: c.cfg.CaseInsensitive})
		return err
	})
	if err != nil {
		return syncRun{}, err
	}

	run := syncRun{stats: result.Stats(), scan: scan}
	entry := activitylog.Entry{
		JobName:          job.Name,
		SourcePath:       job.Source.Path,
		IntermediaryPath: job.Intermediary.Path,
		Direction:        activitylog.DirectionPush,
		Processed:        run.stats.Total(),
		Start:            start.UTC(),
		End:              time.Now().UTC(),
		Activities:       activities(result),
	}
	if err := c.activity.Record(ctx, entry); err != nil {
		slog.Warn("activity log", "job", job.Name, "error", err)
	}
	return run, nil
}

func activities(result *diff.Result) []activitylog.Activity {
	var out []activitylog.Activity
	add := func(action string, path string) {
		out = append(out, activitylog.Activity{File: path, Action: action, Status: "recorded"})
	}
	for _, f := range result.Folders.Created {
		add("folder created", f.RelativePath)
	}
	for _, f := range result.Files.Created {
		add("created", f.RelativePath)
	}
	for _, f := range result.Files.Modified {
		add("modified", f.RelativePath)
	}
	for _, f := range result.Files.Deleted {
		add("deleted", f.RelativePath)
	}
	for _, f := range result.Folders.Deleted {
		add("folder deleted", f.RelativePath)
	}
	return out
}

func (c *cli) printPeer(ctx context.Context, out *lockedWriter, job *syncjob.SyncJob) error {
	var peer *metadata.Metadata
	err := db.UseExisting(job.Intermediary.Path, c.cfg.DatabaseName, func(handle *sqlx.DB) error {
		var err error
		peer, err = metadata.NewStore(handle).Load(ctx, job.Source.ID, metadata.SourceNotEquals)
		return err
	})
	if err != nil {
		return fmt.Errorf("load peer metadata of %s: %w", job.Name, err)
	}

	out.mu.Lock()
	defer out.mu.Unlock()
	return writePeer(out.w, job.Name, peer)
}

func writePeer(out io.Writer, name string, peer *metadata.Metadata) error {
	if peer.IsEmpty() {
		_, err := fmt.Fprintf(out, "%s: peer has recorded nothing yet\n", name)
		return err
	}

	fmt.Fprintf(out, "%s: peer has %d files, %d folders\n", name, len(peer.Files.Items), len(peer.Folders.Items))
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  PATH\tHASH\tMODIFIED")
	for _, f := range peer.Files.Items {
		hash := f.HashCode
		if len(hash) > 8 {
			hash = hash[:8]
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", f.RelativePath, hash, humanize.Time(f.LastModified))
	}
	return w.Flush()
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}
