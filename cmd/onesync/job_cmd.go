package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/onesync/internal/db"
	"github.com/openmined/onesync/internal/metadata"
	"github.com/openmined/onesync/internal/syncjob"
	"github.com/spf13/cobra"
)

func (c *cli) newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage sync jobs",
	}
	cmd.AddCommand(
		c.newJobCreateCmd(),
		c.newJobListCmd(),
		c.newJobShowCmd(),
		c.newJobRenameCmd(),
		c.newJobMoveCmd(),
		c.newJobDeleteCmd(),
	)
	return cmd
}

func (c *cli) newJobCreateCmd() *cobra.Command {
	var source, intermediary string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a job syncing a folder through an intermediary folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := c.manager.CreateSyncJob(cmd.Context(), args[0], source, intermediary)
			if err != nil {
				return describe(err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Created job %s (%s)\n", job.Name, job.ID)
			return err
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "Folder to sync")
	cmd.Flags().StringVarP(&intermediary, "intermediary", "i", "", "Intermediary folder shared with the other side")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("intermediary")
	return cmd
}

func (c *cli) newJobListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs := c.manager.LoadAll(cmd.Context())
			if len(jobs) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSOURCE\tINTERMEDIARY")
			for _, job := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\n", job.Name, job.Source.Path, job.Intermediary.Path)
			}
			return w.Flush()
		},
	}
}

func (c *cli) newJobShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show a job with its stored metadata and recent runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := c.loadJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printJob(cmd.Context(), cmd.OutOrStdout(), job)
		},
	}
}

func (c *cli) newJobRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename NAME NEW_NAME",
		Short: "Rename a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := c.loadJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			edited := job.Clone()
			edited.Name = args[1]
			if err := c.manager.Update(cmd.Context(), edited); err != nil {
				return describe(err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Renamed job %s to %s\n", job.Name, edited.Name)
			return err
		},
	}
}

func (c *cli) newJobMoveCmd() *cobra.Command {
	var source, intermediary string

	cmd := &cobra.Command{
		Use:   "move NAME",
		Short: "Point a job at a moved source folder or a new intermediary folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if source == "" && intermediary == "" {
				return fmt.Errorf("nothing to move: pass --source or --intermediary")
			}
			job, err := c.loadJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			edited := job.Clone()
			if source != "" {
				edited.Source.Path = source
			}
			if intermediary != "" {
				edited.Intermediary.Path = intermediary
			}
			if err := c.manager.Update(cmd.Context(), edited); err != nil {
				return describe(err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Job %s now syncs %s through %s\n",
				edited.Name, edited.Source.Path, edited.Intermediary.Path)
			return err
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "New location of the source folder")
	cmd.Flags().StringVarP(&intermediary, "intermediary", "i", "", "New intermediary folder")
	return cmd
}

func (c *cli) newJobDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a job; metadata in the intermediary folder is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := c.loadJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := c.manager.Delete(cmd.Context(), job); err != nil {
				return describe(err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted job %s\n", job.Name)
			return err
		},
	}
}

func (c *cli) loadJob(ctx context.Context, name string) (*syncjob.SyncJob, error) {
	job, err := c.manager.Load(ctx, name)
	if err != nil {
		return nil, describe(err)
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %q", errJobNotFound, name)
	}
	return job, nil
}

func (c *cli) printJob(ctx context.Context, out io.Writer, job *syncjob.SyncJob) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Name:\t%s\n", job.Name)
	fmt.Fprintf(w, "ID:\t%s\n", job.ID)
	fmt.Fprintf(w, "Source:\t%s (%s)\n", job.Source.Path, job.Source.ID)
	fmt.Fprintf(w, "Intermediary:\t%s\n", job.Intermediary.Path)

	var files, folders int
	err := db.UseExisting(job.Intermediary.Path, c.cfg.DatabaseName, func(handle *sqlx.DB) error {
		var err error
		files, folders, err = metadata.NewStore(handle).Count(ctx, job.Source.ID)
		return err
	})
	if err != nil {
		fmt.Fprintf(w, "Metadata:\tunavailable (%v)\n", err)
	} else {
		fmt.Fprintf(w, "Metadata:\t%s files, %s folders\n", humanize.Comma(int64(files)), humanize.Comma(int64(folders)))
	}

	entries, err := c.activity.Entries(job.Source.Path)
	if err == nil && len(entries) > 0 {
		last := entries[len(entries)-1]
		fmt.Fprintf(w, "Last sync:\t%s, %d changes\n", humanize.Time(last.End), last.Processed)
	} else {
		fmt.Fprintf(w, "Last sync:\tnever\n")
	}
	return w.Flush()
}
