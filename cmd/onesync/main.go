package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/openmined/onesync/internal/activitylog"
	"github.com/openmined/onesync/internal/config"
	"github.com/openmined/onesync/internal/logging"
	"github.com/openmined/onesync/internal/syncjob"
	"github.com/openmined/onesync/internal/version"
	"github.com/spf13/cobra"
)

// cli carries what every subcommand needs once the config is resolved.
type cli struct {
	cfg      *config.Config
	manager  *syncjob.Manager
	activity *activitylog.Log
	closeLog func() error
}

// newRootCmd returns the command tree and a func closing the log file it may open.
func newRootCmd() (*cobra.Command, func() error) {
	c := &cli{}

	root := &cobra.Command{
		Use:           "onesync",
		Short:         "Keep two folders in sync through a shared intermediary folder",
		Version:       version.Detailed(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("config", "c", config.DefaultConfigPath, "OneSync config file")
	flags.StringP("root", "r", config.DefaultStorageRoot, "Storage root holding the job database")
	flags.String("db-name", config.DefaultDatabaseName, "Database file name in the storage root and intermediaries")
	flags.String("log-file", config.DefaultLogFile, "Log file, empty to log to the terminal only")
	flags.Bool("case-insensitive", false, "Match paths ignoring case when comparing snapshots")
	flags.BoolP("verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		c.newJobCmd(),
		c.newSyncCmd(),
		c.newRepairCmd(),
		c.newConfigCmd(),
		newVersionCmd(),
	)
	return root, c.teardown
}

func (c *cli) setup(cmd *cobra.Command) error {
	cfg, verbose, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closeLog, err := logging.New(logging.Options{
		Console: cmd.ErrOrStderr(),
		File:    cfg.LogFile,
		Verbose: verbose,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	manager, err := syncjob.NewManager(syncjob.ManagerConfig{
		StorageRoot:  cfg.StorageRoot,
		DatabaseName: cfg.DatabaseName,
	})
	if err != nil {
		closeLog()
		return describe(err)
	}

	c.cfg = cfg
	c.manager = manager
	c.activity = activitylog.New(cfg.ActivityDir())
	c.closeLog = closeLog
	slog.Debug("config", "path", cfg.Path, "root", cfg.StorageRoot, "db", cfg.DatabaseName, "version", version.Short())
	return nil
}

func (c *cli) teardown() error {
	if c.closeLog == nil {
		return nil
	}
	err := c.closeLog()
	c.closeLog = nil
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, closeLog := newRootCmd()
	err := root.ExecuteContext(ctx)
	if closeErr := closeLog(); closeErr != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error: close log:", closeErr)
	}
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		stop()
		os.Exit(1)
	}
}
