package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func (c *cli) newRepairCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Bring intermediary registrations back in line with the job database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.manager.Repair(cmd.Context(), dryRun)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			verb := "Fixed"
			if dryRun {
				verb = "Would fix"
			}
			for _, name := range report.Registered {
				fmt.Fprintf(out, "%s %s: source registered in intermediary\n", verb, name)
			}
			for _, name := range report.Updated {
				fmt.Fprintf(out, "%s %s: source path updated in intermediary\n", verb, name)
			}

			failed := make([]string, 0, len(report.Failed))
			for name := range report.Failed {
				failed = append(failed, name)
			}
			sort.Strings(failed)
			for _, name := range failed {
				fmt.Fprintf(out, "Failed %s: %v\n", name, describe(report.Failed[name]))
			}

			if report.Consistent() {
				fmt.Fprintf(out, "All %d jobs consistent\n", report.Checked)
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d jobs could not be repaired", len(failed), report.Checked)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Report without writing")
	return cmd
}
