package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/venue-leads/internal/jobs"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage async enrichment jobs",
}

var jobsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete polled jobs older than the retention period",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runner := jobs.New(st, nil, time.Duration(cfg.Jobs.RetentionHours)*time.Hour)
		n, err := runner.Purge(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d job(s)\n", n)
		return err
	},
}

func init() {
	jobsCmd.AddCommand(jobsPurgeCmd)
	rootCmd.AddCommand(jobsCmd)
}
