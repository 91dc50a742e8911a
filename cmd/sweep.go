package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dutchgtr/bricktrack/internal/job"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail running jobs that have exceeded their timeout",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		swept, err := job.NewTracker(st, cfg.Pipeline.JobTimeout()).SweepStale(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("swept %d stale jobs\n", swept)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
