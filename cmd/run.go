package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dutchgtr/bricktrack/internal/job"
	"github.com/dutchgtr/bricktrack/internal/model"
	"github.com/dutchgtr/bricktrack/internal/pipeline"
)

var runDataset string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run pipeline stages for a dataset",
}

var runNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Run the next uncompleted stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		j, err := env.Sequencer.RunNext(ctx, runDataset)
		if err != nil {
			return describeRunError(err)
		}

		fmt.Printf("started %s job %s\n", j.Stage, j.ID)
		final, err := waitJob(ctx, env.Tracker, j.ID)
		if err != nil {
			return err
		}
		printJob(final)
		if final.Status == model.JobStatusFailed {
			return eris.Errorf("job %s failed: %s", final.ID, final.ErrorMessage)
		}
		return nil
	},
}

var runAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Run every remaining stage in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		planned, err := env.Sequencer.RunToCompletion(ctx, runDataset)
		if err != nil {
			return describeRunError(err)
		}

		fmt.Printf("running %d stages for dataset %s\n", len(planned), runDataset)
		for range planned {
			j, err := awaitNextJob(ctx, env)
			if err != nil {
				return err
			}
			if j == nil {
				break
			}
			printJob(j)
			if j.Status == model.JobStatusFailed {
				return eris.Errorf("pipeline stopped: %s job failed: %s", j.Stage, j.ErrorMessage)
			}
		}
		return nil
	},
}

// describeRunError rewrites sequencing rejections into actionable CLI errors.
func describeRunError(err error) error {
	var running *pipeline.AlreadyRunningError
	switch {
	case eris.Is(err, pipeline.ErrPipelineComplete):
		fmt.Println("pipeline already complete")
		return nil
	case eris.Is(err, pipeline.ErrCaptureRequired):
		return eris.New("capture has not completed for this dataset; run `bricktrack capture` first")
	case eris.As(err, &running):
		return eris.Errorf("a %s job (%s) is already running for this dataset; wait or cancel it", running.Stage, running.JobID)
	default:
		return err
	}
}

// waitJob polls until the job reaches a terminal status.
func waitJob(ctx context.Context, tracker *job.Tracker, jobID string) (*model.Job, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			j, err := tracker.Get(ctx, jobID)
			if err != nil {
				return nil, err
			}
			if j == nil {
				return nil, eris.Errorf("job %s not found", jobID)
			}
			if j.Terminal() {
				return j, nil
			}
		}
	}
}

// awaitNextJob waits for the background sequence to start its next job, then
// waits for that job to finish. Returns nil when no further job starts.
func awaitNextJob(ctx context.Context, env *appEnv) (*model.Job, error) {
	deadline := time.Now().Add(10 * time.Second)
	for {
		j, err := env.Store.FindRunningJob(ctx, runDataset)
		if err != nil {
			return nil, err
		}
		if j != nil {
			return waitJob(ctx, env.Tracker, j.ID)
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func printJob(j *model.Job) {
	switch j.Status {
	case model.JobStatusCompleted:
		fmt.Printf("%s completed: found=%d new=%d updated=%d %s\n",
			j.Stage, j.Stats.Found, j.Stats.New, j.Stats.Updated, j.Message)
	case model.JobStatusFailed:
		fmt.Printf("%s failed: %s\n", j.Stage, j.ErrorMessage)
	default:
		fmt.Printf("%s %s\n", j.Stage, j.Status)
	}
	zap.L().Debug("job finished", zap.String("job_id", j.ID), zap.String("status", string(j.Status)))
}

func init() {
	runCmd.PersistentFlags().StringVar(&runDataset, "dataset", "default", "dataset to run against")
	runCmd.AddCommand(runNextCmd)
	runCmd.AddCommand(runAllCmd)
	rootCmd.AddCommand(runCmd)
}
