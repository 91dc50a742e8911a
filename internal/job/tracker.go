package job

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dutchgtr/bricktrack/internal/model"
	"github.com/dutchgtr/bricktrack/internal/store"
)

// CancelledMessage is the error_message recorded when a job is cancelled.
// Stale-swept jobs carry "timed out" instead; both land in the failed status.
const CancelledMessage = "cancelled"

// Tracker manages pipeline job lifecycle on top of the store. Terminal
// transitions are idempotent: completing or failing a job that already
// finished is a no-op at the store layer.
type Tracker struct {
	store   store.Store
	timeout time.Duration
	logger  *zap.Logger
}

func NewTracker(st store.Store, timeout time.Duration) *Tracker {
	return &Tracker{
		store:   st,
		timeout: timeout,
		logger:  zap.L().With(zap.String("component", "job-tracker")),
	}
}

// Start creates a running job for the given stage and dataset.
func (t *Tracker) Start(ctx context.Context, stage model.StageType, dataset string, meta *model.JobMetadata) (*model.Job, error) {
	j, err := t.store.CreateJob(ctx, stage, dataset, meta, t.timeout)
	if err != nil {
		return nil, eris.Wrapf(err, "job: start %s job for %s", stage, dataset)
	}
	t.logger.Info("job started",
		zap.String("job_id", j.ID),
		zap.String("stage", string(stage)),
		zap.String("dataset", dataset))
	return j, nil
}

// Progress merges a stats delta into the job row and refreshes its message.
// Errors if the job is no longer running.
func (t *Tracker) Progress(ctx context.Context, jobID string, message string, delta model.JobStats) error {
	return t.store.UpdateJobProgress(ctx, jobID, message, delta)
}

// SetMetadata replaces the job's metadata payload.
func (t *Tracker) SetMetadata(ctx context.Context, jobID string, meta *model.JobMetadata) error {
	return t.store.UpdateJobMetadata(ctx, jobID, meta)
}

// Complete transitions a running job to completed, merging the final stats
// delta. Completing an already-terminal job is a no-op.
func (t *Tracker) Complete(ctx context.Context, jobID string, message string, final model.JobStats) error {
	if err := t.store.CompleteJob(ctx, jobID, message, final); err != nil {
		return eris.Wrapf(err, "job: complete %s", jobID)
	}
	t.logger.Info("job completed",
		zap.String("job_id", jobID),
		zap.Int("found", final.Found),
		zap.Int("new", final.New),
		zap.Int("updated", final.Updated))
	return nil
}

// Fail transitions a running job to failed with the given cause. Failing an
// already-terminal job is a no-op.
func (t *Tracker) Fail(ctx context.Context, jobID string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if err := t.store.FailJob(ctx, jobID, msg); err != nil {
		return eris.Wrapf(err, "job: fail %s", jobID)
	}
	t.logger.Warn("job failed", zap.String("job_id", jobID), zap.String("error", msg))
	return nil
}

// Cancel requests termination of a running job. Workers observe cancellation
// by polling Cancelled between units of work, so a cancelled job may still
// finish its in-flight listing before stopping.
func (t *Tracker) Cancel(ctx context.Context, jobID string) error {
	j, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "job: cancel %s", jobID)
	}
	if j == nil {
		return eris.Errorf("job: cancel %s: no such job", jobID)
	}
	if j.Status.Terminal() {
		return eris.Errorf("job: cancel %s: job already %s", jobID, j.Status)
	}
	if err := t.store.FailJob(ctx, jobID, CancelledMessage); err != nil {
		return eris.Wrapf(err, "job: cancel %s", jobID)
	}
	t.logger.Info("job cancelled", zap.String("job_id", jobID))
	return nil
}

// Cancelled reports whether the job has been cancelled. Any terminal status
// counts: once a job stops being running, workers must stop writing to it.
func (t *Tracker) Cancelled(ctx context.Context, jobID string) (bool, error) {
	j, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return false, eris.Wrapf(err, "job: check cancellation %s", jobID)
	}
	if j == nil {
		return false, eris.Errorf("job: check cancellation %s: no such job", jobID)
	}
	return j.Status.Terminal(), nil
}

// Get returns the job row.
func (t *Tracker) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return t.store.GetJob(ctx, jobID)
}

// SweepStale fails every running job whose timeout_at has passed, recording
// "timed out" as the failure cause. Returns the number of jobs swept.
func (t *Tracker) SweepStale(ctx context.Context) (int, error) {
	n, err := t.store.SweepStaleJobs(ctx, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "job: sweep stale jobs")
	}
	if n > 0 {
		t.logger.Warn("swept stale jobs", zap.Int("count", n))
	}
	return n, nil
}
