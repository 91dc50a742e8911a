package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dutchgtr/bricktrack/internal/job"
	"github.com/dutchgtr/bricktrack/internal/model"
	"github.com/dutchgtr/bricktrack/internal/store"
)

// Handler runs one pipeline stage to completion. The returned stats are
// merged into the job as a final delta; handlers that stream progress through
// a reporter return a zero delta and flush before returning.
type Handler interface {
	Stage() model.StageType
	Run(ctx context.Context, j *model.Job) (model.JobStats, string, error)
}

// Sequencer drives the fixed stage order for each dataset. It enforces the
// single-flight guard (best effort: the check and the job insert are separate
// statements, so two near-simultaneous triggers can both pass; the stale
// sweep and idempotent stages keep that survivable) and dispatches stages
// without waiting for them to finish.
type Sequencer struct {
	store    store.Store
	tracker  *job.Tracker
	handlers map[model.StageType]Handler
	logger   *zap.Logger
}

func NewSequencer(st store.Store, tracker *job.Tracker, handlers ...Handler) *Sequencer {
	byStage := make(map[model.StageType]Handler, len(handlers))
	for _, h := range handlers {
		byStage[h.Stage()] = h
	}
	return &Sequencer{
		store:    st,
		tracker:  tracker,
		handlers: byStage,
		logger:   zap.L().With(zap.String("component", "sequencer")),
	}
}

// RunNext resolves and dispatches the next stage for the dataset, returning
// the created job immediately. Capture as the next stage is rejected with
// ErrCaptureRequired; a finished pipeline with ErrPipelineComplete.
func (s *Sequencer) RunNext(ctx context.Context, dataset string) (*model.Job, error) {
	if err := s.checkSingleFlight(ctx, dataset); err != nil {
		return nil, err
	}

	completed, err := s.store.CompletedStages(ctx, dataset)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load completed stages for %s", dataset)
	}
	next, ok := NextStage(completed)
	if !ok {
		return nil, ErrPipelineComplete
	}
	if next == model.StageCapture {
		return nil, ErrCaptureRequired
	}

	return s.dispatch(ctx, dataset, next)
}

// RunToCompletion dispatches every remaining stage in order inside one
// background worker, each stage run to completion before the next starts.
// It returns the planned stages immediately. Requires capture to have
// completed at least once.
func (s *Sequencer) RunToCompletion(ctx context.Context, dataset string) ([]model.StageType, error) {
	if err := s.checkSingleFlight(ctx, dataset); err != nil {
		return nil, err
	}

	completed, err := s.store.CompletedStages(ctx, dataset)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load completed stages for %s", dataset)
	}
	if !StageCompleted(completed, model.StageCapture) {
		return nil, ErrCaptureRequired
	}
	remaining := RemainingStages(completed)
	if len(remaining) == 0 {
		return nil, ErrPipelineComplete
	}

	go s.runSequence(dataset, remaining)
	return remaining, nil
}

// TriggerCapture starts a capture job with explicit search parameters. This
// is the only way capture runs.
func (s *Sequencer) TriggerCapture(ctx context.Context, dataset string, params *model.CaptureMetadata) (*model.Job, error) {
	if params == nil || len(params.Keywords) == 0 {
		return nil, eris.New("pipeline: capture requires at least one keyword")
	}
	if err := s.checkSingleFlight(ctx, dataset); err != nil {
		return nil, err
	}

	handler, ok := s.handlers[model.StageCapture]
	if !ok {
		return nil, eris.New("pipeline: no capture handler registered")
	}
	j, err := s.tracker.Start(ctx, model.StageCapture, dataset, &model.JobMetadata{Capture: params})
	if err != nil {
		return nil, err
	}
	go s.execute(j, handler)
	return j, nil
}

// Cancel marks the job failed with a "cancelled" message. Cancellation is
// advisory: in-flight work keeps committing until it next checks status.
func (s *Sequencer) Cancel(ctx context.Context, jobID string) error {
	return s.tracker.Cancel(ctx, jobID)
}

func (s *Sequencer) checkSingleFlight(ctx context.Context, dataset string) error {
	running, err := s.store.FindRunningJob(ctx, dataset)
	if err != nil {
		return eris.Wrapf(err, "pipeline: check running job for %s", dataset)
	}
	if running != nil {
		return &AlreadyRunningError{Dataset: dataset, Stage: running.Stage, JobID: running.ID}
	}
	return nil
}

// dispatch starts a job for the stage and executes its handler in the
// background.
func (s *Sequencer) dispatch(ctx context.Context, dataset string, stage model.StageType) (*model.Job, error) {
	handler, ok := s.handlers[stage]
	if !ok {
		return nil, eris.Errorf("pipeline: no handler registered for stage %s", stage)
	}

	meta, err := s.resolveInputs(ctx, dataset, stage)
	if err != nil {
		return nil, err
	}
	j, err := s.tracker.Start(ctx, stage, dataset, meta)
	if err != nil {
		return nil, err
	}
	go s.execute(j, handler)
	return j, nil
}

// resolveInputs gathers stage-specific required inputs. Enrich and
// materialize consume the most recently completed capture job, tie-broken by
// latest start time.
func (s *Sequencer) resolveInputs(ctx context.Context, dataset string, stage model.StageType) (*model.JobMetadata, error) {
	switch stage {
	case model.StageEnrich, model.StageMaterialize:
		capture, err := s.store.LatestCompletedJob(ctx, dataset, model.StageCapture)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: find latest capture job for %s", dataset)
		}
		if capture == nil {
			return nil, ErrCaptureRequired
		}
		if stage == model.StageEnrich {
			return &model.JobMetadata{Enrich: &model.EnrichMetadata{CaptureJobID: capture.ID}}, nil
		}
		return &model.JobMetadata{Materialize: &model.MaterializeMetadata{CaptureJobID: capture.ID}}, nil
	default:
		return nil, nil
	}
}

// runSequence executes stages back to back in one worker. A failed stage
// stops the sequence; completed work stays in place and the pipeline can be
// re-triggered.
func (s *Sequencer) runSequence(dataset string, stages []model.StageType) {
	ctx := context.Background()
	for _, stage := range stages {
		handler, ok := s.handlers[stage]
		if !ok {
			s.logger.Error("no handler registered, stopping sequence",
				zap.String("dataset", dataset),
				zap.String("stage", string(stage)))
			return
		}
		meta, err := s.resolveInputs(ctx, dataset, stage)
		if err != nil {
			s.logger.Error("input resolution failed, stopping sequence",
				zap.String("dataset", dataset),
				zap.String("stage", string(stage)),
				zap.Error(err))
			return
		}
		j, err := s.tracker.Start(ctx, stage, dataset, meta)
		if err != nil {
			s.logger.Error("job creation failed, stopping sequence",
				zap.String("dataset", dataset),
				zap.String("stage", string(stage)),
				zap.Error(err))
			return
		}
		if ok := s.execute(j, handler); !ok {
			return
		}
	}
}

// execute runs a handler to completion and records the outcome. Returns
// false when the stage failed.
func (s *Sequencer) execute(j *model.Job, handler Handler) bool {
	ctx := context.Background()
	start := time.Now()
	s.logger.Info("stage started",
		zap.String("dataset", j.Dataset),
		zap.String("stage", string(j.Stage)),
		zap.String("job_id", j.ID))

	stats, message, err := handler.Run(ctx, j)
	if err != nil {
		if failErr := s.tracker.Fail(ctx, j.ID, err); failErr != nil {
			s.logger.Error("failed to record job failure", zap.String("job_id", j.ID), zap.Error(failErr))
		}
		s.logger.Error("stage failed",
			zap.String("dataset", j.Dataset),
			zap.String("stage", string(j.Stage)),
			zap.String("job_id", j.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return false
	}

	if err := s.tracker.Complete(ctx, j.ID, message, stats); err != nil {
		s.logger.Error("failed to record job completion", zap.String("job_id", j.ID), zap.Error(err))
		return false
	}
	// A cancel or stale sweep can land mid-run; Complete is then a no-op and
	// the sequence must not continue.
	final, err := s.tracker.Get(ctx, j.ID)
	if err != nil {
		s.logger.Error("failed to reload job", zap.String("job_id", j.ID), zap.Error(err))
		return false
	}
	if final == nil || final.Status != model.JobStatusCompleted {
		status := "missing"
		if final != nil {
			status = string(final.Status)
		}
		s.logger.Warn("stage ended without completing",
			zap.String("job_id", j.ID),
			zap.String("status", status))
		return false
	}
	s.logger.Info("stage completed",
		zap.String("dataset", j.Dataset),
		zap.String("stage", string(j.Stage)),
		zap.String("job_id", j.ID),
		zap.Duration("duration", time.Since(start)))
	return true
}
