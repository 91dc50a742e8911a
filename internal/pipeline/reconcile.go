package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dutchgtr/bricktrack/internal/job"
	"github.com/dutchgtr/bricktrack/internal/model"
	"github.com/dutchgtr/bricktrack/internal/reconcile"
	"github.com/dutchgtr/bricktrack/internal/store"
)

// ReconcileHandler runs the reconciliation engine over every listing in the
// dataset, one listing at a time.
type ReconcileHandler struct {
	store        store.Store
	tracker      *job.Tracker
	orchestrator *reconcile.Orchestrator
	version      string
	policy       reconcile.CleanupPolicy
	progress     ProgressOptions
	logger       *zap.Logger
}

func NewReconcileHandler(st store.Store, tracker *job.Tracker, orchestrator *reconcile.Orchestrator, version string, policy reconcile.CleanupPolicy, progress ProgressOptions) *ReconcileHandler {
	return &ReconcileHandler{
		store:        st,
		tracker:      tracker,
		orchestrator: orchestrator,
		version:      version,
		policy:       policy,
		progress:     progress,
		logger:       zap.L().With(zap.String("component", "reconcile-stage")),
	}
}

func (h *ReconcileHandler) Stage() model.StageType {
	return model.StageReconcile
}

func (h *ReconcileHandler) Run(ctx context.Context, j *model.Job) (model.JobStats, string, error) {
	// A job created with explicit listing ids reconciles only those;
	// otherwise the whole dataset is in scope.
	var listingIDs []string
	if j.Metadata != nil && j.Metadata.Reconcile != nil && len(j.Metadata.Reconcile.ListingIDs) > 0 {
		listingIDs = j.Metadata.Reconcile.ListingIDs
	} else {
		var err error
		listingIDs, err = h.store.ListListingIDs(ctx, j.Dataset)
		if err != nil {
			return model.JobStats{}, "", eris.Wrapf(err, "pipeline: list listings for %s", j.Dataset)
		}
	}

	meta := &model.JobMetadata{Reconcile: &model.ReconcileMetadata{
		Version:       h.version,
		CleanupPolicy: string(h.policy),
		ListingIDs:    listingIDs,
	}}
	if err := h.tracker.SetMetadata(ctx, j.ID, meta); err != nil {
		h.logger.Warn("metadata update failed", zap.Error(err))
	}

	reporter := job.NewReporter(h.tracker, j.ID, h.progress.Every, h.progress.Window)
	cancelled := func(ctx context.Context) (bool, error) {
		return h.tracker.Cancelled(ctx, j.ID)
	}

	batch, err := h.orchestrator.ReconcileBatch(ctx, listingIDs, reporter, cancelled)
	if err != nil {
		return model.JobStats{}, "", err
	}

	msg := fmt.Sprintf("reconciled %d listings (%d candidates, %d validated, %d joins created, %d refreshed, %d failed)",
		batch.Processed, batch.Extracted, batch.Validated, batch.JoinsCreated, batch.JoinsUpdated, batch.Failed)
	return model.JobStats{}, msg, nil
}
