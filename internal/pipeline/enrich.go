package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dutchgtr/bricktrack/internal/job"
	"github.com/dutchgtr/bricktrack/internal/marketplace"
	"github.com/dutchgtr/bricktrack/internal/model"
	"github.com/dutchgtr/bricktrack/internal/store"
)

// EnrichHandler fetches full listing details for every raw listing staged by
// the source capture job. Fetch failures are isolated per listing.
type EnrichHandler struct {
	store    store.Store
	tracker  *job.Tracker
	adapter  marketplace.Adapter
	progress ProgressOptions
	logger   *zap.Logger
}

func NewEnrichHandler(st store.Store, tracker *job.Tracker, adapter marketplace.Adapter, progress ProgressOptions) *EnrichHandler {
	return &EnrichHandler{
		store:    st,
		tracker:  tracker,
		adapter:  adapter,
		progress: progress,
		logger:   zap.L().With(zap.String("component", "enrich")),
	}
}

func (h *EnrichHandler) Stage() model.StageType {
	return model.StageEnrich
}

func (h *EnrichHandler) Run(ctx context.Context, j *model.Job) (model.JobStats, string, error) {
	if j.Metadata == nil || j.Metadata.Enrich == nil {
		return model.JobStats{}, "", eris.New("pipeline: enrich job has no source capture job")
	}
	captureJobID := j.Metadata.Enrich.CaptureJobID

	raws, err := h.store.ListRawListingsByCaptureJob(ctx, captureJobID)
	if err != nil {
		return model.JobStats{}, "", eris.Wrapf(err, "pipeline: list raw listings for capture job %s", captureJobID)
	}

	reporter := job.NewReporter(h.tracker, j.ID, h.progress.Every, h.progress.Window)
	enriched, failed := 0, 0
	for i, raw := range raws {
		if raw.EnrichedAt != nil {
			continue
		}

		details, err := h.adapter.Fetch(ctx, raw.ExternalID)
		if err != nil {
			failed++
			h.logger.Warn("listing fetch failed",
				zap.String("external_id", raw.ExternalID),
				zap.Error(err))
			continue
		}
		if err := h.store.MarkRawListingEnriched(ctx, raw.ID, details.Description, details.Price); err != nil {
			failed++
			h.logger.Warn("listing enrich update failed",
				zap.String("raw_id", raw.ID),
				zap.Error(err))
			continue
		}
		enriched++

		msg := fmt.Sprintf("enriched %d of %d listings", i+1, len(raws))
		if err := reporter.Record(ctx, msg, model.JobStats{Found: 1, Updated: 1}); err != nil {
			h.logger.Warn("progress update failed", zap.Error(err))
		}
	}

	if err := reporter.Flush(ctx); err != nil {
		h.logger.Warn("final progress flush failed", zap.Error(err))
	}
	return model.JobStats{}, fmt.Sprintf("enriched %d listings, %d failed", enriched, failed), nil
}
