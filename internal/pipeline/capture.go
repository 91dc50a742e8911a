package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dutchgtr/bricktrack/internal/job"
	"github.com/dutchgtr/bricktrack/internal/marketplace"
	"github.com/dutchgtr/bricktrack/internal/model"
	"github.com/dutchgtr/bricktrack/internal/store"
)

// ProgressOptions configures the throttled progress reporting shared by the
// long-running handlers.
type ProgressOptions struct {
	Every  int
	Window time.Duration
}

// CaptureHandler searches the marketplace for each configured keyword and
// stages the results as raw listings scoped to the capture job.
type CaptureHandler struct {
	store    store.Store
	tracker  *job.Tracker
	adapter  marketplace.Adapter
	maxPages int
	progress ProgressOptions
	logger   *zap.Logger
}

func NewCaptureHandler(st store.Store, tracker *job.Tracker, adapter marketplace.Adapter, maxPages int, progress ProgressOptions) *CaptureHandler {
	if maxPages <= 0 {
		maxPages = 10
	}
	return &CaptureHandler{
		store:    st,
		tracker:  tracker,
		adapter:  adapter,
		maxPages: maxPages,
		progress: progress,
		logger:   zap.L().With(zap.String("component", "capture")),
	}
}

func (h *CaptureHandler) Stage() model.StageType {
	return model.StageCapture
}

func (h *CaptureHandler) Run(ctx context.Context, j *model.Job) (model.JobStats, string, error) {
	if j.Metadata == nil || j.Metadata.Capture == nil {
		return model.JobStats{}, "", eris.New("pipeline: capture job has no search parameters")
	}
	params := j.Metadata.Capture

	maxPages := params.MaxPages
	if maxPages <= 0 || maxPages > h.maxPages {
		maxPages = h.maxPages
	}

	reporter := job.NewReporter(h.tracker, j.ID, h.progress.Every, h.progress.Window)
	captured := 0
	for _, keyword := range params.Keywords {
		for page := 1; page <= maxPages; page++ {
			summaries, err := h.adapter.Search(ctx, marketplace.SearchParams{Keywords: keyword, Page: page})
			if err != nil {
				return model.JobStats{}, "", eris.Wrapf(err, "pipeline: search %q page %d", keyword, page)
			}
			if len(summaries) == 0 {
				break
			}

			rows := make([]model.RawListing, 0, len(summaries))
			for _, s := range summaries {
				rows = append(rows, model.RawListing{
					Dataset:      j.Dataset,
					CaptureJobID: j.ID,
					ExternalID:   s.ExternalID,
					Title:        s.Title,
					Price:        s.Price,
					URL:          s.URL,
				})
			}
			inserted, err := h.store.InsertRawListings(ctx, rows)
			if err != nil {
				return model.JobStats{}, "", eris.Wrapf(err, "pipeline: stage raw listings for %q page %d", keyword, page)
			}
			captured += len(summaries)

			msg := fmt.Sprintf("captured %d listings (%q page %d)", captured, keyword, page)
			if err := reporter.Record(ctx, msg, model.JobStats{Found: len(summaries), New: int(inserted)}); err != nil {
				h.logger.Warn("progress update failed", zap.Error(err))
			}
		}
	}

	if err := reporter.Flush(ctx); err != nil {
		h.logger.Warn("final progress flush failed", zap.Error(err))
	}
	return model.JobStats{}, fmt.Sprintf("captured %d listings for %d keywords", captured, len(params.Keywords)), nil
}
