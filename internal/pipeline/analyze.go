package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dutchgtr/bricktrack/internal/job"
	"github.com/dutchgtr/bricktrack/internal/model"
	"github.com/dutchgtr/bricktrack/internal/stats"
)

// AnalyzeHandler delegates to the aggregation collaborator and records the
// dataset counts on the job.
type AnalyzeHandler struct {
	tracker    *job.Tracker
	summarizer *stats.Summarizer
	logger     *zap.Logger
}

func NewAnalyzeHandler(tracker *job.Tracker, summarizer *stats.Summarizer) *AnalyzeHandler {
	return &AnalyzeHandler{
		tracker:    tracker,
		summarizer: summarizer,
		logger:     zap.L().With(zap.String("component", "analyze")),
	}
}

func (h *AnalyzeHandler) Stage() model.StageType {
	return model.StageAnalyze
}

func (h *AnalyzeHandler) Run(ctx context.Context, j *model.Job) (model.JobStats, string, error) {
	summary, err := h.summarizer.Summarize(ctx, j.Dataset)
	if err != nil {
		return model.JobStats{}, "", err
	}

	meta := &model.JobMetadata{Analyze: &model.AnalyzeMetadata{
		ListingsAnalyzed: summary.Listings,
		JoinsAnalyzed:    summary.ActiveJoins,
	}}
	if err := h.tracker.SetMetadata(ctx, j.ID, meta); err != nil {
		h.logger.Warn("metadata update failed", zap.Error(err))
	}

	final := model.JobStats{Found: summary.Listings}
	return final, fmt.Sprintf("analyzed %d listings, %d active joins", summary.Listings, summary.ActiveJoins), nil
}
