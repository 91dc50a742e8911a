package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/dutchgtr/bricktrack/internal/model"
	"github.com/dutchgtr/bricktrack/internal/store"
)

// MaterializeHandler promotes the source capture job's raw rows into the
// canonical listings table, upserting on the dataset's natural key.
type MaterializeHandler struct {
	store store.Store
}

func NewMaterializeHandler(st store.Store) *MaterializeHandler {
	return &MaterializeHandler{store: st}
}

func (h *MaterializeHandler) Stage() model.StageType {
	return model.StageMaterialize
}

func (h *MaterializeHandler) Run(ctx context.Context, j *model.Job) (model.JobStats, string, error) {
	if j.Metadata == nil || j.Metadata.Materialize == nil {
		return model.JobStats{}, "", eris.New("pipeline: materialize job has no source capture job")
	}
	captureJobID := j.Metadata.Materialize.CaptureJobID

	created, updated, err := h.store.MaterializeCaptured(ctx, j.Dataset, captureJobID)
	if err != nil {
		return model.JobStats{}, "", eris.Wrapf(err, "pipeline: materialize capture job %s", captureJobID)
	}

	stats := model.JobStats{
		Found:   int(created + updated),
		New:     int(created),
		Updated: int(updated),
	}
	return stats, fmt.Sprintf("materialized %d listings (%d new, %d updated)", created+updated, created, updated), nil
}
