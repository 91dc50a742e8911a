package pipeline

import (
	"github.com/dutchgtr/bricktrack/internal/model"
)

// StageOrder is the fixed total order of pipeline stages. It is declared
// exactly once; every caller that needs stage ordering references it here.
// Catalog refresh jobs sit outside this order and are never resolved as a
// next stage.
var StageOrder = [...]model.StageType{
	model.StageCapture,
	model.StageEnrich,
	model.StageMaterialize,
	model.StageSanitize,
	model.StageReconcile,
	model.StageAnalyze,
}

// NextStage returns the first stage in order not yet completed. ok is false
// when every stage has completed.
func NextStage(completed []model.StageType) (model.StageType, bool) {
	done := completedSet(completed)
	for _, stage := range StageOrder {
		if !done[stage] {
			return stage, true
		}
	}
	return "", false
}

// RemainingStages returns the ordered stages not yet completed.
func RemainingStages(completed []model.StageType) []model.StageType {
	done := completedSet(completed)
	var remaining []model.StageType
	for _, stage := range StageOrder {
		if !done[stage] {
			remaining = append(remaining, stage)
		}
	}
	return remaining
}

// StageCompleted reports whether the given stage is in the completed set.
func StageCompleted(completed []model.StageType, stage model.StageType) bool {
	return completedSet(completed)[stage]
}

func completedSet(completed []model.StageType) map[model.StageType]bool {
	done := make(map[model.StageType]bool, len(completed))
	for _, stage := range completed {
		done[stage] = true
	}
	return done
}
