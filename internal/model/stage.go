package model

import "github.com/rotisserie/eris"

// StageType identifies one phase of the listing pipeline. The closed set of
// values below is a persisted contract; the execution order is declared once
// in the pipeline package.
type StageType string

const (
	StageCapture     StageType = "capture"
	StageEnrich      StageType = "enrich"
	StageMaterialize StageType = "materialize"
	StageSanitize    StageType = "sanitize"
	StageReconcile   StageType = "reconcile"
	StageAnalyze     StageType = "analyze"

	// StageCatalogRefresh is a maintenance job type outside the six-stage
	// order; next-stage resolution never returns it.
	StageCatalogRefresh StageType = "catalog_refresh"
)

// ParseStageType validates a stage type string.
func ParseStageType(s string) (StageType, error) {
	switch StageType(s) {
	case StageCapture, StageEnrich, StageMaterialize, StageSanitize,
		StageReconcile, StageAnalyze, StageCatalogRefresh:
		return StageType(s), nil
	default:
		return "", eris.Errorf("model: unknown stage type %q", s)
	}
}

// JobStatus is the lifecycle state of a pipeline job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JoinStatus is the lifecycle state of a listing-catalog join.
type JoinStatus string

const (
	JoinStatusActive     JoinStatus = "active"
	JoinStatusSuperseded JoinStatus = "superseded"
)
