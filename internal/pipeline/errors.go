package pipeline

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/dutchgtr/bricktrack/internal/model"
)

// Sequencing rejections are distinct, named conditions so callers can offer
// an actionable next step instead of a bare error.
var (
	// ErrCaptureRequired rejects triggers that need a completed capture:
	// capture takes externally supplied parameters the sequencer cannot
	// synthesize, so it is never auto-triggered.
	ErrCaptureRequired = eris.New("pipeline: capture stage requires a manual trigger with search parameters")

	// ErrPipelineComplete signals that every stage has completed.
	ErrPipelineComplete = eris.New("pipeline: all stages completed")
)

// AlreadyRunningError rejects a trigger while another job holds the
// dataset's single-flight slot.
type AlreadyRunningError struct {
	Dataset string
	Stage   model.StageType
	JobID   string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("pipeline: %s job %s already running for dataset %s", e.Stage, e.JobID, e.Dataset)
}
