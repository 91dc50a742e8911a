package job

import (
	"context"
	"time"

	"github.com/dutchgtr/bricktrack/internal/model"
)

// Reporter throttles job progress writes. Deltas accumulate in memory and are
// flushed to the store when either enough Record calls have piled up or
// enough time has passed since the last flush, whichever comes first. Force
// bypasses both throttles. A Reporter belongs to one worker goroutine.
type Reporter struct {
	tracker *Tracker
	jobID   string

	every  int
	window time.Duration

	calls     int
	pending   model.JobStats
	message   string
	lastFlush time.Time
	now       func() time.Time
}

// NewReporter creates a Reporter for the given job. every is the number of
// Record calls between flushes, window the maximum time between flushes;
// non-positive values disable the respective throttle dimension.
func NewReporter(tracker *Tracker, jobID string, every int, window time.Duration) *Reporter {
	return &Reporter{
		tracker:   tracker,
		jobID:     jobID,
		every:     every,
		window:    window,
		lastFlush: time.Now(),
		now:       time.Now,
	}
}

// Record accumulates a stats delta and the latest message, flushing when a
// throttle threshold is crossed. Between flushes the in-memory state always
// reflects the most recent call, so a trailing Flush persists the final view.
func (r *Reporter) Record(ctx context.Context, message string, delta model.JobStats) error {
	r.calls++
	r.pending.Add(delta)
	r.message = message

	if !r.due() {
		return nil
	}
	return r.Flush(ctx)
}

// Force records the delta and flushes immediately, bypassing both throttles.
func (r *Reporter) Force(ctx context.Context, message string, delta model.JobStats) error {
	r.calls++
	r.pending.Add(delta)
	r.message = message
	return r.Flush(ctx)
}

// Flush writes any pending state to the store and rearms the throttles. It
// writes even when the pending delta is zero so a changed message lands.
func (r *Reporter) Flush(ctx context.Context) error {
	if r.calls == 0 {
		return nil
	}
	if err := r.tracker.Progress(ctx, r.jobID, r.message, r.pending); err != nil {
		return err
	}
	r.rearm()
	return nil
}

// Reset discards pending state and rearms the throttles without writing.
func (r *Reporter) Reset() {
	r.message = ""
	r.rearm()
}

func (r *Reporter) rearm() {
	r.calls = 0
	r.pending = model.JobStats{}
	r.lastFlush = r.now()
}

func (r *Reporter) due() bool {
	if r.every > 0 && r.calls >= r.every {
		return true
	}
	if r.window > 0 && r.now().Sub(r.lastFlush) >= r.window {
		return true
	}
	return false
}
