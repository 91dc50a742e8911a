package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dutchgtr/bricktrack/internal/model"
)

func newTestReporter(t *testing.T, every int, window time.Duration) (*Reporter, *fakeStore, string) {
	t.Helper()
	fs := newFakeStore()
	tr := NewTracker(fs, time.Hour)
	j, err := tr.Start(context.Background(), model.StageReconcile, "lego_sets", nil)
	require.NoError(t, err)
	return NewReporter(tr, j.ID, every, window), fs, j.ID
}

func TestReporterCountThrottle(t *testing.T) {
	r, fs, id := newTestReporter(t, 3, 0)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, "1 of 5", model.JobStats{Found: 1}))
	require.NoError(t, r.Record(ctx, "2 of 5", model.JobStats{Found: 1}))
	assert.Empty(t, fs.progress, "no flush before the count threshold")

	require.NoError(t, r.Record(ctx, "3 of 5", model.JobStats{Found: 1}))
	require.Len(t, fs.progress, 1)
	assert.Equal(t, model.JobStats{Found: 3}, fs.progress[0], "accumulated delta flushed in one write")
	assert.Equal(t, "3 of 5", fs.jobs[id].Message)

	// Counter rearmed: the next call does not flush.
	require.NoError(t, r.Record(ctx, "4 of 5", model.JobStats{Found: 1}))
	assert.Len(t, fs.progress, 1)
}

func TestReporterTimeThrottle(t *testing.T) {
	r, fs, _ := newTestReporter(t, 0, time.Minute)
	ctx := context.Background()

	base := time.Now()
	r.now = func() time.Time { return base }
	r.lastFlush = base

	require.NoError(t, r.Record(ctx, "working", model.JobStats{Found: 1}))
	assert.Empty(t, fs.progress)

	r.now = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, r.Record(ctx, "working", model.JobStats{Found: 1}))
	require.Len(t, fs.progress, 1)
	assert.Equal(t, model.JobStats{Found: 2}, fs.progress[0])
}

func TestReporterForceBypassesThrottles(t *testing.T) {
	r, fs, id := newTestReporter(t, 100, time.Hour)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, "1 of 3", model.JobStats{Found: 1}))
	require.NoError(t, r.Force(ctx, "stopping early", model.JobStats{Updated: 1}))

	require.Len(t, fs.progress, 1)
	assert.Equal(t, model.JobStats{Found: 1, Updated: 1}, fs.progress[0])
	assert.Equal(t, "stopping early", fs.jobs[id].Message)
}

func TestReporterFinalFlushReflectsLastCall(t *testing.T) {
	r, fs, id := newTestReporter(t, 100, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Record(ctx, "5 of 5", model.JobStats{Found: 1}))
	}
	assert.Empty(t, fs.progress)

	require.NoError(t, r.Flush(ctx))
	require.Len(t, fs.progress, 1)
	assert.Equal(t, 5, fs.jobs[id].Stats.Found)
	assert.Equal(t, "5 of 5", fs.jobs[id].Message)

	// Nothing pending: a second flush writes nothing.
	require.NoError(t, r.Flush(ctx))
	assert.Len(t, fs.progress, 1)
}

func TestReporterReset(t *testing.T) {
	r, fs, _ := newTestReporter(t, 2, 0)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, "1 of 2", model.JobStats{Found: 1}))
	r.Reset()

	require.NoError(t, r.Record(ctx, "restarted", model.JobStats{Found: 1}))
	assert.Empty(t, fs.progress, "reset discards the pending call count")

	require.NoError(t, r.Record(ctx, "restarted", model.JobStats{Found: 1}))
	require.Len(t, fs.progress, 1)
	assert.Equal(t, model.JobStats{Found: 2}, fs.progress[0], "pre-reset delta discarded")
}
