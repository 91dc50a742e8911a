package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dutchgtr/bricktrack/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// --- Jobs ---

func TestSQLite_JobLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	meta := &model.JobMetadata{Capture: &model.CaptureMetadata{Keywords: []string{"lego"}, Marketplace: "default"}}
	j, err := st.CreateJob(ctx, model.StageCapture, "eu", meta, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, j.ID)

	got, err := st.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, got.Status)
	require.NotNil(t, got.Metadata)
	require.NotNil(t, got.Metadata.Capture)
	assert.Equal(t, []string{"lego"}, got.Metadata.Capture.Keywords)

	require.NoError(t, st.UpdateJobProgress(ctx, j.ID, "page 1", model.JobStats{Found: 12, New: 12}))
	require.NoError(t, st.UpdateJobProgress(ctx, j.ID, "page 2", model.JobStats{Found: 8, New: 5}))

	got, err = st.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStats{Found: 20, New: 17}, got.Stats)
	assert.Equal(t, "page 2", got.Message)
	assert.NotNil(t, got.LastUpdate)

	require.NoError(t, st.CompleteJob(ctx, j.ID, "done", model.JobStats{Found: 1}))
	got, err = st.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 21, got.Stats.Found)
	assert.NotNil(t, got.CompletedAt)

	missing, err := st.GetJob(ctx, "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_TerminalTransitionsAreNoOps(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	j, err := st.CreateJob(ctx, model.StageSanitize, "eu", nil, time.Hour)
	require.NoError(t, err)
	require.NoError(t, st.FailJob(ctx, j.ID, "boom"))

	// Completing or re-failing a terminal job changes nothing.
	require.NoError(t, st.CompleteJob(ctx, j.ID, "late", model.JobStats{Found: 99}))
	require.NoError(t, st.FailJob(ctx, j.ID, "other"))

	got, err := st.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.ErrorMessage)
	assert.Zero(t, got.Stats.Found)

	// A terminal job also rejects progress updates.
	assert.Error(t, st.UpdateJobProgress(ctx, j.ID, "msg", model.JobStats{Found: 1}))
}

func TestSQLite_FindRunningJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	j, err := st.FindRunningJob(ctx, "eu")
	require.NoError(t, err)
	assert.Nil(t, j)

	created, err := st.CreateJob(ctx, model.StageEnrich, "eu", nil, time.Hour)
	require.NoError(t, err)

	j, err = st.FindRunningJob(ctx, "eu")
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, created.ID, j.ID)

	// Other datasets are unaffected.
	other, err := st.FindRunningJob(ctx, "us")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestSQLite_CompletedStagesAndLatest(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := st.CreateJob(ctx, model.StageCapture, "eu", nil, time.Hour)
	require.NoError(t, err)
	require.NoError(t, st.CompleteJob(ctx, first.ID, "", model.JobStats{}))

	second, err := st.CreateJob(ctx, model.StageCapture, "eu", nil, time.Hour)
	require.NoError(t, err)
	require.NoError(t, st.CompleteJob(ctx, second.ID, "", model.JobStats{}))

	failed, err := st.CreateJob(ctx, model.StageEnrich, "eu", nil, time.Hour)
	require.NoError(t, err)
	require.NoError(t, st.FailJob(ctx, failed.ID, "x"))

	stages, err := st.CompletedStages(ctx, "eu")
	require.NoError(t, err)
	assert.Equal(t, []model.StageType{model.StageCapture}, stages)

	latest, err := st.LatestCompletedJob(ctx, "eu", model.StageCapture)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
}

func TestSQLite_LatestCompletedJobOrdersByCompletion(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	early, err := st.CreateJob(ctx, model.StageCapture, "eu", nil, time.Hour)
	require.NoError(t, err)
	late, err := st.CreateJob(ctx, model.StageCapture, "eu", nil, time.Hour)
	require.NoError(t, err)

	// The job that started first finishes last and must win.
	require.NoError(t, st.CompleteJob(ctx, late.ID, "", model.JobStats{}))
	require.NoError(t, st.CompleteJob(ctx, early.ID, "", model.JobStats{}))

	latest, err := st.LatestCompletedJob(ctx, "eu", model.StageCapture)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, early.ID, latest.ID)
}

func TestSQLite_SweepStaleJobs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	stale, err := st.CreateJob(ctx, model.StageReconcile, "eu", nil, -time.Minute)
	require.NoError(t, err)
	fresh, err := st.CreateJob(ctx, model.StageReconcile, "us", nil, time.Hour)
	require.NoError(t, err)

	swept, err := st.SweepStaleJobs(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := st.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "timed out", got.ErrorMessage)

	got, err = st.GetJob(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, got.Status)
}

func TestSQLite_ListJobsFilter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateJob(ctx, model.StageCapture, "eu", nil, time.Hour)
	require.NoError(t, err)
	_, err = st.CreateJob(ctx, model.StageEnrich, "eu", nil, time.Hour)
	require.NoError(t, err)
	_, err = st.CreateJob(ctx, model.StageCapture, "us", nil, time.Hour)
	require.NoError(t, err)

	jobs, err := st.ListJobs(ctx, JobFilter{Dataset: "eu"})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = st.ListJobs(ctx, JobFilter{Stage: model.StageCapture})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = st.ListJobs(ctx, JobFilter{Dataset: "eu", Stage: model.StageEnrich})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

// --- Raw listings and materialization ---

func TestSQLite_MaterializeCaptured(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := st.InsertRawListings(ctx, []model.RawListing{
		{Dataset: "eu", CaptureJobID: "cap-1", ExternalID: "x1", Title: "Brick Bank", Price: 150},
		{Dataset: "eu", CaptureJobID: "cap-1", ExternalID: "x2", Title: "Camper Van", Price: 90},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	created, updated, err := st.MaterializeCaptured(ctx, "eu", "cap-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), created)
	assert.Zero(t, updated)

	// A second capture of the same external id updates in place.
	_, err = st.InsertRawListings(ctx, []model.RawListing{
		{Dataset: "eu", CaptureJobID: "cap-2", ExternalID: "x1", Title: "Brick Bank MISB", Price: 170},
	})
	require.NoError(t, err)

	created, updated, err = st.MaterializeCaptured(ctx, "eu", "cap-2")
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Equal(t, int64(1), updated)

	ids, err := st.ListListingIDs(ctx, "eu")
	require.NoError(t, err)
	require.Len(t, ids, 2)

	listings, err := st.GetListingsByIDs(ctx, ids)
	require.NoError(t, err)
	byExt := map[string]model.Listing{}
	for _, l := range listings {
		byExt[l.ExternalID] = l
	}
	assert.Equal(t, "Brick Bank MISB", byExt["x1"].Title)
	assert.Equal(t, 170, byExt["x1"].Price)
}

func TestSQLite_EnrichRawListing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.InsertRawListings(ctx, []model.RawListing{
		{Dataset: "eu", CaptureJobID: "cap-1", ExternalID: "x1", Title: "Brick Bank"},
	})
	require.NoError(t, err)

	raws, err := st.ListRawListingsByCaptureJob(ctx, "cap-1")
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Nil(t, raws[0].EnrichedAt)

	require.NoError(t, st.MarkRawListingEnriched(ctx, raws[0].ID, "2380 pieces, new in box", 150))

	raws, err = st.ListRawListingsByCaptureJob(ctx, "cap-1")
	require.NoError(t, err)
	require.NotNil(t, raws[0].EnrichedAt)
	assert.Equal(t, "2380 pieces, new in box", raws[0].Description)
	assert.Equal(t, 150, raws[0].Price)
}

// --- Listings ---

func seedListing(t *testing.T, st *SQLiteStore, dataset, externalID, title string) string {
	t.Helper()
	ctx := context.Background()
	_, err := st.InsertRawListings(ctx, []model.RawListing{
		{Dataset: dataset, CaptureJobID: "seed-" + externalID, ExternalID: externalID, Title: title},
	})
	require.NoError(t, err)
	_, _, err = st.MaterializeCaptured(ctx, dataset, "seed-"+externalID)
	require.NoError(t, err)

	ids, err := st.ListListingIDs(ctx, dataset)
	require.NoError(t, err)
	listings, err := st.GetListingsByIDs(ctx, ids)
	require.NoError(t, err)
	for _, l := range listings {
		if l.ExternalID == externalID {
			return l.ID
		}
	}
	t.Fatalf("listing %s not materialized", externalID)
	return ""
}

func TestSQLite_SanitiseAndReconcileListing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id := seedListing(t, st, "eu", "x1", "LEGO  10251 Brick Bank!!!")

	unsanitised, err := st.ListUnsanitisedListings(ctx, "eu")
	require.NoError(t, err)
	require.Len(t, unsanitised, 1)

	require.NoError(t, st.UpdateListingSanitised(ctx, id, "LEGO 10251 Brick Bank", ""))

	unsanitised, err = st.ListUnsanitisedListings(ctx, "eu")
	require.NoError(t, err)
	assert.Empty(t, unsanitised)

	require.NoError(t, st.UpdateListingAttributes(ctx, id, 2380, false, 0, "new"))
	require.NoError(t, st.MarkListingReconciled(ctx, id, "2.0"))

	l, err := st.GetListing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "LEGO 10251 Brick Bank", l.SanitisedTitle)
	assert.Equal(t, 2380, l.PieceCount)
	assert.Equal(t, "new", l.Condition)
	assert.NotNil(t, l.ReconciledAt)
	assert.Equal(t, "2.0", l.ReconciliationVer)

	count, err := st.CountListings(ctx, "eu")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// --- Catalog ---

func TestSQLite_CatalogUpsertAndLookup(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := st.UpsertCatalogEntries(ctx, []model.CatalogEntry{
		{SetNumber: "10251", Name: "Brick Bank", Year: 2016},
		{SetNumber: "10220-1", Name: "Camper Van", Year: 2011},
		{SetNumber: "10220-2", Name: "Camper Van reissue", Year: 2013},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	e, err := st.FindCatalogEntryBySetNumber(ctx, "10251")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "Brick Bank", e.Name)

	// Prefix lookup breaks ties to the smallest set number.
	e, err = st.FindCatalogEntryByPrefix(ctx, "10220")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "10220-1", e.SetNumber)

	e, err = st.FindCatalogEntryBySetNumber(ctx, "99999")
	require.NoError(t, err)
	assert.Nil(t, e)

	// Re-upsert updates in place rather than duplicating.
	n, err = st.UpsertCatalogEntries(ctx, []model.CatalogEntry{
		{SetNumber: "10251", Name: "Brick Bank (Creator Expert)", Year: 2016},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	e, err = st.FindCatalogEntryBySetNumber(ctx, "10251")
	require.NoError(t, err)
	assert.Equal(t, "Brick Bank (Creator Expert)", e.Name)
}

// --- Joins ---

func TestSQLite_JoinLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	listingID := seedListing(t, st, "eu", "x1", "Brick Bank")
	_, err := st.UpsertCatalogEntries(ctx, []model.CatalogEntry{{SetNumber: "10251", Name: "Brick Bank"}})
	require.NoError(t, err)
	entry, err := st.FindCatalogEntryBySetNumber(ctx, "10251")
	require.NoError(t, err)

	join := &model.ListingCatalogJoin{
		ListingID:         listingID,
		CatalogEntryID:    entry.ID,
		Nature:            "mentioned",
		ReconciliationVer: "1.0",
	}
	require.NoError(t, st.InsertJoin(ctx, join))
	assert.Equal(t, model.JoinStatusActive, join.Status)

	// The partial unique index rejects a second active join for the pair.
	dup := &model.ListingCatalogJoin{
		ListingID:         listingID,
		CatalogEntryID:    entry.ID,
		Nature:            "mentioned",
		ReconciliationVer: "2.0",
	}
	assert.Error(t, st.InsertJoin(ctx, dup))

	require.NoError(t, st.RefreshJoin(ctx, join.ID, "2.0", "mentioned", true))
	active, err := st.ActiveJoinsForListing(ctx, listingID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "2.0", active[0].ReconciliationVer)
	assert.True(t, active[0].PotentialYearMatch)

	n, err := st.SupersedeJoinsBeforeVersion(ctx, listingID, "3.0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err = st.ActiveJoinsForListing(ctx, listingID)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := st.ListJoinsForListings(ctx, []string{listingID})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.JoinStatusSuperseded, all[0].Status)

	count, err := st.CountActiveJoins(ctx, "eu")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSQLite_DeleteJoinsBeforeVersion(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	listingID := seedListing(t, st, "eu", "x1", "Brick Bank")
	_, err := st.UpsertCatalogEntries(ctx, []model.CatalogEntry{{SetNumber: "10251", Name: "Brick Bank"}})
	require.NoError(t, err)
	entry, err := st.FindCatalogEntryBySetNumber(ctx, "10251")
	require.NoError(t, err)

	join := &model.ListingCatalogJoin{
		ListingID:         listingID,
		CatalogEntryID:    entry.ID,
		Nature:            "mentioned",
		ReconciliationVer: "1.0",
	}
	require.NoError(t, st.InsertJoin(ctx, join))

	n, err := st.DeleteJoinsBeforeVersion(ctx, listingID, "2.0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := st.ListJoinsForListings(ctx, []string{listingID})
	require.NoError(t, err)
	assert.Empty(t, all)
}
