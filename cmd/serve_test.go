package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dutchgtr/bricktrack/internal/job"
	"github.com/dutchgtr/bricktrack/internal/model"
	"github.com/dutchgtr/bricktrack/internal/pipeline"
	"github.com/dutchgtr/bricktrack/internal/store"
)

// serveStore is a partial store fake for handler tests.
type serveStore struct {
	store.Store
	jobs      map[string]*model.Job
	running   *model.Job
	completed []model.StageType
	listings  []model.Listing
	joins     []model.ListingCatalogJoin
	entries   []model.CatalogEntry
}

func newServeStore() *serveStore {
	return &serveStore{jobs: map[string]*model.Job{}}
}

func (s *serveStore) GetJob(_ context.Context, id string) (*model.Job, error) {
	return s.jobs[id], nil
}

func (s *serveStore) FindRunningJob(_ context.Context, _ string) (*model.Job, error) {
	return s.running, nil
}

func (s *serveStore) CompletedStages(_ context.Context, _ string) ([]model.StageType, error) {
	return s.completed, nil
}

func (s *serveStore) ListJobs(_ context.Context, filter store.JobFilter) ([]model.Job, error) {
	var out []model.Job
	for _, j := range s.jobs {
		if filter.Dataset != "" && j.Dataset != filter.Dataset {
			continue
		}
		out = append(out, *j)
	}
	return out, nil
}

func (s *serveStore) FailJob(_ context.Context, id, errMsg string) error {
	j := s.jobs[id]
	j.Status = model.JobStatusFailed
	j.ErrorMessage = errMsg
	return nil
}

func (s *serveStore) GetListingsByIDs(_ context.Context, ids []string) ([]model.Listing, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Listing
	for _, l := range s.listings {
		if want[l.ID] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *serveStore) ListJoinsForListings(_ context.Context, ids []string) ([]model.ListingCatalogJoin, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []model.ListingCatalogJoin
	for _, j := range s.joins {
		if want[j.ListingID] {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *serveStore) GetCatalogEntriesByIDs(_ context.Context, ids []string) ([]model.CatalogEntry, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []model.CatalogEntry
	for _, e := range s.entries {
		if want[e.ID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func newServeEnv(st *serveStore) *appEnv {
	tracker := job.NewTracker(st, time.Hour)
	return &appEnv{
		Store:     st,
		Tracker:   tracker,
		Sequencer: pipeline.NewSequencer(st, tracker),
	}
}

func doRequest(t *testing.T, handler http.HandlerFunc, method, path string, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestHandleRunNextCaptureRequired(t *testing.T) {
	env := newServeEnv(newServeStore())

	w := doRequest(t, handleRunNext(env), http.MethodPost, "/api/datasets/eu/jobs/next", map[string]string{"dataset": "eu"})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandleRunNextAlreadyRunning(t *testing.T) {
	st := newServeStore()
	st.running = &model.Job{ID: "busy-1", Stage: model.StageEnrich, Dataset: "eu", Status: model.JobStatusRunning}
	env := newServeEnv(st)

	w := doRequest(t, handleRunNext(env), http.MethodPost, "/api/datasets/eu/jobs/next", map[string]string{"dataset": "eu"})

	assert.Equal(t, http.StatusConflict, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "busy-1", body["job_id"])
	assert.Equal(t, "enrich", body["stage"])
}

func TestHandleRunNextPipelineComplete(t *testing.T) {
	st := newServeStore()
	st.completed = []model.StageType{
		model.StageCapture, model.StageEnrich, model.StageMaterialize,
		model.StageSanitize, model.StageReconcile, model.StageAnalyze,
	}
	env := newServeEnv(st)

	w := doRequest(t, handleRunNext(env), http.MethodPost, "/api/datasets/eu/jobs/next", map[string]string{"dataset": "eu"})

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "pipeline_complete", body["status"])
}

func TestHandleRunAllRequiresCapture(t *testing.T) {
	env := newServeEnv(newServeStore())

	w := doRequest(t, handleRunAll(env), http.MethodPost, "/api/datasets/eu/jobs/all", map[string]string{"dataset": "eu"})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandleGetJobNotFound(t *testing.T) {
	env := newServeEnv(newServeStore())

	w := doRequest(t, handleGetJob(env), http.MethodGet, "/api/jobs/nope", map[string]string{"id": "nope"})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetJobReconcileBreakdown(t *testing.T) {
	st := newServeStore()
	now := time.Now().UTC()
	st.jobs["rec-1"] = &model.Job{
		ID:      "rec-1",
		Stage:   model.StageReconcile,
		Dataset: "eu",
		Status:  model.JobStatusCompleted,
		Metadata: &model.JobMetadata{Reconcile: &model.ReconcileMetadata{
			Version:    "2.0",
			ListingIDs: []string{"l1", "l2"},
		}},
	}
	st.listings = []model.Listing{
		{ID: "l1", Title: "Brick Bank MISB", SanitisedTitle: "brick bank 10251 misb", ReconciledAt: &now},
		{ID: "l2", Title: "mixed bricks", SanitisedTitle: "mixed bricks mystery 55555", ReconciledAt: &now},
	}
	st.entries = []model.CatalogEntry{{ID: "e1", SetNumber: "10251", Name: "Brick Bank"}}
	st.joins = []model.ListingCatalogJoin{{
		ID: "j1", ListingID: "l1", CatalogEntryID: "e1",
		Nature: "mentioned", Status: model.JoinStatusActive, ReconciliationVer: "2.0",
	}}
	env := newServeEnv(st)

	w := doRequest(t, handleGetJob(env), http.MethodGet, "/api/jobs/rec-1", map[string]string{"id": "rec-1"})

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Job      model.Job          `json:"job"`
		Listings []listingBreakdown `json:"listings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rec-1", body.Job.ID)
	require.Len(t, body.Listings, 2)

	byID := map[string]listingBreakdown{}
	for _, l := range body.Listings {
		byID[l.ListingID] = l
	}
	require.Len(t, byID["l1"].Joins, 1)
	assert.Equal(t, "10251", byID["l1"].Joins[0].SetNumber)
	assert.Equal(t, "Brick Bank", byID["l1"].Joins[0].Name)
	assert.True(t, byID["l1"].Reconciled)
	assert.Equal(t, []breakdownCandidate{{Candidate: "10251", Validated: true}}, byID["l1"].Candidates)
	assert.Empty(t, byID["l2"].Joins)
	assert.Equal(t, []breakdownCandidate{{Candidate: "55555", Validated: false}}, byID["l2"].Candidates)
}

func TestCandidateValidated(t *testing.T) {
	assert.True(t, candidateValidated("10251-1", []string{"10251-1"}))
	assert.True(t, candidateValidated("10251", []string{"10251-1"}), "suffixed catalog variant")
	assert.False(t, candidateValidated("10251", []string{"102510"}))
	assert.False(t, candidateValidated("10251", nil))
}

func TestHandleCancelJob(t *testing.T) {
	st := newServeStore()
	st.jobs["run-1"] = &model.Job{ID: "run-1", Stage: model.StageSanitize, Status: model.JobStatusRunning}
	env := newServeEnv(st)

	w := doRequest(t, handleCancelJob(env), http.MethodPost, "/api/jobs/run-1/cancel", map[string]string{"id": "run-1"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.JobStatusFailed, st.jobs["run-1"].Status)
	assert.Equal(t, job.CancelledMessage, st.jobs["run-1"].ErrorMessage)
}

func TestHandleCancelJobNotFound(t *testing.T) {
	env := newServeEnv(newServeStore())

	w := doRequest(t, handleCancelJob(env), http.MethodPost, "/api/jobs/x/cancel", map[string]string{"id": "x"})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleCancelJobAlreadyTerminal(t *testing.T) {
	st := newServeStore()
	st.jobs["done-1"] = &model.Job{ID: "done-1", Status: model.JobStatusCompleted}
	env := newServeEnv(st)

	w := doRequest(t, handleCancelJob(env), http.MethodPost, "/api/jobs/done-1/cancel", map[string]string{"id": "done-1"})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReconcileBreakdownBatching(t *testing.T) {
	st := newServeStore()
	ids := make([]string, 0, 250)
	for i := 0; i < 250; i++ {
		id := "l" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		ids = append(ids, id)
		st.listings = append(st.listings, model.Listing{ID: id, Title: "t"})
	}

	breakdown, err := reconcileBreakdown(context.Background(), st, ids, "2.0")
	require.NoError(t, err)
	assert.Len(t, breakdown, 250)
}
