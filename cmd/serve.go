package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dutchgtr/bricktrack/internal/model"
	"github.com/dutchgtr/bricktrack/internal/pipeline"
	"github.com/dutchgtr/bricktrack/internal/reconcile"
	"github.com/dutchgtr/bricktrack/internal/store"
)

var servePort int

// listingLookupBatch bounds per-listing breakdown queries on job reads.
const listingLookupBatch = 100

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Stale-job sweep runs for the life of the server.
		go func() {
			ticker := time.NewTicker(cfg.Pipeline.SweepInterval())
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					swept, err := env.Tracker.SweepStale(ctx)
					if err != nil {
						zap.L().Error("stale job sweep failed", zap.Error(err))
					} else if swept > 0 {
						zap.L().Info("swept stale jobs", zap.Int("count", swept))
					}
				}
			}
		}()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Route("/api", func(r chi.Router) {
			r.Post("/datasets/{dataset}/jobs/next", handleRunNext(env))
			r.Post("/datasets/{dataset}/jobs/all", handleRunAll(env))
			r.Get("/datasets/{dataset}/jobs", handleListJobs(env))
			r.Get("/jobs/{id}", handleGetJob(env))
			r.Post("/jobs/{id}/cancel", handleCancelJob(env))
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func handleRunNext(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		dataset := chi.URLParam(req, "dataset")
		j, err := env.Sequencer.RunNext(req.Context(), dataset)
		if err != nil {
			writeSequencerError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, j)
	}
}

func handleRunAll(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		dataset := chi.URLParam(req, "dataset")
		stages, err := env.Sequencer.RunToCompletion(req.Context(), dataset)
		if err != nil {
			writeSequencerError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"dataset": dataset,
			"stages":  stages,
		})
	}
}

func handleListJobs(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		filter := store.JobFilter{
			Dataset: chi.URLParam(req, "dataset"),
			Stage:   model.StageType(req.URL.Query().Get("stage")),
			Status:  model.JobStatus(req.URL.Query().Get("status")),
			Limit:   50,
		}
		jobs, err := env.Store.ListJobs(req.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	}
}

func handleGetJob(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		j, err := env.Store.GetJob(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if j == nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}

		resp := map[string]any{"job": j}
		if j.Stage == model.StageReconcile && j.Metadata != nil && j.Metadata.Reconcile != nil {
			breakdown, err := reconcileBreakdown(req.Context(), env.Store, j.Metadata.Reconcile.ListingIDs, j.Metadata.Reconcile.Version)
			if err != nil {
				zap.L().Warn("listing breakdown failed", zap.String("job_id", j.ID), zap.Error(err))
			} else {
				resp["listings"] = breakdown
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleCancelJob(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		j, err := env.Store.GetJob(req.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if j == nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if err := env.Sequencer.Cancel(req.Context(), id); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "job_id": id})
	}
}

// listingBreakdown is one listing's share of a reconcile job result.
type listingBreakdown struct {
	ListingID  string               `json:"listing_id"`
	Title      string               `json:"title"`
	Reconciled bool                 `json:"reconciled"`
	Candidates []breakdownCandidate `json:"candidates"`
	Joins      []breakdownJoin      `json:"joins"`
}

// breakdownCandidate is one extracted identifier and whether an active join
// to a matching catalog entry exists for it.
type breakdownCandidate struct {
	Candidate string `json:"candidate"`
	Validated bool   `json:"validated"`
}

type breakdownJoin struct {
	SetNumber          string `json:"set_number"`
	Name               string `json:"name"`
	Nature             string `json:"nature"`
	Status             string `json:"status"`
	PotentialYearMatch bool   `json:"potential_year_match"`
}

// reconcileBreakdown loads the listings a reconcile job touched, in fixed
// batches, and resolves their joins against the catalog. Candidates are not
// persisted with the job, so extraction is re-run over each listing's
// sanitised text under the job's rule version; a candidate counts as
// validated when an active join's catalog entry matches it exactly or by
// prefix.
func reconcileBreakdown(ctx context.Context, st store.Store, listingIDs []string, version string) ([]listingBreakdown, error) {
	breakdown := make([]listingBreakdown, 0, len(listingIDs))

	for start := 0; start < len(listingIDs); start += listingLookupBatch {
		end := start + listingLookupBatch
		if end > len(listingIDs) {
			end = len(listingIDs)
		}
		batch := listingIDs[start:end]

		listings, err := st.GetListingsByIDs(ctx, batch)
		if err != nil {
			return nil, err
		}
		joins, err := st.ListJoinsForListings(ctx, batch)
		if err != nil {
			return nil, err
		}

		entryIDs := make([]string, 0, len(joins))
		seen := make(map[string]bool, len(joins))
		for _, join := range joins {
			if !seen[join.CatalogEntryID] {
				seen[join.CatalogEntryID] = true
				entryIDs = append(entryIDs, join.CatalogEntryID)
			}
		}
		entries, err := st.GetCatalogEntriesByIDs(ctx, entryIDs)
		if err != nil {
			return nil, err
		}
		entryByID := make(map[string]model.CatalogEntry, len(entries))
		for _, e := range entries {
			entryByID[e.ID] = e
		}

		joinsByListing := make(map[string][]breakdownJoin)
		activeSetsByListing := make(map[string][]string)
		for _, join := range joins {
			entry := entryByID[join.CatalogEntryID]
			joinsByListing[join.ListingID] = append(joinsByListing[join.ListingID], breakdownJoin{
				SetNumber:          entry.SetNumber,
				Name:               entry.Name,
				Nature:             join.Nature,
				Status:             string(join.Status),
				PotentialYearMatch: join.PotentialYearMatch,
			})
			if join.Status == model.JoinStatusActive {
				activeSetsByListing[join.ListingID] = append(activeSetsByListing[join.ListingID], entry.SetNumber)
			}
		}

		for _, l := range listings {
			text := l.SanitisedTitle
			if l.SanitisedDescription != "" {
				text += "\n" + l.SanitisedDescription
			}
			candidates, err := reconcile.ExtractIdentifiers(text, version)
			if err != nil {
				return nil, err
			}
			tagged := make([]breakdownCandidate, 0, len(candidates))
			for _, c := range candidates {
				tagged = append(tagged, breakdownCandidate{
					Candidate: c,
					Validated: candidateValidated(c, activeSetsByListing[l.ID]),
				})
			}

			breakdown = append(breakdown, listingBreakdown{
				ListingID:  l.ID,
				Title:      l.Title,
				Reconciled: l.ReconciledAt != nil,
				Candidates: tagged,
				Joins:      joinsByListing[l.ID],
			})
		}
	}

	return breakdown, nil
}

// candidateValidated reports whether any of the listing's active-join set
// numbers matches the candidate, exactly or as a suffixed variant.
func candidateValidated(candidate string, setNumbers []string) bool {
	for _, sn := range setNumbers {
		if sn == candidate || strings.HasPrefix(sn, candidate+"-") {
			return true
		}
	}
	return false
}

// writeSequencerError maps sequencing rejections onto HTTP statuses.
func writeSequencerError(w http.ResponseWriter, err error) {
	var running *pipeline.AlreadyRunningError
	switch {
	case eris.Is(err, pipeline.ErrPipelineComplete):
		writeJSON(w, http.StatusOK, map[string]string{"status": "pipeline_complete"})
	case eris.Is(err, pipeline.ErrCaptureRequired):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case eris.As(err, &running):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "job already running",
			"job_id": running.JobID,
			"stage":  string(running.Stage),
		})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
