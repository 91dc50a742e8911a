package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dutchgtr/bricktrack/internal/job"
	"github.com/dutchgtr/bricktrack/internal/marketplace"
	"github.com/dutchgtr/bricktrack/internal/pipeline"
	"github.com/dutchgtr/bricktrack/internal/reconcile"
	"github.com/dutchgtr/bricktrack/internal/stats"
	"github.com/dutchgtr/bricktrack/internal/store"
)

// appEnv bundles the wired components shared by the pipeline commands.
type appEnv struct {
	Store     store.Store
	Tracker   *job.Tracker
	Sequencer *pipeline.Sequencer
}

func (e *appEnv) Close() {
	e.Store.Close()
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "bricktrack.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initAdapter() (marketplace.Adapter, error) {
	switch cfg.Marketplace.Adapter {
	case "mock":
		return marketplace.NewMockAdapter(0), nil
	case "http":
		return marketplace.NewHTTPAdapter(marketplace.Options{
			BaseURL:        cfg.Marketplace.BaseURL,
			UserAgent:      cfg.Marketplace.UserAgent,
			Timeout:        time.Duration(cfg.Marketplace.TimeoutSecs) * time.Second,
			RequestsPerSec: cfg.Marketplace.RequestsPerSec,
			MaxAttempts:    cfg.Marketplace.MaxAttempts,

			InitialBackoffMs: cfg.Marketplace.BackoffMs,
			MaxBackoffMs:     cfg.Marketplace.BackoffMaxMs,
			BreakerThreshold: cfg.Marketplace.BreakerThreshold,
			BreakerResetSecs: cfg.Marketplace.BreakerResetSecs,
		})
	default:
		return nil, eris.Errorf("unsupported marketplace adapter: %s", cfg.Marketplace.Adapter)
	}
}

// initEnv builds the store, tracker, and a sequencer with all six stage
// handlers registered.
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	adapter, err := initAdapter()
	if err != nil {
		st.Close()
		return nil, err
	}

	policy, err := reconcile.ParseCleanupPolicy(cfg.Pipeline.CleanupPolicy)
	if err != nil {
		st.Close()
		return nil, err
	}

	tracker := job.NewTracker(st, cfg.Pipeline.JobTimeout())
	progress := pipeline.ProgressOptions{
		Every:  cfg.Pipeline.ProgressEvery,
		Window: cfg.Pipeline.ProgressWindow(),
	}

	orchestrator := reconcile.NewOrchestrator(
		st,
		reconcile.NewValidator(st, cfg.Pipeline.ValidationBatch),
		reconcile.NewJoiner(st),
		cfg.Pipeline.ReconcileVersion,
		policy,
	)

	seq := pipeline.NewSequencer(st, tracker,
		pipeline.NewCaptureHandler(st, tracker, adapter, cfg.Marketplace.MaxPages, progress),
		pipeline.NewEnrichHandler(st, tracker, adapter, progress),
		pipeline.NewMaterializeHandler(st),
		pipeline.NewSanitizeHandler(st, tracker, progress),
		pipeline.NewReconcileHandler(st, tracker, orchestrator, cfg.Pipeline.ReconcileVersion, policy, progress),
		pipeline.NewAnalyzeHandler(tracker, stats.NewSummarizer(st)),
	)

	return &appEnv{Store: st, Tracker: tracker, Sequencer: seq}, nil
}
