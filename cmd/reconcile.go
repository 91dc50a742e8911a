package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dutchgtr/bricktrack/internal/model"
	"github.com/dutchgtr/bricktrack/internal/pipeline"
	"github.com/dutchgtr/bricktrack/internal/reconcile"
	"github.com/dutchgtr/bricktrack/internal/stats"
)

var (
	reconcileDatasets []string
	reconcileListings []string
	reconcileVersion  string
	reconcilePolicy   string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile listings against the set catalog",
	Long:  "Runs the reconciliation engine as a tracked job, one per dataset. With --listing, only the named listings are reconciled.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("pipeline"); err != nil {
			return err
		}
		if len(reconcileListings) > 0 && len(reconcileDatasets) != 1 {
			return eris.New("--listing requires exactly one --dataset")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		version := cfg.Pipeline.ReconcileVersion
		if reconcileVersion != "" {
			version = reconcileVersion
		}
		policyName := cfg.Pipeline.CleanupPolicy
		if reconcilePolicy != "" {
			policyName = reconcilePolicy
		}
		policy, err := reconcile.ParseCleanupPolicy(policyName)
		if err != nil {
			return err
		}

		orchestrator := reconcile.NewOrchestrator(
			env.Store,
			reconcile.NewValidator(env.Store, cfg.Pipeline.ValidationBatch),
			reconcile.NewJoiner(env.Store),
			version,
			policy,
		)
		handler := pipeline.NewReconcileHandler(env.Store, env.Tracker, orchestrator, version, policy, pipeline.ProgressOptions{
			Every:  cfg.Pipeline.ProgressEvery,
			Window: cfg.Pipeline.ProgressWindow(),
		})

		g, gctx := errgroup.WithContext(ctx)
		for _, dataset := range reconcileDatasets {
			g.Go(func() error {
				return reconcileDataset(gctx, env, handler, dataset, version, string(policy))
			})
		}
		return g.Wait()
	},
}

// reconcileDataset runs one reconcile job synchronously for the dataset.
func reconcileDataset(ctx context.Context, env *appEnv, handler *pipeline.ReconcileHandler, dataset string, version, policy string) error {
	if running, err := env.Store.FindRunningJob(ctx, dataset); err != nil {
		return err
	} else if running != nil {
		return eris.Errorf("a %s job (%s) is already running for dataset %s", running.Stage, running.ID, dataset)
	}

	meta := &model.JobMetadata{Reconcile: &model.ReconcileMetadata{
		Version:       version,
		CleanupPolicy: policy,
		ListingIDs:    reconcileListings,
	}}
	j, err := env.Tracker.Start(ctx, model.StageReconcile, dataset, meta)
	if err != nil {
		return err
	}

	final, msg, err := handler.Run(ctx, j)
	if err != nil {
		env.Tracker.Fail(ctx, j.ID, err)
		return eris.Wrapf(err, "reconcile dataset %s", dataset)
	}
	if err := env.Tracker.Complete(ctx, j.ID, msg, final); err != nil {
		return err
	}
	fmt.Printf("[%s] %s\n", dataset, msg)
	return nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize listings and active joins per dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		summarizer := stats.NewSummarizer(st)
		for _, dataset := range reconcileDatasets {
			s, err := summarizer.Summarize(ctx, dataset)
			if err != nil {
				return err
			}
			fmt.Printf("[%s] listings=%d active_joins=%d\n", s.Dataset, s.Listings, s.ActiveJoins)
		}
		return nil
	},
}

func init() {
	reconcileCmd.Flags().StringSliceVar(&reconcileDatasets, "dataset", []string{"default"}, "dataset(s) to reconcile")
	reconcileCmd.Flags().StringSliceVar(&reconcileListings, "listing", nil, "reconcile only these listing ids")
	reconcileCmd.Flags().StringVar(&reconcileVersion, "version", "", "reconciliation version (default from config)")
	reconcileCmd.Flags().StringVar(&reconcilePolicy, "cleanup-policy", "", "stale join policy: delete, supersede, or keep")
	statsCmd.Flags().StringSliceVar(&reconcileDatasets, "dataset", []string{"default"}, "dataset(s) to summarize")
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(statsCmd)
}
