package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dutchgtr/bricktrack/internal/catalog"
	"github.com/dutchgtr/bricktrack/internal/model"
)

var catalogDataset string

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the set catalog",
}

var catalogLoadCmd = &cobra.Command{
	Use:   "load <file.csv>",
	Short: "Load catalog entries from a CSV file",
	Long:  "Upserts catalog entries from a CSV with set_number, name, and optional year columns. The load runs as a tracked catalog_refresh job.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[0])
		}
		defer f.Close()

		meta := &model.JobMetadata{CatalogRefresh: &model.CatalogRefreshMetadata{Source: args[0]}}
		j, err := env.Tracker.Start(ctx, model.StageCatalogRefresh, catalogDataset, meta)
		if err != nil {
			return err
		}

		result, err := catalog.NewLoader(env.Store).LoadCSV(ctx, f)
		if err != nil {
			env.Tracker.Fail(ctx, j.ID, err)
			return err
		}

		msg := fmt.Sprintf("loaded %d catalog entries (%d skipped)", result.Parsed, result.Skipped)
		final := model.JobStats{Found: result.Parsed, New: int(result.Upserted)}
		if err := env.Tracker.Complete(ctx, j.ID, msg, final); err != nil {
			return err
		}

		fmt.Println(msg)
		return nil
	},
}

func init() {
	catalogLoadCmd.Flags().StringVar(&catalogDataset, "dataset", "default", "dataset to record the refresh job under")
	catalogCmd.AddCommand(catalogLoadCmd)
	rootCmd.AddCommand(catalogCmd)
}
