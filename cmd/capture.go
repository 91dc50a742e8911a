package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dutchgtr/bricktrack/internal/model"
)

var (
	captureDataset     string
	captureKeywords    []string
	captureMarketplace string
	captureMaxPages    int
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture marketplace listings for a dataset",
	Long:  "Searches the marketplace for the given keywords and stages the results as raw listings. Capture is the only stage that takes external parameters, so it never runs automatically.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("capture"); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		j, err := env.Sequencer.TriggerCapture(ctx, captureDataset, &model.CaptureMetadata{
			Keywords:    captureKeywords,
			Marketplace: captureMarketplace,
			MaxPages:    captureMaxPages,
		})
		if err != nil {
			return describeRunError(err)
		}

		fmt.Printf("started capture job %s\n", j.ID)
		final, err := waitJob(ctx, env.Tracker, j.ID)
		if err != nil {
			return err
		}
		printJob(final)
		if final.Status == model.JobStatusFailed {
			return eris.Errorf("capture failed: %s", final.ErrorMessage)
		}
		return nil
	},
}

func init() {
	captureCmd.Flags().StringVar(&captureDataset, "dataset", "default", "dataset to capture into")
	captureCmd.Flags().StringSliceVar(&captureKeywords, "keywords", nil, "search keywords (required)")
	captureCmd.Flags().StringVar(&captureMarketplace, "marketplace", "default", "marketplace identifier")
	captureCmd.Flags().IntVar(&captureMaxPages, "max-pages", 0, "page limit per keyword (default from config)")
	captureCmd.MarkFlagRequired("keywords")
	rootCmd.AddCommand(captureCmd)
}
