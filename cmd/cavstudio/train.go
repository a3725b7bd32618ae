package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/cavstudio/internal/models"
)

var (
	trainPositives []string
	trainNegatives []string
	trainLayer     string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a CAV from positive and negative images and save it",
	Long: `Train a CAV from positive and negative images and save it.

Images are given by id; prefix "user:" for user-generated images and add
"@weight" to change a sample's weight (default 1), e.g. user:3f2a...@2.`,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().StringArrayVarP(&trainPositives, "positive", "p", nil, "positive image (repeatable)")
	trainCmd.Flags().StringArrayVarP(&trainNegatives, "negative", "n", nil, "negative image (repeatable)")
	trainCmd.Flags().StringVarP(&trainLayer, "layer", "l", string(models.LayerMobilenet12d), "model layer")
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, _ []string) error {
	layer, err := models.ParseLayerID(trainLayer)
	if err != nil {
		return err
	}
	positives, err := parseTrainingRefs(trainPositives)
	if err != nil {
		return err
	}
	negatives, err := parseTrainingRefs(trainNegatives)
	if err != nil {
		return err
	}

	cfg, _, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	components, err := initializeComponents(cfg, logger, cfg.Debug || debugFlag)
	if err != nil {
		return err
	}
	defer components.Close()

	c, err := components.Trainer.Train(cmd.Context(), positives, negatives, layer)
	if err != nil {
		return err
	}
	if err := components.CAVs.Save(c); err != nil {
		return fmt.Errorf("failed to save CAV: %w", err)
	}
	logger.Info("trained CAV", zap.String("id", c.ID.String()), zap.String("layer", string(layer)),
		zap.Int("positives", len(positives)), zap.Int("negatives", len(negatives)))
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", c.ID, c.Summary(cfg.Search.SummaryLength))
	return nil
}
