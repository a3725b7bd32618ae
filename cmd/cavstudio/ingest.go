package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/cavstudio/internal/models"
)

var ingestBuiltIn bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Store images and compute their activations",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var precalcSet string

var precalcCmd = &cobra.Command{
	Use:   "precalc [id...]",
	Short: "Compute missing activations for a built-in set or for the given images",
	RunE:  runPrecalc,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestBuiltIn, "builtin", false, "store as built-in content instead of user-generated")
	precalcCmd.Flags().StringVar(&precalcSet, "set", "", "built-in image set name")
	rootCmd.AddCommand(ingestCmd, precalcCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
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

	failed := 0
	for _, path := range args {
		ref, err := components.Activations.IngestFile(cmd.Context(), path, !ingestBuiltIn)
		if err != nil {
			failed++
			logger.Warn("ingest failed", zap.String("path", path), zap.Error(err))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ref.ID, path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed to ingest", failed, len(args))
	}
	return nil
}

func runPrecalc(cmd *cobra.Command, args []string) error {
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

	var refs []models.ImageRef
	if precalcSet != "" {
		set, err := components.Sets.BuiltIn(precalcSet)
		if err != nil {
			return err
		}
		refs = set.Images
	}
	for _, a := range args {
		ref, err := parseImageRef(a)
		if err != nil {
			return err
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return fmt.Errorf("%w: give --set or image ids", models.ErrInvalidInput)
	}

	need := components.Activations.NeedActivations(refs)
	logger.Info("precalculating activations", zap.Int("images", len(refs)), zap.Int("missing", len(need)))
	if err := components.Activations.Precalculate(cmd.Context(), need); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "computed activations for %d of %d images\n", len(need), len(refs))
	return nil
}
