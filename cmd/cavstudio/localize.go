package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyperjump/cavstudio/internal/cav"
	"github.com/hyperjump/cavstudio/internal/localize"
	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/picture"
)

var (
	locCAV    string
	locImage  string
	locOut    string
	locOutput string
)

var heatmapCmd = &cobra.Command{
	Use:   "heatmap",
	Short: "Render where a CAV's concept appears in an image",
	RunE:  runHeatmap,
}

var cropsCmd = &cobra.Command{
	Use:   "crops",
	Short: "Score the standard crops of an image against a CAV",
	RunE:  runCrops,
}

func init() {
	for _, c := range []*cobra.Command{heatmapCmd, cropsCmd} {
		c.Flags().StringVar(&locCAV, "cav", "", "CAV id (required)")
		c.Flags().StringVar(&locImage, "image", "", `image id, "user:" prefix for user-generated (required)`)
		_ = c.MarkFlagRequired("cav")
		_ = c.MarkFlagRequired("image")
	}
	heatmapCmd.Flags().StringVar(&locOut, "out", "heatmap.png", "PNG file to write")
	cropsCmd.Flags().StringVarP(&locOutput, "output", "o", "text", "output format: text or json")
	rootCmd.AddCommand(heatmapCmd, cropsCmd)
}

// openTarget loads the CAV and the stored 224x224 image named by the flags.
func openTarget(components *Components) (*localize.Image, *cav.CAV, error) {
	ref, err := parseImageRef(locImage)
	if err != nil {
		return nil, nil, err
	}
	path, err := components.Activations.Layout().Image224Path(ref)
	if err != nil {
		return nil, nil, err
	}
	c, err := components.Engine.LoadCAV(locCAV)
	if err != nil {
		return nil, nil, err
	}
	img, err := components.Localizer.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return img, c, nil
}

func runHeatmap(cmd *cobra.Command, _ []string) error {
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

	img, c, err := openTarget(components)
	if err != nil {
		return err
	}
	heat, err := components.Localizer.Heatmap(cmd.Context(), img, c)
	if err != nil {
		return err
	}
	f, err := os.Create(locOut)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := picture.EncodePNG(f, heat); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", locOut)
	return nil
}

type cropResult struct {
	Crop  models.Rect `json:"crop"`
	Zoom  float64     `json:"zoom"`
	Score float32     `json:"score"`
}

func runCrops(cmd *cobra.Command, _ []string) error {
	if locOutput != "text" && locOutput != "json" {
		return fmt.Errorf("%w: unknown output format %q", models.ErrInvalidInput, locOutput)
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

	img, c, err := openTarget(components)
	if err != nil {
		return err
	}
	ranked, err := components.Localizer.RankedCrops(cmd.Context(), img, c)
	if err != nil {
		return err
	}
	results := make([]cropResult, len(ranked))
	for i, sc := range ranked {
		results[i] = cropResult{Crop: sc.Crop.Spec(), Zoom: sc.Crop.Zoom, Score: sc.Score}
	}

	out := cmd.OutOrStdout()
	if locOutput == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for i, r := range results {
		fmt.Fprintf(out, "%2d  %.4f  zoom %.2f  x=%.3f y=%.3f w=%.3f h=%.3f\n",
			i+1, r.Score, r.Zoom, r.Crop.X, r.Crop.Y, r.Crop.Width, r.Crop.Height)
	}
	return nil
}
