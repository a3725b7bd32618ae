package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyperjump/cavstudio/internal/imageset"
	"github.com/hyperjump/cavstudio/internal/report"
)

var (
	rankCAV    string
	rankSet    string
	rankIDs    []string
	rankTop    int
	rankOutput string
	rankOut    string
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank an image set with a saved CAV",
	RunE:  runRank,
}

func init() {
	rankCmd.Flags().StringVar(&rankCAV, "cav", "", "CAV id (required)")
	rankCmd.Flags().StringVar(&rankSet, "set", "", `built-in image set name, or "custom" with --ids`)
	rankCmd.Flags().StringSliceVar(&rankIDs, "ids", nil, "user-generated image ids of a custom set")
	rankCmd.Flags().IntVar(&rankTop, "top", 0, "number of results (default from config)")
	rankCmd.Flags().StringVarP(&rankOutput, "output", "o", "text", "output format: text, json or xlsx")
	rankCmd.Flags().StringVar(&rankOut, "out", "", "write to this file instead of stdout")
	_ = rankCmd.MarkFlagRequired("cav")
	_ = rankCmd.MarkFlagRequired("set")
	rootCmd.AddCommand(rankCmd)
}

func runRank(cmd *cobra.Command, _ []string) error {
	format, err := report.ParseFormat(rankOutput)
	if err != nil {
		return err
	}
	if rankSet != imageset.CustomName && len(rankIDs) > 0 {
		return fmt.Errorf("--ids needs --set %s", imageset.CustomName)
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

	c, err := components.Engine.LoadCAV(rankCAV)
	if err != nil {
		return err
	}
	set, err := components.Engine.ResolveSet(rankSet, rankIDs)
	if err != nil {
		return err
	}
	top := rankTop
	if top <= 0 {
		top = cfg.Search.TopN
	}
	ranking, err := components.Engine.RankN(cmd.Context(), set, c, top)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if rankOut != "" {
		f, err := os.Create(rankOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return report.Write(w, report.FromRanking(c, set.Name, ranking, cfg.Search.SummaryLength), format)
}
