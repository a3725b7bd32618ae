package cav

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hyperjump/cavstudio/internal/models"
)

// TopCount is how many of the highest scores feed Top5Mean.
const TopCount = 5

// Stats summarizes a set of scores.
type Stats struct {
	Mean     float64 `json:"mean"`
	Stddev   float64 `json:"stddev"`
	Max      float64 `json:"max"`
	Min      float64 `json:"min"`
	Top5Mean float64 `json:"top_5_mean"`
}

// ComputeStats returns the mean, population standard deviation, extremes
// and the mean of the TopCount highest scores (all scores if fewer).
func ComputeStats(scores []float32) (Stats, error) {
	if len(scores) == 0 {
		return Stats{}, fmt.Errorf("%w: no scores to summarize", models.ErrInvalidInput)
	}
	x := make([]float64, len(scores))
	for i, s := range scores {
		x[i] = float64(s)
	}
	mean, std := stat.PopMeanStdDev(x, nil)

	sorted := append([]float64(nil), x...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	top := sorted
	if len(top) > TopCount {
		top = top[:TopCount]
	}

	return Stats{
		Mean:     mean,
		Stddev:   std,
		Max:      floats.Max(x),
		Min:      floats.Min(x),
		Top5Mean: stat.Mean(top, nil),
	}, nil
}
