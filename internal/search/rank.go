// Package search scores images against Concept Activation Vectors, ranks
// image sets and runs the train-rank-save flow behind generate_cav.
package search

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hyperjump/cavstudio/internal/cav"
	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/pkg/utils"
)

// RankedImage is one entry of a ranking.
type RankedImage struct {
	Image models.ImageRef `json:"image"`
	Score float32         `json:"score"`
	Rank  int             `json:"rank"`
}

// Ranking is the ordered head of a ranked set plus every score in set order.
type Ranking struct {
	Top []RankedImage
	// Scores holds the score of every image of the set, in set order.
	Scores []float32
}

// Refs returns the ranked images without scores.
func (r *Ranking) Refs() []models.ImageRef {
	out := make([]models.ImageRef, len(r.Top))
	for i, ri := range r.Top {
		out[i] = ri.Image
	}
	return out
}

// TopScores returns the scores of the ranked images.
func (r *Ranking) TopScores() []float32 {
	out := make([]float32, len(r.Top))
	for i, ri := range r.Top {
		out[i] = ri.Score
	}
	return out
}

// Stats summarizes all scores of the ranked set.
func (r *Ranking) Stats() (cav.Stats, error) {
	return cav.ComputeStats(r.Scores)
}

// Score returns the cosine similarity of an activation vector and c.
func Score(vector []float32, c *cav.CAV) (float32, error) {
	s, err := utils.CosineSimilarity(vector, c.Vector)
	return s, dimensionError(err, c)
}

// DotScores scores unit-length vectors by their dot product with the CAV,
// which equals cosine similarity when both sides are normalized.
func DotScores(vectors [][]float32, c *cav.CAV) ([]float32, error) {
	scores := make([]float32, len(vectors))
	for i, v := range vectors {
		s, err := utils.Dot(v, c.Vector)
		if err != nil {
			return nil, dimensionError(err, c)
		}
		scores[i] = s
	}
	return scores, nil
}

// Order returns the indices of scores sorted by descending score. Equal
// scores keep their input order.
func Order(scores []float32) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	return idx
}

// RankScores orders images by scores and keeps the first topN (all when topN <= 0).
func RankScores(images []models.ImageRef, scores []float32, topN int) *Ranking {
	order := Order(scores)
	if topN > 0 && len(order) > topN {
		order = order[:topN]
	}
	top := make([]RankedImage, len(order))
	for i, idx := range order {
		top[i] = RankedImage{Image: images[idx], Score: scores[idx], Rank: i + 1}
	}
	return &Ranking{Top: top, Scores: scores}
}

func dimensionError(err error, c *cav.CAV) error {
	if errors.Is(err, utils.ErrVectorLengthMismatch) {
		return fmt.Errorf("%w: activation length does not match CAV at layer %s: %v", models.ErrInvalidInput, c.Layer, err)
	}
	return err
}
