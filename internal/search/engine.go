package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/cavstudio/internal/cav"
	"github.com/hyperjump/cavstudio/internal/extractor"
	"github.com/hyperjump/cavstudio/internal/imageset"
	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/picture"
	"github.com/hyperjump/cavstudio/internal/trainer"
	"github.com/hyperjump/cavstudio/pkg/utils"
)

// Defaults for Engine.
const (
	DefaultTopN          = 100
	DefaultSummaryLength = 500
)

// Engine ranks image sets and generates CAVs.
type Engine struct {
	extractor     extractor.Extractor
	sets          *imageset.Manager
	trainer       *trainer.Trainer
	cavs          *cav.Repository
	topN          int
	summaryLength int
	logger        *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTopN sets how many images a ranking returns.
func WithTopN(n int) Option {
	return func(e *Engine) { e.topN = n }
}

// WithSummaryLength sets the length of the summary string in GenerateResult.
func WithSummaryLength(n int) Option {
	return func(e *Engine) { e.summaryLength = n }
}

// NewEngine creates an engine with the given dependencies.
func NewEngine(
	ext extractor.Extractor,
	sets *imageset.Manager,
	tr *trainer.Trainer,
	cavs *cav.Repository,
	opts ...Option,
) *Engine {
	e := &Engine{
		extractor:     ext,
		sets:          sets,
		trainer:       tr,
		cavs:          cavs,
		topN:          DefaultTopN,
		summaryLength: DefaultSummaryLength,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// ScoreImage extracts the activation of pixels at the CAV's layer and scores it.
func (e *Engine) ScoreImage(ctx context.Context, pixels picture.Pixels, c *cav.CAV) (float32, error) {
	if e.extractor == nil {
		return 0, fmt.Errorf("%w: no extractor configured", models.ErrExtractor)
	}
	acts, err := e.extractor.Extract(ctx, []models.LayerID{c.Layer}, []picture.Pixels{pixels})
	if err != nil {
		return 0, err
	}
	return Score(acts[0][c.Layer], c)
}

// Rank scores every image of set against c and returns the top N.
func (e *Engine) Rank(ctx context.Context, set *imageset.Set, c *cav.CAV) (*Ranking, error) {
	return e.RankN(ctx, set, c, e.topN)
}

// RankN is Rank with an explicit result size; topN <= 0 returns every image.
func (e *Engine) RankN(ctx context.Context, set *imageset.Set, c *cav.CAV, topN int) (*Ranking, error) {
	vectors, err := set.Activations(ctx, c.Layer)
	if err != nil {
		return nil, err
	}
	scores, err := DotScores(vectors, c)
	if err != nil {
		return nil, err
	}
	return RankScores(set.Images, scores, topN), nil
}

// LoadCAV reads a saved CAV by id.
func (e *Engine) LoadCAV(id string) (*cav.CAV, error) {
	return e.cavs.Load(id)
}

// ResolveSet returns the named built-in set or, for imageset.CustomName,
// a set of the given user-generated ids.
func (e *Engine) ResolveSet(name string, customIDs []string) (*imageset.Set, error) {
	return e.sets.Resolve(name, customIDs)
}

// GenerateRequest describes a concept and the set to search for it.
type GenerateRequest struct {
	Positive  []models.TrainingImageRef `json:"positive_images"`
	Negative  []models.TrainingImageRef `json:"negative_images"`
	Layer     models.LayerID            `json:"model_layer"`
	SearchSet string                    `json:"search_set"`
	CustomIDs []string                  `json:"-"`
}

// GenerateResult is the outcome of GenerateCAV.
type GenerateResult struct {
	Images     []models.ImageRef `json:"result_images"`
	Scores     []float32         `json:"result_scores"`
	CAVString  string            `json:"cav_string"`
	CAVID      string            `json:"cav_id"`
	ScoreStats cav.Stats         `json:"cav_score_stats"`
	CAV        *cav.CAV          `json:"-"`
}

// GenerateCAV trains a CAV, ranks the search set with it, attaches the
// statistics of all scores and saves it.
func (e *Engine) GenerateCAV(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	set, err := e.ResolveSet(req.SearchSet, req.CustomIDs)
	if err != nil {
		return nil, err
	}
	c, err := e.trainer.Train(ctx, req.Positive, req.Negative, req.Layer)
	if err != nil {
		return nil, err
	}
	ranking, err := e.Rank(ctx, set, c)
	if err != nil {
		return nil, err
	}
	stats, err := ranking.Stats()
	if err != nil {
		return nil, err
	}
	c.Stats = &stats
	if err := e.cavs.Save(c); err != nil {
		return nil, fmt.Errorf("failed to save CAV: %w", err)
	}
	e.logger.Debug("generated CAV",
		zap.String("id", c.ID.String()),
		zap.String("layer", string(c.Layer)),
		zap.String("search_set", set.Name),
		zap.Int("set_size", len(set.Images)))

	return &GenerateResult{
		Images:     ranking.Refs(),
		Scores:     ranking.TopScores(),
		CAVString:  c.Summary(e.summaryLength),
		CAVID:      c.ID.String(),
		ScoreStats: stats,
		CAV:        c,
	}, nil
}
