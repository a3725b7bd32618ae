// Package localize finds where a concept appears inside one image by
// scoring crops against a CAV: a multi-zoom heatmap and a ranked list of
// candidate crops.
package localize

import (
	"context"
	"fmt"
	"image"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/cavstudio/internal/cache"
	"github.com/hyperjump/cavstudio/internal/cav"
	"github.com/hyperjump/cavstudio/internal/extractor"
	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/picture"
	"github.com/hyperjump/cavstudio/internal/workerpool"
	"github.com/hyperjump/cavstudio/pkg/utils"
)

// HeatmapZooms are the checkerboard zoom levels averaged into a heatmap.
var HeatmapZooms = []int{3, 4, 5, 6}

// DefaultImageCacheSize is the number of source images kept with their crops.
const DefaultImageCacheSize = 16

type cropSpec struct {
	center models.Point
	zoom   float64
}

// candidateCrops is the fixed search set of RankedCrops: the whole image,
// four overlapping 3/4 crops and a 3x3 grid of half-size crops.
var candidateCrops = []cropSpec{
	{models.Point{X: 1.0 / 2, Y: 1.0 / 2}, 1},

	{models.Point{X: 3.0 / 8, Y: 3.0 / 8}, 4.0 / 3},
	{models.Point{X: 5.0 / 8, Y: 3.0 / 8}, 4.0 / 3},
	{models.Point{X: 5.0 / 8, Y: 5.0 / 8}, 4.0 / 3},
	{models.Point{X: 3.0 / 8, Y: 5.0 / 8}, 4.0 / 3},

	{models.Point{X: 1.0 / 4, Y: 1.0 / 4}, 2},
	{models.Point{X: 2.0 / 4, Y: 1.0 / 4}, 2},
	{models.Point{X: 3.0 / 4, Y: 1.0 / 4}, 2},
	{models.Point{X: 1.0 / 4, Y: 2.0 / 4}, 2},
	{models.Point{X: 2.0 / 4, Y: 2.0 / 4}, 2},
	{models.Point{X: 3.0 / 4, Y: 2.0 / 4}, 2},
	{models.Point{X: 1.0 / 4, Y: 3.0 / 4}, 2},
	{models.Point{X: 2.0 / 4, Y: 3.0 / 4}, 2},
	{models.Point{X: 3.0 / 4, Y: 3.0 / 4}, 2},
}

// ScoredCrop is a crop with its score against a CAV.
type ScoredCrop struct {
	Crop  *Crop
	Score float32
}

// Localizer scores crops of source images. Source images opened through
// Open keep their crop caches across calls.
type Localizer struct {
	extractor     extractor.Extractor
	pool          *workerpool.Pool
	images        *cache.LRU[string, *Image]
	cropCacheSize int
	logger        *zap.Logger
}

// Option configures a Localizer.
type Option func(*Localizer)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(z *Localizer) { z.logger = l }
}

// WithCropCacheSize overrides DefaultCropCacheSize for images opened by the localizer.
func WithCropCacheSize(n int) Option {
	return func(z *Localizer) { z.cropCacheSize = n }
}

// WithImageCacheSize overrides DefaultImageCacheSize.
func WithImageCacheSize(n int) Option {
	return func(z *Localizer) { z.images = cache.New[string, *Image](n) }
}

// New creates a localizer. pool parallelizes crop resampling.
func New(ext extractor.Extractor, pool *workerpool.Pool, opts ...Option) *Localizer {
	z := &Localizer{
		extractor:     ext,
		pool:          pool,
		images:        cache.New[string, *Image](DefaultImageCacheSize),
		cropCacheSize: DefaultCropCacheSize,
	}
	for _, opt := range opts {
		opt(z)
	}
	z.logger = utils.OrNop(z.logger)
	return z
}

// Open loads the normalized image at path, reusing a cached instance.
func (z *Localizer) Open(path string) (*Image, error) {
	return z.images.GetOrCompute(path, func() (*Image, error) {
		img, err := picture.Open(path)
		if err != nil {
			return nil, err
		}
		return NewImage(img, z.cropCacheSize)
	})
}

// crops resamples the given specs of img in parallel, in spec order.
func (z *Localizer) crops(ctx context.Context, img *Image, specs []cropSpec) ([]*Crop, error) {
	return workerpool.Map(ctx, z.pool, specs, func(ctx context.Context, s cropSpec) (*Crop, error) {
		return img.Crop(s.center, s.zoom)
	})
}

// score fills in missing activations with one extractor batch and returns
// the cosine similarity of each crop with c.
func (z *Localizer) score(ctx context.Context, crops []*Crop, c *cav.CAV) ([]float32, error) {
	var pending []*Crop
	var pixels []picture.Pixels
	for _, cr := range crops {
		if _, ok := cr.Activation(c.Layer); !ok {
			pending = append(pending, cr)
			pixels = append(pixels, cr.Pixels())
		}
	}
	if len(pending) > 0 {
		if z.extractor == nil {
			return nil, fmt.Errorf("%w: no extractor configured", models.ErrExtractor)
		}
		acts, err := z.extractor.Extract(ctx, []models.LayerID{c.Layer}, pixels)
		if err != nil {
			return nil, err
		}
		for i, cr := range pending {
			cr.setActivation(c.Layer, acts[i][c.Layer])
		}
		z.logger.Debug("computed crop activations", zap.Int("crops", len(pending)), zap.String("layer", string(c.Layer)))
	}

	scores := make([]float32, len(crops))
	for i, cr := range crops {
		v, _ := cr.Activation(c.Layer)
		s, err := utils.CosineSimilarity(v, c.Vector)
		if err != nil {
			return nil, fmt.Errorf("%w: crop activation does not match CAV at layer %s: %v", models.ErrInvalidInput, c.Layer, err)
		}
		scores[i] = s
	}
	return scores, nil
}

// HeatmapField returns the per-pixel mean over HeatmapZooms of the scores
// of the checkerboard crops covering each pixel, rescaled so the CAV's
// mean score maps to 0 and its top-5 mean to 1.
func (z *Localizer) HeatmapField(ctx context.Context, img *Image, c *cav.CAV) ([]float32, error) {
	if c.Stats == nil {
		return nil, fmt.Errorf("%w: CAV %s has no score stats; heatmaps need them for scaling", models.ErrInvalidInput, c.ID)
	}
	span := c.Stats.Top5Mean - c.Stats.Mean
	if span == 0 {
		return nil, fmt.Errorf("%w: CAV %s has top-5 mean equal to its mean", models.ErrInvalidInput, c.ID)
	}

	var specs []cropSpec
	for _, zoom := range HeatmapZooms {
		for _, center := range CheckerboardCenters(zoom) {
			specs = append(specs, cropSpec{center: center, zoom: float64(zoom)})
		}
	}
	crops, err := z.crops(ctx, img, specs)
	if err != nil {
		return nil, err
	}
	scores, err := z.score(ctx, crops, c)
	if err != nil {
		return nil, err
	}

	w, h := img.Width(), img.Height()
	field := make([]float32, w*h)
	for i, cr := range crops {
		r := img.Bounds(cr.Center, cr.Zoom)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			row := field[y*w : (y+1)*w]
			for x := r.Min.X; x < r.Max.X; x++ {
				row[x] += scores[i]
			}
		}
	}
	n := float32(len(HeatmapZooms))
	mean := float32(c.Stats.Mean)
	for i := range field {
		field[i] = (field[i]/n - mean) / float32(span)
	}
	return field, nil
}

// Heatmap renders HeatmapField through the heatmap colormap.
func (z *Localizer) Heatmap(ctx context.Context, img *Image, c *cav.CAV) (*image.NRGBA, error) {
	field, err := z.HeatmapField(ctx, img, c)
	if err != nil {
		return nil, err
	}
	return Render(field, img.Width(), img.Height()), nil
}

// RankedCrops scores the fixed candidate crops and returns them by
// descending score; ties keep candidate order.
func (z *Localizer) RankedCrops(ctx context.Context, img *Image, c *cav.CAV) ([]ScoredCrop, error) {
	crops, err := z.crops(ctx, img, candidateCrops)
	if err != nil {
		return nil, err
	}
	scores, err := z.score(ctx, crops, c)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredCrop, len(crops))
	for i, idx := range order(scores) {
		out[i] = ScoredCrop{Crop: crops[idx], Score: scores[idx]}
	}
	return out, nil
}

// TopCrop returns the best of RankedCrops.
func (z *Localizer) TopCrop(ctx context.Context, img *Image, c *cav.CAV) (ScoredCrop, error) {
	ranked, err := z.RankedCrops(ctx, img, c)
	if err != nil {
		return ScoredCrop{}, err
	}
	return ranked[0], nil
}

// Inspection is a heatmap plus the top crop.
type Inspection struct {
	Heatmap *image.NRGBA
	TopCrop ScoredCrop
}

// Inspect renders the heatmap and finds the top crop of img.
func (z *Localizer) Inspect(ctx context.Context, img *Image, c *cav.CAV) (*Inspection, error) {
	heat, err := z.Heatmap(ctx, img, c)
	if err != nil {
		return nil, err
	}
	top, err := z.TopCrop(ctx, img, c)
	if err != nil {
		return nil, err
	}
	return &Inspection{Heatmap: heat, TopCrop: top}, nil
}

func errInvalidZoom(zoom float64) error {
	return fmt.Errorf("%w: zoom must be >= 1, got %v", models.ErrInvalidInput, zoom)
}

func order(scores []float32) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	return idx
}
