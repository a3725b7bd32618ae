// Package trainer fits Concept Activation Vectors from labeled examples.
package trainer

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/cavstudio/internal/activation"
	"github.com/hyperjump/cavstudio/internal/cav"
	"github.com/hyperjump/cavstudio/internal/extractor"
	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/picture"
	"github.com/hyperjump/cavstudio/pkg/utils"
)

// Options are the classifier hyperparameters.
type Options struct {
	Alpha   float64
	MaxIter int
	Tol     float64
	// Seed makes training reproducible for a fixed sample order. Nil seeds
	// from the clock.
	Seed *int64
	// NormalizeInputs trains on unit-length activations instead of raw ones.
	NormalizeInputs bool
}

// DefaultOptions returns alpha 0.01, 1000 iterations and tolerance 1e-3.
func DefaultOptions() Options {
	return Options{Alpha: 0.01, MaxIter: 1000, Tol: 1e-3}
}

func (o Options) validate() error {
	if o.Alpha <= 0 || o.MaxIter <= 0 || o.Tol < 0 {
		return fmt.Errorf("%w: alpha and max_iter must be positive, tol non-negative", models.ErrInvalidInput)
	}
	return nil
}

// Sample is one labeled example. Exactly one of Vector or Pixels is set;
// pixels are run through the extractor.
type Sample struct {
	Vector []float32
	Pixels *picture.Pixels
	Weight float64
}

// Trainer resolves examples to activations and fits CAVs.
type Trainer struct {
	store     *activation.Store
	extractor extractor.Extractor
	opts      Options
	logger    *zap.Logger
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// WithOptions overrides DefaultOptions.
func WithOptions(o Options) Option {
	return func(t *Trainer) { t.opts = o }
}

// New creates a trainer. store resolves image references and ext resolves
// pixel samples; either may be nil when that kind of input is not used.
func New(store *activation.Store, ext extractor.Extractor, opts ...Option) *Trainer {
	t := &Trainer{store: store, extractor: ext, opts: DefaultOptions()}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = utils.OrNop(t.logger)
	return t
}

// Train fits a CAV on stored images. Activations missing from the store
// are computed first.
func (t *Trainer) Train(ctx context.Context, positives, negatives []models.TrainingImageRef, layer models.LayerID) (*cav.CAV, error) {
	if t.store == nil {
		return nil, fmt.Errorf("%w: trainer has no activation store", models.ErrInvalidInput)
	}
	if !layer.Valid() {
		return nil, fmt.Errorf("%w: unknown model layer %q", models.ErrInvalidInput, layer)
	}
	for _, r := range append(append([]models.TrainingImageRef(nil), positives...), negatives...) {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	pos, err := t.resolveRefs(ctx, positives, layer)
	if err != nil {
		return nil, err
	}
	neg, err := t.resolveRefs(ctx, negatives, layer)
	if err != nil {
		return nil, err
	}
	return t.TrainSamples(ctx, pos, neg, layer)
}

func (t *Trainer) resolveRefs(ctx context.Context, in []models.TrainingImageRef, layer models.LayerID) ([]Sample, error) {
	refs := models.Refs(in)
	if err := t.store.Ensure(ctx, refs, layer); err != nil {
		return nil, err
	}
	var vectors [][]float32
	var err error
	if t.opts.NormalizeInputs {
		vectors, err = t.store.GetMany(ctx, refs, layer)
	} else {
		vectors, err = t.store.GetRawMany(ctx, refs, layer)
	}
	if err != nil {
		return nil, err
	}
	out := make([]Sample, len(in))
	for i, r := range in {
		out[i] = Sample{Vector: vectors[i], Weight: r.Weight}
	}
	return out, nil
}

// TrainSamples fits a CAV on explicit samples. Positives are labeled -1
// and negatives +1; the fitted coefficient is negated so that the vector
// points toward the positive examples, then scaled to unit length.
func (t *Trainer) TrainSamples(ctx context.Context, positives, negatives []Sample, layer models.LayerID) (*cav.CAV, error) {
	if err := t.opts.validate(); err != nil {
		return nil, err
	}
	if !layer.Valid() {
		return nil, fmt.Errorf("%w: unknown model layer %q", models.ErrInvalidInput, layer)
	}
	if len(positives) == 0 || len(negatives) == 0 {
		return nil, fmt.Errorf("%w: training needs at least one positive and one negative example", models.ErrInvalidInput)
	}
	samples := append(append([]Sample(nil), positives...), negatives...)
	if err := t.resolvePixels(ctx, samples, layer); err != nil {
		return nil, err
	}

	x := make([][]float64, len(samples))
	y := make([]float64, len(samples))
	w := make([]float64, len(samples))
	for i, s := range samples {
		if !(s.Weight > 0) {
			return nil, fmt.Errorf("%w: sample %d has weight %v, must be > 0", models.ErrInvalidInput, i, s.Weight)
		}
		v := s.Vector
		if t.opts.NormalizeInputs {
			v = utils.Normalized(v)
		}
		x[i] = utils.ToFloat64(v)
		w[i] = s.Weight
		y[i] = 1
		if i < len(positives) {
			y[i] = -1
		}
	}

	seed := time.Now().UnixNano()
	if t.opts.Seed != nil {
		seed = *t.opts.Seed
	}
	clf, err := fit(x, y, w, t.opts, rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, err
	}
	t.logger.Debug("fitted classifier",
		zap.String("layer", string(layer)),
		zap.Int("positives", len(positives)),
		zap.Int("negatives", len(negatives)),
		zap.Int("epochs", clf.epochs))

	coef := clf.coef()
	vector := make([]float32, len(coef))
	for i, c := range coef {
		vector[i] = float32(-c)
	}
	if utils.Norm(vector) == 0 {
		return nil, fmt.Errorf("%w: classifier did not separate the examples", models.ErrInvalidInput)
	}
	utils.NormalizeL2(vector)
	return cav.New(vector, layer), nil
}

// resolvePixels replaces pixel samples with their activations in one
// extractor batch.
func (t *Trainer) resolvePixels(ctx context.Context, samples []Sample, layer models.LayerID) error {
	var idx []int
	var images []picture.Pixels
	for i, s := range samples {
		switch {
		case s.Vector != nil && s.Pixels != nil:
			return fmt.Errorf("%w: sample %d has both a vector and pixels", models.ErrInvalidInput, i)
		case s.Vector != nil:
		case s.Pixels != nil:
			idx = append(idx, i)
			images = append(images, *s.Pixels)
		default:
			return fmt.Errorf("%w: sample %d has neither a vector nor pixels", models.ErrInvalidInput, i)
		}
	}
	if len(images) == 0 {
		return nil
	}
	if t.extractor == nil {
		return fmt.Errorf("%w: no extractor configured", models.ErrExtractor)
	}
	acts, err := t.extractor.Extract(ctx, []models.LayerID{layer}, images)
	if err != nil {
		return err
	}
	for k, i := range idx {
		samples[i].Vector = acts[k][layer]
		samples[i].Pixels = nil
	}
	return nil
}
