// Package activation persists activation vectors per (image, layer) and
// serves them normalized from a bounded in-process cache.
package activation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/hyperjump/cavstudio/internal/cache"
	"github.com/hyperjump/cavstudio/internal/extractor"
	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/picture"
	"github.com/hyperjump/cavstudio/internal/workerpool"
	"github.com/hyperjump/cavstudio/pkg/utils"
)

// DefaultCacheSize is the number of normalized vectors kept in memory.
const DefaultCacheSize = 8000

// Store reads and writes activation files. The normalized cache is keyed by
// file path and never invalidated: a file's content is fixed once written.
type Store struct {
	layout    Layout
	pool      *workerpool.Pool
	extractor extractor.Extractor
	cache     *cache.LRU[string, []float32]
	logger    *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithCacheSize overrides DefaultCacheSize.
func WithCacheSize(n int) Option {
	return func(s *Store) { s.cache = cache.New[string, []float32](n) }
}

// NewStore creates a store. ext is used to compute missing activations; it
// may be nil for read-only use.
func NewStore(layout Layout, pool *workerpool.Pool, ext extractor.Extractor, opts ...Option) *Store {
	s := &Store{
		layout:    layout,
		pool:      pool,
		extractor: ext,
		cache:     cache.New[string, []float32](DefaultCacheSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	return s
}

// Layout returns the file layout.
func (s *Store) Layout() Layout {
	return s.layout
}

// Get returns the normalized activation of ref at layer.
func (s *Store) Get(ctx context.Context, ref models.ImageRef, layer models.LayerID) ([]float32, error) {
	path, err := s.layout.ActivationPath(ref, layer)
	if err != nil {
		return nil, err
	}
	return s.cache.GetOrCompute(path, func() ([]float32, error) {
		v, err := ReadVector(path)
		if err != nil {
			return nil, err
		}
		utils.NormalizeL2(v)
		return v, nil
	})
}

// GetRaw returns the activation of ref at layer as stored.
func (s *Store) GetRaw(ctx context.Context, ref models.ImageRef, layer models.LayerID) ([]float32, error) {
	path, err := s.layout.ActivationPath(ref, layer)
	if err != nil {
		return nil, err
	}
	return ReadVector(path)
}

// GetMany returns normalized activations for refs in input order, reading
// cold entries concurrently. Any failure fails the whole batch.
func (s *Store) GetMany(ctx context.Context, refs []models.ImageRef, layer models.LayerID) ([][]float32, error) {
	return workerpool.Map(ctx, s.pool, refs, func(ctx context.Context, ref models.ImageRef) ([]float32, error) {
		return s.Get(ctx, ref, layer)
	})
}

// GetRawMany returns raw activations for refs in input order.
func (s *Store) GetRawMany(ctx context.Context, refs []models.ImageRef, layer models.LayerID) ([][]float32, error) {
	return workerpool.Map(ctx, s.pool, refs, func(ctx context.Context, ref models.ImageRef) ([]float32, error) {
		return s.GetRaw(ctx, ref, layer)
	})
}

// ReadMany loads activations for refs without touching the cache. Callers
// that keep their own copy (built-in image sets) use it to avoid evicting
// the shared cache.
func (s *Store) ReadMany(ctx context.Context, refs []models.ImageRef, layer models.LayerID, normalize bool) ([][]float32, error) {
	return workerpool.Map(ctx, s.pool, refs, func(ctx context.Context, ref models.ImageRef) ([]float32, error) {
		v, err := s.GetRaw(ctx, ref, layer)
		if err != nil {
			return nil, err
		}
		if normalize {
			utils.NormalizeL2(v)
		}
		return v, nil
	})
}

// Put stores the raw activation of ref at layer.
func (s *Store) Put(ref models.ImageRef, layer models.LayerID, v []float32) error {
	path, err := s.layout.ActivationPath(ref, layer)
	if err != nil {
		return err
	}
	return WriteVector(path, v)
}

// Has reports whether the activation file of ref at layer exists.
func (s *Store) Has(ref models.ImageRef, layer models.LayerID) bool {
	path, err := s.layout.ActivationPath(ref, layer)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// MissingLayers returns the layers of ref with no activation file.
func (s *Store) MissingLayers(ref models.ImageRef) []models.LayerID {
	var missing []models.LayerID
	for _, layer := range models.AllLayers() {
		if !s.Has(ref, layer) {
			missing = append(missing, layer)
		}
	}
	return missing
}

// NeedActivations returns the refs, deduplicated by id, missing any layer.
func (s *Store) NeedActivations(refs []models.ImageRef) []models.ImageRef {
	seen := make(map[string]int)
	var unique []models.ImageRef
	for _, ref := range refs {
		if i, ok := seen[ref.ID]; ok {
			unique[i] = ref
			continue
		}
		seen[ref.ID] = len(unique)
		unique = append(unique, ref)
	}
	var out []models.ImageRef
	for _, ref := range unique {
		if len(s.MissingLayers(ref)) > 0 {
			out = append(out, ref)
		}
	}
	return out
}

// Precalculate computes and stores the missing activations of refs from
// their stored 224x224 images.
func (s *Store) Precalculate(ctx context.Context, refs []models.ImageRef) error {
	todo := s.NeedActivations(refs)
	s.logger.Debug("precalculating activations", zap.Int("requested", len(refs)), zap.Int("missing", len(todo)))
	for _, ref := range todo {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := s.layout.Image224Path(ref)
		if err != nil {
			return err
		}
		img, err := picture.Open(path)
		if err != nil {
			return err
		}
		if err := picture.CheckNormalized(img); err != nil {
			return fmt.Errorf("%s: %w", ref.ID, err)
		}
		if err := s.computeMissing(ctx, ref, picture.FromImage(img)); err != nil {
			return err
		}
	}
	return nil
}

// Ensure makes sure every ref has an activation at layer, computing it from
// the stored image when absent.
func (s *Store) Ensure(ctx context.Context, refs []models.ImageRef, layer models.LayerID) error {
	var missing []models.ImageRef
	for _, ref := range refs {
		if !s.Has(ref, layer) {
			missing = append(missing, ref)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return s.Precalculate(ctx, missing)
}

func (s *Store) computeMissing(ctx context.Context, ref models.ImageRef, pixels picture.Pixels) error {
	layers := s.MissingLayers(ref)
	if len(layers) == 0 {
		return nil
	}
	if s.extractor == nil {
		return fmt.Errorf("%w: no extractor configured", models.ErrExtractor)
	}
	out, err := s.extractor.Extract(ctx, layers, []picture.Pixels{pixels})
	if err != nil {
		return err
	}
	for _, layer := range layers {
		if err := s.Put(ref, layer, out[0][layer]); err != nil {
			return fmt.Errorf("failed to store %s activation of %s: %w", layer, ref.ID, err)
		}
	}
	s.logger.Debug("stored activations", zap.String("id", ref.ID), zap.Int("layers", len(layers)))
	return nil
}

// IsNotFound reports whether err is a not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
