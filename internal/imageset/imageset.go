// Package imageset resolves named and ad-hoc collections of images and
// serves their normalized activations.
package imageset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/cavstudio/internal/activation"
	"github.com/hyperjump/cavstudio/internal/cache"
	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/pkg/utils"
)

// CustomName selects a caller-supplied set in Manager.Resolve.
const CustomName = "custom"

// DefaultCacheSize is the number of built-in sets kept loaded.
const DefaultCacheSize = 128

// Set is an ordered collection of images. Built-in sets keep their
// normalized activations per layer for their lifetime; custom sets read
// through the shared activation cache on every call.
type Set struct {
	Name    string
	Images  []models.ImageRef
	builtIn bool
	store   *activation.Store
	layers  *cache.LRU[models.LayerID, [][]float32]
}

// BuiltIn reports whether the set was loaded from a manifest.
func (s *Set) BuiltIn() bool {
	return s.builtIn
}

// Activations returns the normalized activation of every image at layer,
// in image order. Custom sets compute missing activations first.
func (s *Set) Activations(ctx context.Context, layer models.LayerID) ([][]float32, error) {
	if !layer.Valid() {
		return nil, fmt.Errorf("%w: unknown model layer %q", models.ErrInvalidInput, layer)
	}
	if !s.builtIn {
		if err := s.store.Ensure(ctx, s.Images, layer); err != nil {
			return nil, err
		}
		return s.store.GetMany(ctx, s.Images, layer)
	}
	return s.layers.GetOrCompute(layer, func() ([][]float32, error) {
		return s.store.ReadMany(ctx, s.Images, layer, true)
	})
}

type manifest struct {
	Images []models.ImageRef `json:"images"`
}

// MarshalJSON writes the set in manifest form.
func (s *Set) MarshalJSON() ([]byte, error) {
	images := s.Images
	if images == nil {
		images = []models.ImageRef{}
	}
	return json.Marshal(manifest{Images: images})
}

// Manager loads built-in sets from {root}/manifests/{name}.json and keeps
// the most recently used ones in memory.
type Manager struct {
	store  *activation.Store
	root   string
	sets   *cache.LRU[string, *Set]
	logger *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithCacheSize overrides DefaultCacheSize.
func WithCacheSize(n int) Option {
	return func(m *Manager) { m.sets = cache.New[string, *Set](n) }
}

// NewManager creates a manager reading manifests under staticRoot.
func NewManager(store *activation.Store, staticRoot string, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		root:  staticRoot,
		sets:  cache.New[string, *Set](DefaultCacheSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = utils.OrNop(m.logger)
	return m
}

// ManifestPath returns the manifest file of the named built-in set.
func (m *Manager) ManifestPath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: bad image set name %q", models.ErrInvalidInput, name)
	}
	return filepath.Join(m.root, "manifests", name+".json"), nil
}

// BuiltIn returns the named built-in set, loading its manifest on first use.
func (m *Manager) BuiltIn(name string) (*Set, error) {
	path, err := m.ManifestPath(name)
	if err != nil {
		return nil, err
	}
	return m.sets.GetOrCompute(name, func() (*Set, error) {
		images, err := readManifest(path)
		if err != nil {
			return nil, err
		}
		m.logger.Debug("loaded image set", zap.String("name", name), zap.Int("images", len(images)))
		return &Set{
			Name:    name,
			Images:  images,
			builtIn: true,
			store:   m.store,
			layers:  cache.New[models.LayerID, [][]float32](len(models.AllLayers())),
		}, nil
	})
}

// Custom wraps refs as a transient set.
func (m *Manager) Custom(refs []models.ImageRef) (*Set, error) {
	for _, r := range refs {
		if err := models.ValidateImageID(r.ID); err != nil {
			return nil, err
		}
	}
	return &Set{Name: CustomName, Images: refs, store: m.store}, nil
}

// Resolve returns the built-in set called name, or for CustomName a set of
// the given user-generated image ids.
func (m *Manager) Resolve(name string, ids []string) (*Set, error) {
	if name != CustomName {
		return m.BuiltIn(name)
	}
	refs := make([]models.ImageRef, len(ids))
	for i, id := range ids {
		refs[i] = models.ImageRef{ID: id, UserGenerated: true}
	}
	return m.Custom(refs)
}

func readManifest(path string) ([]models.ImageRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: image set %s", models.ErrNotFound, strings.TrimSuffix(filepath.Base(path), ".json"))
		}
		return nil, err
	}
	var mf manifest
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("%w: bad manifest %s: %v", models.ErrInvalidInput, filepath.Base(path), err)
	}
	for _, r := range mf.Images {
		if err := models.ValidateImageID(r.ID); err != nil {
			return nil, fmt.Errorf("manifest %s: %w", filepath.Base(path), err)
		}
	}
	return mf.Images, nil
}
