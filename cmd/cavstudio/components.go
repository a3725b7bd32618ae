package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/cavstudio/internal/activation"
	"github.com/hyperjump/cavstudio/internal/catalog"
	"github.com/hyperjump/cavstudio/internal/cav"
	"github.com/hyperjump/cavstudio/internal/config"
	"github.com/hyperjump/cavstudio/internal/extractor"
	"github.com/hyperjump/cavstudio/internal/imageset"
	"github.com/hyperjump/cavstudio/internal/localize"
	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/search"
	"github.com/hyperjump/cavstudio/internal/storage"
	"github.com/hyperjump/cavstudio/internal/trainer"
	"github.com/hyperjump/cavstudio/internal/workerpool"
)

// Components holds initialized services.
type Components struct {
	Pool        *workerpool.Pool
	Extractor   extractor.Extractor
	Activations *activation.Store
	Sets        *imageset.Manager
	Trainer     *trainer.Trainer
	CAVs        *cav.Repository
	Engine      *search.Engine
	Localizer   *localize.Localizer

	// Set by openDatabase.
	DB      storage.Storage
	Catalog *catalog.Index
}

// Close releases everything that was opened.
func (c *Components) Close() {
	if c.DB != nil {
		_ = c.DB.Close()
	}
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
	if c.Extractor != nil {
		_ = c.Extractor.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// newExtractor builds the ONNX extractor, or the mock when the config asks
// for it.
func newExtractor(cfg *config.Config, logger *zap.Logger) (extractor.Extractor, error) {
	if cfg.Models.UseMock {
		logger.Info("using mock feature extractor")
		return extractor.NewMockExtractor(), nil
	}
	ext, err := extractor.NewONNXExtractor(extractor.ONNXOptions{
		RuntimeLibrary: cfg.Models.RuntimeLibrary,
		Networks: map[models.Architecture]extractor.NetworkConfig{
			models.ArchGooglenet: networkConfig(cfg.Models.Googlenet),
			models.ArchMobilenet: networkConfig(cfg.Models.Mobilenet),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v (set models.use_mock to run without ONNX Runtime)", models.ErrExtractor, err)
	}
	return ext, nil
}

func networkConfig(n config.NetworkConfig) extractor.NetworkConfig {
	out := extractor.NetworkConfig{ModelPath: n.ModelPath, InputName: n.InputName}
	if len(n.OutputNames) > 0 {
		out.OutputNames = make(map[models.LayerID]string, len(n.OutputNames))
		for layer, name := range n.OutputNames {
			out.OutputNames[models.LayerID(layer)] = name
		}
	}
	return out
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	pool, err := workerpool.New(cfg.Activations.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	// Component debug output is only wired in debug mode.
	var debugLogger *zap.Logger
	if debug {
		debugLogger = logger
	}

	ext, err := newExtractor(cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	store := activation.NewStore(activation.Layout{
		StaticRoot: cfg.Storage.StaticContentRoot,
		UserRoot:   cfg.Storage.UserContentDir(),
	}, pool, ext,
		activation.WithCacheSize(cfg.Activations.CacheSize),
		activation.WithLogger(debugLogger))
	sets := imageset.NewManager(store, cfg.Storage.StaticContentRoot,
		imageset.WithCacheSize(cfg.Search.ImageSetCacheSize),
		imageset.WithLogger(debugLogger))

	opts := trainer.DefaultOptions()
	opts.Alpha = cfg.Trainer.Alpha
	opts.MaxIter = cfg.Trainer.MaxIter
	opts.Tol = cfg.Trainer.Tol
	opts.Seed = cfg.Trainer.Seed
	opts.NormalizeInputs = cfg.Trainer.NormalizeInputs
	tr := trainer.New(store, ext, trainer.WithOptions(opts), trainer.WithLogger(debugLogger))

	cavs := cav.NewRepository(cfg.Storage.CAVDir)
	engine := search.NewEngine(ext, sets, tr, cavs,
		search.WithTopN(cfg.Search.TopN),
		search.WithSummaryLength(cfg.Search.SummaryLength),
		search.WithLogger(debugLogger))
	loc := localize.New(ext, pool,
		localize.WithCropCacheSize(cfg.Localizer.CropCacheSize),
		localize.WithLogger(debugLogger))

	return &Components{
		Pool:        pool,
		Extractor:   ext,
		Activations: store,
		Sets:        sets,
		Trainer:     tr,
		CAVs:        cavs,
		Engine:      engine,
		Localizer:   loc,
	}, nil
}

// openDatabase opens the snapshot store with the catalog following it. A
// fresh catalog is seeded from the existing snapshots.
func (c *Components) openDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	idx, err := catalog.Open(cfg.Storage.CatalogIndexPath)
	if err != nil {
		return err
	}
	c.Catalog = idx
	db, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath, storage.WithObserver(idx))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.DB = db

	docs, err := idx.DocCount()
	if err != nil {
		return err
	}
	if docs == 0 {
		n, err := idx.Rebuild(ctx, db)
		if err != nil {
			return fmt.Errorf("failed to rebuild catalog: %w", err)
		}
		logger.Info("catalog rebuilt", zap.Int("snapshots", n))
	}
	return nil
}
