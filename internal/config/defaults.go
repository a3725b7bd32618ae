package config

import (
	"path/filepath"
	"time"
)

const defaultRoot = "/usr/local/var/cavstudio"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 120 * time.Second
	}
	if cfg.Storage.StaticContentRoot == "" {
		cfg.Storage.StaticContentRoot = filepath.Join(defaultRoot, "static", "cav-content")
	}
	if cfg.Storage.MediaRoot == "" {
		cfg.Storage.MediaRoot = filepath.Join(defaultRoot, "media")
	}
	if cfg.Storage.CAVDir == "" {
		cfg.Storage.CAVDir = filepath.Join(cfg.Storage.MediaRoot, "cavs")
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(defaultRoot, "db", "cavstudio.db")
	}
	if cfg.Storage.CatalogIndexPath == "" {
		cfg.Storage.CatalogIndexPath = filepath.Join(defaultRoot, "indices", "catalog")
	}
	if cfg.Models.Googlenet.ModelPath == "" {
		cfg.Models.Googlenet.ModelPath = filepath.Join(defaultRoot, "models", "google_net_inception_v1.onnx")
	}
	if cfg.Models.Googlenet.InputName == "" {
		cfg.Models.Googlenet.InputName = "input"
	}
	if cfg.Models.Mobilenet.ModelPath == "" {
		cfg.Models.Mobilenet.ModelPath = filepath.Join(defaultRoot, "models", "mobilenet_v1_1.0_224.onnx")
	}
	if cfg.Models.Mobilenet.InputName == "" {
		cfg.Models.Mobilenet.InputName = "input"
	}
	if cfg.Activations.CacheSize == 0 {
		cfg.Activations.CacheSize = 8000
	}
	if cfg.Activations.Workers == 0 {
		cfg.Activations.Workers = 12
	}
	if cfg.Localizer.CropCacheSize == 0 {
		cfg.Localizer.CropCacheSize = 128
	}
	if cfg.Search.TopN == 0 {
		cfg.Search.TopN = 100
	}
	if cfg.Search.ImageSetCacheSize == 0 {
		cfg.Search.ImageSetCacheSize = 128
	}
	if cfg.Search.SummaryLength == 0 {
		cfg.Search.SummaryLength = 500
	}
	if cfg.Trainer.Alpha == 0 {
		cfg.Trainer.Alpha = 0.01
	}
	if cfg.Trainer.MaxIter == 0 {
		cfg.Trainer.MaxIter = 1000
	}
	if cfg.Trainer.Tol == 0 {
		cfg.Trainer.Tol = 1e-3
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".png", ".jpg", ".jpeg", ".webp", ".gif"}
	}
}
