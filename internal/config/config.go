// Package config provides configuration loading and structs for the cavstudio server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Models      ModelsConfig      `yaml:"models"`
	Activations ActivationsConfig `yaml:"activations"`
	Localizer   LocalizerConfig   `yaml:"localizer"`
	Search      SearchConfig      `yaml:"search"`
	Trainer     TrainerConfig     `yaml:"trainer"`
	Watch       WatchConfig       `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds the on-disk layout.
type StorageConfig struct {
	// StaticContentRoot holds built-in images, their activations and manifests/.
	StaticContentRoot string `yaml:"static_content_root"`
	// MediaRoot holds user data: cav-content/ for uploads and cavs/ by default.
	MediaRoot        string `yaml:"media_root"`
	CAVDir           string `yaml:"cav_dir"`
	DatabasePath     string `yaml:"database_path"`
	CatalogIndexPath string `yaml:"catalog_index_path"`
}

// UserContentDir is where user-generated images and activations are stored.
func (s StorageConfig) UserContentDir() string {
	return filepath.Join(s.MediaRoot, "cav-content")
}

// ContentDir returns the directory for images of the given provenance.
func (s StorageConfig) ContentDir(userGenerated bool) string {
	if userGenerated {
		return s.UserContentDir()
	}
	return s.StaticContentRoot
}

// ModelsConfig configures the ONNX networks.
type ModelsConfig struct {
	// RuntimeLibrary is the onnxruntime shared library; empty uses the platform default.
	RuntimeLibrary string        `yaml:"runtime_library"`
	Googlenet      NetworkConfig `yaml:"googlenet"`
	Mobilenet      NetworkConfig `yaml:"mobilenet"`
	// UseMock selects the deterministic extractor instead of ONNX Runtime.
	UseMock bool `yaml:"use_mock"`
}

// NetworkConfig locates one network and names its tensors.
type NetworkConfig struct {
	ModelPath string `yaml:"model_path"`
	InputName string `yaml:"input_name"`
	// OutputNames maps layer ids to graph output names; unset layers use the layer table node.
	OutputNames map[string]string `yaml:"output_names"`
}

// ActivationsConfig holds Activation Store settings.
type ActivationsConfig struct {
	CacheSize int `yaml:"cache_size"`
	Workers   int `yaml:"workers"`
}

// LocalizerConfig holds Spatial Localizer settings.
type LocalizerConfig struct {
	CropCacheSize int `yaml:"crop_cache_size"`
}

// SearchConfig holds ranking settings.
type SearchConfig struct {
	TopN              int `yaml:"top_n"`
	ImageSetCacheSize int `yaml:"image_set_cache_size"`
	SummaryLength     int `yaml:"summary_length"`
}

// TrainerConfig holds the SGD classifier hyperparameters.
type TrainerConfig struct {
	Alpha           float64 `yaml:"alpha"`
	MaxIter         int     `yaml:"max_iter"`
	Tol             float64 `yaml:"tol"`
	Seed            *int64  `yaml:"seed"`
	NormalizeInputs bool    `yaml:"normalize_inputs"`
}

// WatchConfig holds inbox watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cavDirSet := cfg.Storage.CAVDir != ""
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.StaticContentRoot = expandPath(cfg.Storage.StaticContentRoot, configDir)
	cfg.Storage.MediaRoot = expandPath(cfg.Storage.MediaRoot, configDir)
	if cavDirSet {
		cfg.Storage.CAVDir = expandPath(cfg.Storage.CAVDir, configDir)
	} else {
		cfg.Storage.CAVDir = filepath.Join(cfg.Storage.MediaRoot, "cavs")
	}
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.CatalogIndexPath = expandPath(cfg.Storage.CatalogIndexPath, configDir)
	cfg.Models.Googlenet.ModelPath = expandPath(cfg.Models.Googlenet.ModelPath, configDir)
	cfg.Models.Mobilenet.ModelPath = expandPath(cfg.Models.Mobilenet.ModelPath, configDir)
	if cfg.Models.RuntimeLibrary != "" {
		cfg.Models.RuntimeLibrary = expandPath(cfg.Models.RuntimeLibrary, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
