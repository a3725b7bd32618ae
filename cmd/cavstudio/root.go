package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/cavstudio/internal/config"
	"github.com/hyperjump/cavstudio/pkg/utils"
)

var (
	configFlag string
	debugFlag  bool
)

var rootCmd = &cobra.Command{
	Use:          "cavstudio",
	Short:        "cavstudio trains Concept Activation Vectors and searches images with them",
	SilenceUsage: true,
	Long: `cavstudio learns visual concepts from example images, ranks image sets
by how strongly they show a concept, and localizes the concept inside an
image with heatmaps and crops.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default ./config.yaml, then ~/.config/cavstudio/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configCandidates lists the files tried, in order, when --config is not set.
func configCandidates() []string {
	out := []string{"config.yaml"}
	if cwd, err := os.Getwd(); err == nil {
		out[0] = filepath.Join(cwd, "config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".config", "cavstudio", "config.yaml"))
	}
	return out
}

// loadConfig loads the explicit config file, or the first candidate that
// exists. With no file at all the defaults are used and the path is empty.
func loadConfig(explicit string, candidates []string) (*config.Config, string, error) {
	if explicit != "" {
		cfg, err := config.Load(explicit)
		return cfg, explicit, err
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, "", err
		}
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg, "", nil
}

// setup loads the config and builds the logger shared by every command.
func setup() (*config.Config, string, *zap.Logger, error) {
	cfg, path, err := loadConfig(configFlag, configCandidates())
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || debugFlag)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", path))
	return cfg, path, logger, nil
}
