package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/cavstudio/internal/server"
	"github.com/hyperjump/cavstudio/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the inbox watcher",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, configPath, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	debug := cfg.Debug || debugFlag

	components, err := initializeComponents(cfg, logger, debug)
	if err != nil {
		return err
	}
	defer components.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := components.openDatabase(ctx, cfg, logger); err != nil {
		return err
	}

	deps := server.Deps{
		Engine:      components.Engine,
		Activations: components.Activations,
		Sets:        components.Sets,
		Localizer:   components.Localizer,
		DB:          components.DB,
		Catalog:     components.Catalog,
	}
	if len(cfg.Watch.Directories) > 0 {
		store := components.Activations
		inbox := watcher.New(cfg.Watch.Directories, cfg.Watch.Extensions,
			func(ctx context.Context, path string) error {
				_, err := store.IngestFile(ctx, path, true)
				return err
			},
			watcher.WithLogger(logger))
		if err := inbox.Start(ctx); err != nil {
			return err
		}
		defer inbox.Stop()
		go inbox.Sync(ctx)
		deps.Watch = inbox
	}

	srv := server.NewServer(deps, cfg, configPath, logger)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errc:
		return err
	}

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
	return nil
}
