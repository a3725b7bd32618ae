// Package server provides the HTTP API for cavstudio.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/cavstudio/internal/activation"
	"github.com/hyperjump/cavstudio/internal/catalog"
	"github.com/hyperjump/cavstudio/internal/config"
	"github.com/hyperjump/cavstudio/internal/imageset"
	"github.com/hyperjump/cavstudio/internal/localize"
	"github.com/hyperjump/cavstudio/internal/search"
	"github.com/hyperjump/cavstudio/internal/storage"
	"github.com/hyperjump/cavstudio/pkg/utils"
)

// WatchService is the inbox watcher as seen by the API. Implemented by
// *watcher.Inbox.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Deps are the components behind the API. Catalog and Watch may be nil;
// their endpoints then answer 501.
type Deps struct {
	Engine      *search.Engine
	Activations *activation.Store
	Sets        *imageset.Manager
	Localizer   *localize.Localizer
	DB          storage.Storage
	Catalog     *catalog.Index
	Watch       WatchService
}

// Server is the HTTP server for the cavstudio API.
type Server struct {
	engine      *search.Engine
	activations *activation.Store
	sets        *imageset.Manager
	localizer   *localize.Localizer
	db          storage.Storage
	catalog     *catalog.Index
	watch       WatchService

	config     *config.Config
	configPath string // when set, watch directory changes are persisted here
	configMu   sync.Mutex
	logger     *zap.Logger
	server     *http.Server
}

// NewServer creates a server. configPath may be empty.
func NewServer(deps Deps, cfg *config.Config, configPath string, logger *zap.Logger) *Server {
	return &Server{
		engine:      deps.Engine,
		activations: deps.Activations,
		sets:        deps.Sets,
		localizer:   deps.Localizer,
		db:          deps.DB,
		catalog:     deps.Catalog,
		watch:       deps.Watch,
		config:      cfg,
		configPath:  configPath,
		logger:      utils.OrNop(logger),
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	timeout := 120 * time.Second
	if s.config != nil && s.config.Server.RequestTimeout > 0 {
		timeout = s.config.Server.RequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping_cav_server", s.handlePing)
		r.Post("/upload_image", s.handleUploadImage)
		r.Post("/generate_cav", s.handleGenerateCAV)
		r.Post("/inspect", s.handleInspect)
		r.Post("/crops", s.handleCrops)
		r.Post("/heatmap", s.handleHeatmap)
		r.Get("/image_set/{name}", s.handleImageSet)
		r.Get("/scout_images/{name}", s.handleImageSet)
		r.Get("/status", s.handleStatus)

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)

		r.Route("/db", func(r chi.Router) {
			r.Get("/get_all_snapshots_for_project_including_snapshot", s.handleProjectSnapshots)
			r.Get("/get_user_projects_summary", s.handleProjectsSummary)
			r.Get("/get_snapshot", s.handleGetSnapshot)
			r.Post("/set_snapshot", s.handleSetSnapshot)
			r.Post("/delete_snapshot", s.handleDeleteSnapshot)
			r.Get("/get_search_sets", s.handleListSearchSets)
			r.Get("/get_search_set", s.handleGetSearchSet)
			r.Post("/set_search_set", s.handleSetSearchSet)
			r.Post("/delete_search_set", s.handleDeleteSearchSet)
			r.Post("/copy_snapshot_to_new_project", s.handleCopySnapshot)
			r.Get("/search_snapshots", s.handleSearchSnapshots)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
