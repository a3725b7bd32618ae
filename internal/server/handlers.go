package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/cavstudio/internal/cav"
	"github.com/hyperjump/cavstudio/internal/config"
	"github.com/hyperjump/cavstudio/internal/localize"
	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/picture"
	"github.com/hyperjump/cavstudio/internal/search"
	"github.com/hyperjump/cavstudio/internal/storage"
)

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, struct{}{})
}

type uploadRequest struct {
	Data224  string `json:"data224"`
	Data1200 string `json:"data1200"`
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	data224, _, err := picture.ParseDataURI(req.Data224)
	if err != nil {
		s.respondErr(w, "upload_image", err)
		return
	}
	var data1200 []byte
	if req.Data1200 != "" {
		if data1200, _, err = picture.ParseDataURI(req.Data1200); err != nil {
			s.respondErr(w, "upload_image", err)
			return
		}
	}
	ref, err := s.activations.Ingest(r.Context(), data224, data1200, true)
	if err != nil {
		s.respondErr(w, "upload_image", err)
		return
	}
	s.respondJSON(w, http.StatusOK, ref)
}

type generateRequest struct {
	Positive     []models.TrainingImageRef `json:"positive_images"`
	Negative     []models.TrainingImageRef `json:"negative_images"`
	Layer        models.LayerID            `json:"model_layer"`
	SearchSet    string                    `json:"search_set"`
	SearchImages []struct {
		ID string `json:"id"`
	} `json:"search_images"`
}

func (s *Server) handleGenerateCAV(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ids := make([]string, len(req.SearchImages))
	for i, img := range req.SearchImages {
		ids[i] = img.ID
	}
	s.logger.Debug("generate_cav request",
		zap.String("layer", string(req.Layer)),
		zap.String("search_set", req.SearchSet),
		zap.Int("positives", len(req.Positive)),
		zap.Int("negatives", len(req.Negative)))
	res, err := s.engine.GenerateCAV(r.Context(), search.GenerateRequest{
		Positive:  req.Positive,
		Negative:  req.Negative,
		Layer:     req.Layer,
		SearchSet: req.SearchSet,
		CustomIDs: ids,
	})
	if err != nil {
		s.respondErr(w, "generate_cav", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

type imageRequest struct {
	Image models.ImageRef `json:"image"`
	CAVID string          `json:"cav_id"`
}

// openRequest decodes an image/cav_id body and loads both.
func (s *Server) openRequest(r *http.Request) (*localize.Image, *cav.CAV, error) {
	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, nil, errors.Join(models.ErrInvalidInput, err)
	}
	path, err := s.activations.Layout().Image224Path(req.Image)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.engine.LoadCAV(req.CAVID)
	if err != nil {
		return nil, nil, err
	}
	img, err := s.localizer.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return img, c, nil
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	img, c, err := s.openRequest(r)
	if err != nil {
		s.respondErr(w, "inspect", err)
		return
	}
	res, err := s.localizer.Inspect(r.Context(), img, c)
	if err != nil {
		s.respondErr(w, "inspect", err)
		return
	}
	uri, err := pngDataURI(res.Heatmap)
	if err != nil {
		s.respondErr(w, "inspect", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"heatmap":  uri,
		"top_crop": res.TopCrop.Crop.Spec(),
	})
}

func (s *Server) handleCrops(w http.ResponseWriter, r *http.Request) {
	img, c, err := s.openRequest(r)
	if err != nil {
		s.respondErr(w, "crops", err)
		return
	}
	ranked, err := s.localizer.RankedCrops(r.Context(), img, c)
	if err != nil {
		s.respondErr(w, "crops", err)
		return
	}
	specs := make([]models.Rect, len(ranked))
	scores := make([]float32, len(ranked))
	for i, sc := range ranked {
		specs[i] = sc.Crop.Spec()
		scores[i] = sc.Score
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"top_crop": specs[0],
		"crops":    specs,
		"scores":   scores,
	})
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	img, c, err := s.openRequest(r)
	if err != nil {
		s.respondErr(w, "heatmap", err)
		return
	}
	heat, err := s.localizer.Heatmap(r.Context(), img, c)
	if err != nil {
		s.respondErr(w, "heatmap", err)
		return
	}
	uri, err := pngDataURI(heat)
	if err != nil {
		s.respondErr(w, "heatmap", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"heatmap": uri})
}

func pngDataURI(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := picture.EncodePNG(&buf, img); err != nil {
		return "", err
	}
	return picture.SerializeDataURI(buf.Bytes(), "image/png"), nil
}

func (s *Server) handleImageSet(w http.ResponseWriter, r *http.Request) {
	set, err := s.sets.BuiltIn(chi.URLParam(r, "name"))
	if err != nil {
		s.respondErr(w, "image_set", err)
		return
	}
	s.respondJSON(w, http.StatusOK, set)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	count, err := s.db.CountSnapshots(ctx)
	if err != nil {
		s.respondErr(w, "status: count snapshots", err)
		return
	}
	resp := map[string]interface{}{"snapshots": count}
	if s.catalog != nil {
		if n, err := s.catalog.DocCount(); err == nil {
			resp["catalog_documents"] = n
		}
	}
	if s.watch != nil {
		resp["watch_directories"] = s.watch.Directories()
	}
	if s.config != nil {
		st := s.config.Storage
		usage, err := storage.DiskUsage(
			storage.Area{Name: "database", Path: st.DatabasePath},
			storage.Area{Name: "catalog", Path: st.CatalogIndexPath},
			storage.Area{Name: "cavs", Path: st.CAVDir},
			storage.Area{Name: "user_content", Path: st.UserContentDir()},
		)
		if err == nil {
			resp["disk_usage"] = usage
			resp["disk_usage_bytes"] = storage.TotalBytes(usage)
		} else {
			s.logger.Warn("status: disk usage failed", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondErr(w, "watch add directory", err)
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.respondErr(w, "watch add directory", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.respondErr(w, "watch remove directory", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" || s.config == nil {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps err onto a status code. Only server faults are logged.
func (s *Server) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}
