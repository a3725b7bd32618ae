package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/hyperjump/cavstudio/internal/catalog"
	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/storage"
)

const defaultSnapshotSearchLimit = 20

func (s *Server) handleProjectSnapshots(w http.ResponseWriter, r *http.Request) {
	id, err := requiredQuery(r, "snapshotId")
	if err != nil {
		s.respondErr(w, "project snapshots", err)
		return
	}
	docs, err := s.db.ProjectSnapshots(r.Context(), id)
	if err != nil {
		s.respondErr(w, "project snapshots", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": nonNilDocs(docs)})
}

func (s *Server) handleProjectsSummary(w http.ResponseWriter, r *http.Request) {
	projects, err := s.db.ProjectsSummary(r.Context())
	if err != nil {
		s.respondErr(w, "projects summary", err)
		return
	}
	if projects == nil {
		projects = []*storage.ProjectSummary{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": projects})
}

// handleGetSnapshot takes snapshotId from the query, or from a JSON body
// for older clients.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("snapshotId")
	if id == "" {
		var body struct {
			SnapshotID string `json:"snapshotId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			id = body.SnapshotID
		}
	}
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "snapshotId is required")
		return
	}
	doc, err := s.db.GetSnapshot(r.Context(), id)
	if err != nil {
		s.respondErr(w, "get snapshot", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"result": doc})
}

type setSnapshotRequest struct {
	SnapshotID string                 `json:"snapshotId"`
	Snapshot   map[string]interface{} `json:"snapshot"`
}

func (s *Server) handleSetSnapshot(w http.ResponseWriter, r *http.Request) {
	var req setSnapshotRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Snapshot == nil {
		s.respondError(w, http.StatusBadRequest, "snapshot is required")
		return
	}
	if err := s.db.SetSnapshot(r.Context(), req.SnapshotID, req.Snapshot); err != nil {
		s.respondErr(w, "set snapshot", err)
		return
	}
	s.respondJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SnapshotID string `json:"snapshotId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.db.DeleteSnapshot(r.Context(), req.SnapshotID); err != nil {
		s.respondErr(w, "delete snapshot", err)
		return
	}
	s.respondJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleListSearchSets(w http.ResponseWriter, r *http.Request) {
	docs, err := s.db.ListSearchSets(r.Context())
	if err != nil {
		s.respondErr(w, "list search sets", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": nonNilDocs(docs)})
}

func (s *Server) handleGetSearchSet(w http.ResponseWriter, r *http.Request) {
	id, err := requiredQuery(r, "searchSetId")
	if err != nil {
		s.respondErr(w, "get search set", err)
		return
	}
	doc, err := s.db.GetSearchSet(r.Context(), id)
	if err != nil {
		s.respondErr(w, "get search set", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"result": doc})
}

type setSearchSetRequest struct {
	SearchSetID string                 `json:"searchSetId"`
	SearchSet   map[string]interface{} `json:"searchSet"`
}

func (s *Server) handleSetSearchSet(w http.ResponseWriter, r *http.Request) {
	var req setSearchSetRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SearchSet == nil {
		s.respondError(w, http.StatusBadRequest, "searchSet is required")
		return
	}
	if err := s.db.SetSearchSet(r.Context(), req.SearchSetID, req.SearchSet); err != nil {
		s.respondErr(w, "set search set", err)
		return
	}
	s.respondJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleDeleteSearchSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SearchSetID string `json:"searchSetId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.db.DeleteSearchSet(r.Context(), req.SearchSetID); err != nil {
		s.respondErr(w, "delete search set", err)
		return
	}
	s.respondJSON(w, http.StatusOK, struct{}{})
}

type copySnapshotRequest struct {
	SrcSnapshotID string `json:"srcSnapshotId"`
	DstSnapshotID string `json:"dstSnapshotId"`
	DstProjectID  string `json:"dstProjectId"`
	DstName       string `json:"dstName"`
}

func (s *Server) handleCopySnapshot(w http.ResponseWriter, r *http.Request) {
	var req copySnapshotRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.db.CopySnapshotToNewProject(r.Context(), req.SrcSnapshotID, req.DstSnapshotID, req.DstProjectID, req.DstName)
	if err != nil {
		s.respondErr(w, "copy snapshot", err)
		return
	}
	s.respondJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleSearchSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.respondError(w, http.StatusNotImplemented, "catalog not enabled")
		return
	}
	limit := defaultSnapshotSearchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	opts := &catalog.SearchOptions{}
	if r.URL.Query().Get("fuzzy") == "true" {
		opts.Fuzziness = 1
	}
	hits, err := s.catalog.Search(r.Context(), r.URL.Query().Get("q"), limit, opts)
	if err != nil {
		s.respondErr(w, "search snapshots", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": hits})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func requiredQuery(r *http.Request, key string) (string, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", models.ErrInvalidInput, key)
	}
	return v, nil
}

func nonNilDocs(docs []*storage.Document) []*storage.Document {
	if docs == nil {
		return []*storage.Document{}
	}
	return docs
}
