package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hyperjump/miru/internal/annotate"
	"github.com/hyperjump/miru/internal/index"
	"github.com/hyperjump/miru/internal/models"
	"go.uber.org/zap"
)

type folderRequest struct {
	Folder string `json:"folder"`
}

type commentRequest struct {
	Folder  string `json:"folder"`
	Path    string `json:"path"`
	Comment string `json:"comment"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("index request", zap.String("folder", req.Folder))
	summary, err := s.manager.BuildOrUpdate(r.Context(), req.Folder)
	if err != nil {
		s.respondIndexError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCheckIndex(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"indexed": s.manager.IsIndexed(req.Folder)})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	s.logger.Debug("search request",
		zap.String("folder", req.Folder), zap.String("query", req.Query), zap.Int("limit", req.Limit))
	results, err := s.manager.SearchText(r.Context(), req.Folder, req.Query,
		index.SearchOptions{Limit: req.Limit, SortBy: req.SortBy})
	if err != nil {
		s.respondIndexError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.SearchResponse{Results: results, Query: req.Query})
}

func (s *Server) handleSearchByImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	folder := r.FormValue("folder")
	// An unparsable limit stays 0 and falls back to the configured default,
	// same as an out-of-range value in text search.
	limit := 0
	if v := r.FormValue("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	// The embedder reads from disk, so spool the upload to a temp file.
	tmp, err := os.CreateTemp("", "miru-query-*"+filepath.Ext(header.Filename))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tmp.Close()

	s.logger.Debug("search by image request",
		zap.String("folder", folder), zap.String("filename", header.Filename))
	results, err := s.manager.SearchImage(r.Context(), folder, tmp.Name(),
		index.SearchOptions{Limit: limit, SortBy: models.SortOrder(r.FormValue("sort_by"))})
	if err != nil {
		s.respondIndexError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.SearchResponse{Results: results})
}

func (s *Server) handleCommentedImages(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	images, err := s.manager.CommentedImages(req.Folder)
	if err != nil {
		s.respondIndexError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"images": images})
}

func (s *Server) handleGetComments(w http.ResponseWriter, r *http.Request) {
	folder := r.URL.Query().Get("folder")
	path := r.URL.Query().Get("path")
	if folder == "" || path == "" {
		s.respondError(w, http.StatusBadRequest, "folder and path are required")
		return
	}
	store, err := s.manager.Annotations(folder)
	if err != nil {
		s.respondIndexError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"comments": store.List(path)})
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" || req.Comment == "" {
		s.respondError(w, http.StatusBadRequest, "path and comment are required")
		return
	}
	store, err := s.manager.Annotations(req.Folder)
	if err != nil {
		s.respondIndexError(w, err)
		return
	}
	comments, err := store.Append(req.Path, req.Comment)
	if err != nil {
		if errors.Is(err, annotate.ErrCommentTooLong) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("comment append failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"comments": comments})
}

// handleImage serves an image file, but only if its path is recorded in the
// folder's catalog. Arbitrary filesystem paths are refused.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	folder := r.URL.Query().Get("folder")
	path := r.URL.Query().Get("path")
	if folder == "" || path == "" {
		s.respondError(w, http.StatusBadRequest, "folder and path are required")
		return
	}
	rec, ok := s.manager.Resolve(folder, path)
	if !ok {
		s.respondError(w, http.StatusNotFound, "image not found in index")
		return
	}
	http.ServeFile(w, r, rec.Path)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.Stats()
	resp := map[string]interface{}{
		"folders": stats.Folders,
		"images":  stats.Images,
	}
	if s.watch != nil {
		resp["watch_folders"] = s.watch.Folders()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"folders": s.watch.Folders()})
}

func (s *Server) handleWatchAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req folderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Folder == "" {
		s.respondError(w, http.StatusBadRequest, "folder is required")
		return
	}
	abs, err := filepath.Abs(req.Folder)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid folder")
		return
	}
	s.logger.Debug("watch add folder request", zap.String("folder", abs))
	if err := s.watch.AddFolder(abs); err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "folder not found")
			return
		}
		s.logger.Error("watch add folder failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Index the folder right away; later changes come through the watcher.
	go func() {
		if _, err := s.manager.BuildOrUpdate(context.Background(), abs); err != nil {
			s.logger.Warn("initial index of watched folder failed",
				zap.String("folder", abs), zap.Error(err))
		}
	}()
	s.respondJSON(w, http.StatusCreated, map[string]string{"folder": abs, "status": "added"})
}

func (s *Server) handleWatchRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	folder := r.URL.Query().Get("folder")
	if folder == "" {
		s.respondError(w, http.StatusBadRequest, "folder is required")
		return
	}
	abs, err := filepath.Abs(folder)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid folder")
		return
	}
	s.logger.Debug("watch remove folder request", zap.String("folder", abs))
	if err := s.watch.RemoveFolder(abs); err != nil {
		s.logger.Error("watch remove folder failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"folder": abs, "status": "removed"})
}

// respondIndexError maps index errors onto HTTP statuses.
func (s *Server) respondIndexError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, index.ErrInvalidFolder),
		errors.Is(err, index.ErrNoImagesFound),
		errors.Is(err, index.ErrNotIndexed):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
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
