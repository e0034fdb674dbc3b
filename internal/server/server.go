// Package server provides the HTTP API for Miru.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/miru/internal/config"
	"github.com/hyperjump/miru/internal/index"
	"go.uber.org/zap"
)

// WatchService is the watch-mode surface the API manages. Nil when the
// server runs without watch mode.
type WatchService interface {
	Folders() []string
	AddFolder(folder string) error
	RemoveFolder(folder string) error
}

// Server is the HTTP server for the Miru API.
type Server struct {
	manager *index.Manager
	config  *config.ServerConfig
	logger  *zap.Logger
	watch   WatchService
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithWatcher exposes watch-folder management through the API.
func WithWatcher(w WatchService) Option {
	return func(s *Server) { s.watch = w }
}

// NewServer creates a server with the given dependencies.
func NewServer(manager *index.Manager, cfg *config.ServerConfig, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		manager: manager,
		config:  cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute)) // index builds can be slow
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/index", s.handleIndex)
	r.Post("/api/v1/check_index", s.handleCheckIndex)
	r.Post("/api/v1/search", s.handleSearch)
	r.Post("/api/v1/search_by_image", s.handleSearchByImage)
	r.Post("/api/v1/commented_images", s.handleCommentedImages)
	r.Get("/api/v1/comments", s.handleGetComments)
	r.Post("/api/v1/comments", s.handleAddComment)
	r.Get("/api/v1/image", s.handleImage)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/api/v1/watch/folders", s.handleWatchList)
	r.Post("/api/v1/watch/folders", s.handleWatchAdd)
	r.Delete("/api/v1/watch/folders", s.handleWatchRemove)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
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
