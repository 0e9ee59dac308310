// Package server provides the HTTP API for pdfaccess.
package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/config"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/models"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/pipelines"
	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/storage"
)

// Ingester stores uploads and removes documents with their files.
type Ingester interface {
	Import(ctx context.Context, r io.Reader, originalName string) (*models.Document, error)
	Delete(ctx context.Context, id string) error
}

// Processor runs document processing in the background.
type Processor interface {
	StartAsync(ctx context.Context, id string) (*models.Document, error)
	FillMissingPagesAsync(ctx context.Context, id string)
}

// Server is the HTTP server for the pdfaccess API.
type Server struct {
	storage   storage.Storage
	ingest    Ingester
	processor Processor
	pipelines []pipelines.Info
	config    *config.Config
	logger    *zap.Logger
	router    chi.Router
	server    *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	store storage.Storage,
	ingest Ingester,
	processor Processor,
	plugins []pipelines.Info,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		storage:   store,
		ingest:    ingest,
		processor: processor,
		pipelines: plugins,
		config:    cfg,
		logger:    logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5, "application/json"))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/upload", s.handleUpload)
		r.Get("/pipelines", s.handleListPipelines)

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", s.handleListDocuments)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDocument)
				r.Delete("/", s.handleDeleteDocument)
				r.Get("/pages", s.handleListPages)
				r.Get("/pipelines", s.handleListRuns)
				r.Get("/download", s.handleDownload)
			})
		})

		r.Post("/process/{id}", s.handleProcess)
		r.Post("/process/{id}/pages", s.handleFillPages)
		r.Get("/status/{id}", s.handleStatus)
	})
	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
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
