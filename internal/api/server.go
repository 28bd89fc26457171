package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/amaumene/shelfsync/internal/api/handlers"
	"github.com/amaumene/shelfsync/internal/api/middleware"
	"github.com/amaumene/shelfsync/internal/config"
	"github.com/amaumene/shelfsync/internal/controllers"
	"github.com/amaumene/shelfsync/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server
type Server struct {
	server    *http.Server
	library   *controllers.LibraryController
	scheduler *scheduler.Scheduler
	gatherer  prometheus.Gatherer
	logger    *logrus.Logger

	// baseCtx outlives requests; canceling it ends open streams on shutdown
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, library *controllers.LibraryController, sched *scheduler.Scheduler, gatherer prometheus.Gatherer, logger *logrus.Logger) *Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		library:    library,
		scheduler:  sched,
		gatherer:   gatherer,
		logger:     logger,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}

	s.server = &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: s.Handler(),
		// No read or write timeout: stream connections stay open
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}

	return s
}

// Handler returns the routed and logged handler tree
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.setupRoutes(mux)
	return middleware.Logging(mux, s.logger)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.Handle("GET /health", handlers.NewHealthHandler(s.logger))
	mux.Handle("GET /status", handlers.NewStatusHandler(s.library, s.logger))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	library := handlers.NewLibraryHandler(s.library, s.logger)
	mux.HandleFunc("GET /api/library", library.List)
	mux.HandleFunc("POST /api/library", library.Add)
	mux.HandleFunc("PATCH /api/library/{id}", library.Update)
	mux.HandleFunc("DELETE /api/library/{id}", library.Delete)
	mux.Handle("GET /api/library/stream", handlers.NewStreamHandler(s.library, nil, s.logger))

	syncHandler := handlers.NewSyncHandler(s.scheduler, s.logger)
	mux.HandleFunc("POST /api/sync/visibility", syncHandler.Visibility)
	mux.HandleFunc("POST /api/sync/focus", syncHandler.Focus)
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("port", s.server.Addr).Info("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	s.cancelBase()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
