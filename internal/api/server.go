// Package api serves a read-only local admin surface over the running
// monitor: status, targets, cached aggregates, live probe results and
// Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wellsgz/pingmon/internal/config"
	"github.com/wellsgz/pingmon/internal/logging"
)

// Server represents the API server
type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	handler    *Handler
	hub        *Hub
}

// NewServer creates a new API server reading from src. gatherer backs
// /metrics and may be nil.
func NewServer(cfg *config.Config, src Source, gatherer prometheus.Gatherer) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ErrorHandler())
	router.Use(RequestLogger())
	router.Use(CORS())

	handler := NewHandler(cfg, src)
	hub := NewHub(src)

	SetupRoutes(router, handler, hub, gatherer)

	return &Server{
		config:  cfg,
		router:  router,
		handler: handler,
		hub:     hub,
	}
}

// Start starts the API server in a blocking manner
func (s *Server) Start(address string) error {
	s.httpServer = &http.Server{
		Addr:         address,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logging.Info("API", "Starting server on "+address, nil)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the WebSocket hub and the API server in goroutines and
// returns immediately
func (s *Server) StartAsync(address string) {
	go s.hub.Run()

	go func() {
		if err := s.Start(address); err != nil {
			logging.Error("API", "Server error", err)
		}
	}()
}

// Shutdown gracefully shuts down the server with a timeout
func (s *Server) Shutdown(timeout time.Duration) error {
	// Stop WebSocket hub first (closes all client connections)
	if s.hub != nil {
		s.hub.Stop()
	}

	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logging.Info("API", "Shutting down server", nil)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logging.Info("API", "Server stopped", nil)
	return nil
}

// Router returns the underlying Gin router for testing or extension
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}
