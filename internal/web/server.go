package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/config"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/presence"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/scheduler"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/store"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/tracking"
)

// Directory is the employee data the server reads from the database.
type Directory interface {
	ListEmployees(ctx context.Context) ([]store.Employee, error)
	LocationHistory(ctx context.Context, name string, limit int) ([]store.Location, error)
}

// Server publishes live presence, alerts and tracks over HTTP.
type Server struct {
	presence   *presence.Tracker
	tracks     *tracking.TrackStore
	cameras    []config.Camera
	directory  Directory
	sched      *scheduler.Scheduler
	router     *chi.Mux
	httpServer *http.Server
	now        func() time.Time
	log        *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithDirectory enables the employee endpoints.
func WithDirectory(d Directory) Option {
	return func(s *Server) { s.directory = d }
}

// WithScheduler reports the periodic jobs in /healthz.
func WithScheduler(sched *scheduler.Scheduler) Option {
	return func(s *Server) { s.sched = sched }
}

// NewServer creates a new web server
func NewServer(tracker *presence.Tracker, tracks *tracking.TrackStore, cameras []config.Camera, addr string, opts ...Option) *Server {
	r := chi.NewRouter()

	s := &Server{
		presence: tracker,
		tracks:   tracks,
		cameras:  cameras,
		router:   r,
		now:      time.Now,
		log:      slog.With("component", "web"),
	}
	for _, opt := range opts {
		opt(s)
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(30 * time.Second))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/presence", s.handlePresenceList)
		r.Get("/presence/{name}", s.handlePresenceGet)
		r.Get("/employees", s.handleEmployees)
		r.Get("/employees/{name}/locations", s.handleEmployeeLocations)
		r.Get("/alerts", s.handleAlerts)
		r.Get("/tracks", s.handleTracks)
		r.Get("/cameras", s.handleCameras)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
