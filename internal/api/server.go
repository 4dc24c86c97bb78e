package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/FairForge/tierd/internal/engine"
	"github.com/FairForge/tierd/internal/files"
	"github.com/FairForge/tierd/internal/intelligence"
	"github.com/FairForge/tierd/internal/metrics"
	"github.com/FairForge/tierd/internal/policy"
	"github.com/FairForge/tierd/internal/queue"
)

// AccessRecorder ingests reads and content changes. The in-memory access
// aggregator implements it.
type AccessRecorder interface {
	LogAccess(ev intelligence.AccessEvent)
	SetModified(key string, t time.Time)
}

// Deps are the components the control surface drives
type Deps struct {
	Planner  *engine.Planner
	Catalog  *engine.Catalog
	Tasks    queue.Store
	Files    files.Store
	Chaos    *policy.ChaosState
	Security *policy.SecurityPolicy
	Metrics  *metrics.Metrics
	Access   AccessRecorder
}

type Server struct {
	deps       Deps
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server
	version    string

	requestCount int64
	startTime    time.Time
}

func NewServer(addr, version string, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:      deps,
		logger:    logger,
		router:    chi.NewRouter(),
		version:   version,
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		// Placement
		r.Get("/explain", s.handleExplain)
		r.Get("/explain/history", s.handleExplainHistory)
		r.Post("/trigger", s.handleTrigger)

		// File metadata
		r.Get("/files", s.handleGetFile)
		r.Put("/files", s.handlePutFile)
		r.Post("/access", s.handleLogAccess)

		// Policy and chaos controls
		r.Get("/policy/encryption", s.handleGetEncryption)
		r.Put("/policy/encryption", s.handleSetEncryption)
		r.Get("/chaos/endpoints", s.handleGetFailedEndpoints)
		r.Put("/chaos/endpoints", s.handleSetFailedEndpoints)
		r.Delete("/chaos/endpoints", s.handleClearFailedEndpoints)
		r.Post("/chaos/endpoints/{id}/fail", s.handleFailEndpoint)
		r.Post("/chaos/endpoints/{id}/recover", s.handleRecoverEndpoint)
		r.Get("/chaos/latency", s.handleGetLatency)
		r.Put("/chaos/latency", s.handleSetLatency)

		// Migration tasks
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/counts", s.handleTaskCounts)
		r.Get("/tasks/{id}", s.handleGetTask)
	})
}

// Handler exposes the router for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"version": s.version,
		"go":      runtime.Version(),
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.requestCount, 1)
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("API error", zap.Error(err), zap.Int("status", status))
	}
	s.respondJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
