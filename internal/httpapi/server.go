// Package httpapi exposes the meetingd REST surface: agent lifecycle,
// audio upload and transcription records, meeting analysis and scheduling.
// Handlers are glue; all agent work goes through the AgentController.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"meetingd/internal/agent"
	"meetingd/internal/observability"
	"meetingd/internal/store"
)

// AgentController is what the HTTP layer needs from the agent registry.
type AgentController interface {
	CallTool(server, tool string, args any) (json.RawMessage, error)
	StartAll() map[string]error
	StopAgent(name string) error
	Status(name string) agent.Status
	StatusAll() map[string]agent.Status
	AgentNames() []string
}

// Server provides the HTTP API endpoints with a chi router.
type Server struct {
	controller AgentController
	store      *store.Store
	logger     *zap.Logger
	router     *chi.Mux
	metrics    *observability.Metrics
}

// NewServer creates the HTTP API server and mounts all routes.
func NewServer(controller AgentController, st *store.Store, logger *zap.Logger, metrics *observability.Metrics) *Server {
	s := &Server{
		controller: controller,
		store:      st,
		logger:     logger,
		router:     chi.NewRouter(),
		metrics:    metrics,
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(s.metrics.HTTPMiddleware())
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(s.correlationIDMiddleware())
	s.router.Use(s.loggingMiddleware())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/servers", func(r chi.Router) {
			r.Post("/start", s.handleStartServers)
			r.Post("/stop", s.handleStopServers)
			r.Get("/status", s.handleServerStatus)
		})

		r.Post("/upload", s.handleUpload)
		r.Get("/transcription/{id}", s.handleGetTranscription)
		r.Get("/transcriptions", s.handleListTranscriptions)

		r.Post("/analyze-meetings", s.handleAnalyzeMeetings)
		r.Get("/meetings", s.handleListMeetings)
		r.Post("/schedule-meetings", s.handleScheduleMeetings)
	})

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}
}

// correlationIDMiddleware tags every request with an id clients can quote
// back when reporting problems.
func (s *Server) correlationIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get("X-Correlation-ID")
			if correlationID == "" {
				correlationID = uuid.NewString()
			}
			w.Header().Set("X-Correlation-ID", correlationID)
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) loggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			s.logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("correlation_id", ww.Header().Get("X-Correlation-ID")))
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
