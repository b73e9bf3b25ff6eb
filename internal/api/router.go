// Package api provides the HTTP bridge between an agent host and the
// iteration controller.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ralph/internal/config"
	"github.com/ternarybob/ralph/internal/logger"
	"github.com/ternarybob/ralph/pkg/loop"
	"github.com/ternarybob/ralph/pkg/monitor"
)

// Syncer keeps a set of watched prompt files in step with the enabled
// sessions.
type Syncer interface {
	Sync(paths []string) error
}

// Server represents the API server.
type Server struct {
	cfg     *config.Config
	router  chi.Router
	ctrl    *loop.Controller
	host    *loop.Recorder
	watcher Syncer
	monitor *monitor.Monitor
	logger  arbor.ILogger

	// mu serialises every controller call and the recorder drain after it.
	mu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithWatcher syncs w with the enabled sessions' prompt files after every
// event.
func WithWatcher(w Syncer) Option {
	return func(s *Server) {
		s.watcher = w
	}
}

// WithMonitor exposes m's transition stream under /events.
func WithMonitor(m *monitor.Monitor) Option {
	return func(s *Server) {
		s.monitor = m
	}
}

// WithLogger sets the server's logger.
func WithLogger(l arbor.ILogger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a new API server. host must be the Host ctrl was built
// with; its recorded output is returned with each response.
func NewServer(cfg *config.Config, ctrl *loop.Controller, host *loop.Recorder, opts ...Option) *Server {
	s := &Server{
		cfg:  cfg,
		ctrl: ctrl,
		host: host,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.GetLogger()
	}

	s.setupRouter()
	s.syncWatcher()
	return s
}

// setupRouter configures all routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Optional API key authentication
	if s.cfg.Service.APIKey != "" {
		r.Use(s.apiKeyAuth)
	}

	// Health and version endpoints (no auth)
	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)

	r.Route("/sessions", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Get("/", s.handleListSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/chat", s.handleChat)
			r.Post("/idle", s.handleIdle)
			r.Post("/tool", s.handleTool)
		})
	})

	// Event streams are long-lived and carry no timeout.
	if s.monitor != nil {
		r.Route("/events", func(r chi.Router) {
			r.Get("/", s.monitor.ServeEvents)
			r.Get("/history", s.monitor.ServeHistory)
		})
	}

	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// apiKeyAuth is middleware that validates API key.
func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth for health and version
		if r.URL.Path == "/health" || r.URL.Path == "/version" {
			next.ServeHTTP(w, r)
			return
		}

		if r.Header.Get("X-API-Key") != s.cfg.Service.APIKey {
			writeError(w, http.StatusUnauthorized, "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request through arbor.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("duration", time.Since(start).String()).
			Msgf("HTTP %d", ww.Status())
	})
}
