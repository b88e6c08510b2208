// Package diagnostics provides an optional, read-only HTTP status surface a
// host process can mount to inspect store and IPC health (SPEC_FULL.md
// component T). It is not part of the core contract; nothing in the store or
// IPC packages depends on it.
package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/xspvault/xspcore/pkg/health"
	"github.com/xspvault/xspcore/pkg/logging"
)

// StatusProvider returns a snapshot of host-defined status (store roots, GC
// pass counts, upsync queue depth, open capability counts, and the like).
// The host wires whatever it wants exposed; diagnostics only serves it.
type StatusProvider func() map[string]interface{}

// Config configures a Server.
type Config struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	EnableCORS   bool          `yaml:"enable_cors"`
}

// DefaultConfig returns the diagnostics server default.
func DefaultConfig() Config {
	return Config{
		Address:      "localhost:9092",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   false,
	}
}

// Server serves read-only health and status endpoints.
type Server struct {
	httpServer *http.Server
	tracker    *health.Tracker
	status     StatusProvider
	log        *logging.Logger
	config     Config
}

// NewServer builds a Server. tracker may be nil (health endpoints report
// "not configured"); status may be nil (the /status endpoint then answers
// 503 "status reporting not configured").
func NewServer(config Config, tracker *health.Tracker, status StatusProvider, log *logging.Logger) *Server {
	if log == nil {
		log, _ = logging.New(logging.DefaultConfig())
	}

	s := &Server{
		tracker: tracker,
		status:  status,
		log:     log.WithComponent("diagnostics"),
		config:  config,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/components", s.handleHealthComponents)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/info", s.handleInfo)

	var handler http.Handler = s.loggingMiddleware(mux)
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:              config.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	return s
}

// Start runs the server, blocking until it stops or fails.
func (s *Server) Start() error {
	s.log.Info("starting diagnostics server", map[string]interface{}{"address": s.config.Address})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// StartBackground runs the server in a goroutine, logging a fatal-path
// error rather than returning one.
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil {
			s.log.Error("diagnostics server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down diagnostics server", nil)
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.tracker == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"note":   "health tracking not configured",
		})
		return
	}

	overall := s.tracker.OverallState()
	response := map[string]interface{}{
		"status":     overall.String(),
		"timestamp":  time.Now(),
		"components": len(s.tracker.GetAllComponents()),
	}

	statusCode := http.StatusOK
	switch overall {
	case health.StateUnavailable:
		statusCode = http.StatusServiceUnavailable
	case health.StateDegraded, health.StateReadOnly:
		statusCode = http.StatusPartialContent
	}

	s.respondJSON(w, statusCode, response)
}

func (s *Server) handleHealthComponents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.tracker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "health tracking not configured")
		return
	}
	s.respondJSON(w, http.StatusOK, s.tracker.GetAllComponents())
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.tracker == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"ready":     true,
			"timestamp": time.Now(),
			"note":      "health tracking not configured",
		})
		return
	}

	overall := s.tracker.OverallState()
	ready := overall != health.StateUnavailable
	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	s.respondJSON(w, statusCode, map[string]interface{}{
		"ready":     ready,
		"status":    overall.String(),
		"timestamp": time.Now(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.status == nil {
		s.respondError(w, http.StatusServiceUnavailable, "status reporting not configured")
		return
	}
	s.respondJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "xspcore",
		"timestamp": time.Now(),
		"endpoints": []string{
			"/health", "/health/components", "/health/live", "/health/ready",
			"/status", "/info",
		},
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request served", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		})
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{"error": message})
}
