package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"callguard/pkg/analysis"
	"callguard/pkg/config"
	"callguard/pkg/correlation"
	"callguard/pkg/errors"
	"callguard/pkg/history"
	"callguard/pkg/metrics"
	"callguard/pkg/session"
	"callguard/pkg/upload"
	"callguard/pkg/util"
	"callguard/pkg/version"
)

// SessionController is the live session surface exposed over HTTP
type SessionController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	State() session.State
	Snapshot() session.Snapshot
}

// Uploader runs one-shot analyses of recorded files
type Uploader interface {
	Analyze(ctx context.Context, file upload.File) (analysis.HistoryEntry, error)
}

// RateLimitMiddleware interface for rate limiting
type RateLimitMiddleware interface {
	Middleware(next http.Handler) http.Handler
}

// Dependencies are the components the API is served from
type Dependencies struct {
	Controller SessionController
	History    history.Store
	Uploader   Uploader
	Hub        *SessionHub
}

// Server is the HTTP server for the dashboard API, health checks and metrics
type Server struct {
	config     config.HTTPConfig
	logger     *logrus.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	startTime  time.Time

	controller SessionController
	history    history.Store
	uploader   Uploader
	hub        *SessionHub
	amqpClient interface{ IsConnected() bool }

	rateLimitMiddleware RateLimitMiddleware
}

// NewServer creates a new HTTP server instance
func NewServer(logger *logrus.Logger, cfg config.HTTPConfig, deps Dependencies) *Server {
	server := &Server{
		config:     cfg,
		logger:     logger,
		startTime:  time.Now(),
		controller: deps.Controller,
		history:    deps.History,
		uploader:   deps.Uploader,
		hub:        deps.Hub,
	}

	mux := http.NewServeMux()
	server.mux = mux

	// Wrap handlers with middleware that adds Server header
	addServerHeader := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", version.ServerHeader())
			next(w, r)
		}
	}

	// rate limited lazily so the middleware can be set after construction
	limited := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if server.rateLimitMiddleware == nil {
				next(w, r)
				return
			}
			server.rateLimitMiddleware.Middleware(next).ServeHTTP(w, r)
		}
	}

	mux.HandleFunc("GET /health", addServerHeader(server.HealthHandler))
	mux.HandleFunc("GET /health/live", addServerHeader(server.LivenessHandler))
	mux.HandleFunc("GET /health/ready", addServerHeader(server.ReadinessHandler))
	mux.HandleFunc("GET /status", addServerHeader(server.statusHandler))

	mux.HandleFunc("GET /api/session", addServerHeader(server.handleGetSession))
	mux.HandleFunc("POST /api/session/start", addServerHeader(limited(server.handleStartSession)))
	mux.HandleFunc("POST /api/session/stop", addServerHeader(server.handleStopSession))
	mux.HandleFunc("GET /api/history", addServerHeader(server.handleListHistory))
	mux.HandleFunc("DELETE /api/history", addServerHeader(server.handleClearHistory))
	mux.HandleFunc("POST /api/upload", addServerHeader(limited(server.handleUpload)))

	if server.hub != nil {
		mux.HandleFunc("GET /ws/session", server.hub.ServeWs)
	}

	if cfg.EnableMetrics && metrics.IsMetricsEnabled() {
		metrics.RegisterHandler(mux)
		logger.Info("Prometheus metrics endpoint enabled at /metrics")
	} else {
		logger.Info("Metrics endpoints disabled")
	}

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      util.NewPanicHandler(logger).Middleware(correlation.Middleware(logger, mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// SetRateLimitMiddleware sets the rate limiting middleware applied to
// session start and upload requests.
func (s *Server) SetRateLimitMiddleware(middleware RateLimitMiddleware) {
	s.rateLimitMiddleware = middleware
	s.logger.Info("Rate limiting middleware configured")
}

// SetAMQPClient sets the AMQP client reference for health checks
func (s *Server) SetAMQPClient(client interface{ IsConnected() bool }) {
	s.amqpClient = client
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe serves until Shutdown is called. It returns nil after a
// graceful shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "HTTP server failed")
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// statusHandler handles the /status endpoint
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":     "ok",
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
		"version":    version.Version,
		"started_at": s.startTime.Format(time.RFC3339),
	}

	if s.controller != nil {
		snapshot := s.controller.Snapshot()
		status["session_state"] = snapshot.State
		status["session_id"] = snapshot.SessionID
		status["risk_level"] = snapshot.RiskLevel
	}
	if s.hub != nil {
		status["websocket_clients"] = s.hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, status)
}

// ErrorResponse sends a standardized error response
func (s *Server) ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	errors.WriteError(w, err)
	correlation.LoggerFromContext(r.Context(), s.logger).WithError(err).Warn("HTTP error response sent")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
