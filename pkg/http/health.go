package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"callguard/pkg/version"
)

const healthCheckTimeout = 2 * time.Second

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	Checks    map[string]CheckResult `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// CheckResult represents an individual health check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemInfo contains system resource information
type SystemInfo struct {
	GoRoutines   int    `json:"goroutines"`
	MemoryMB     uint64 `json:"memory_mb"`
	CPUCount     int    `json:"cpu_count"`
	SessionState string `json:"session_state,omitempty"`
	WSClients    int    `json:"websocket_clients"`
}

// HealthHandler handles health check requests
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Version:   version.Version,
		Checks:    make(map[string]CheckResult),
	}

	if s.controller != nil {
		state := s.controller.State()
		health.Checks["session"] = CheckResult{
			Status:  "healthy",
			Message: fmt.Sprintf("Session controller %s", state),
		}
		health.System.SessionState = state.String()
	} else {
		health.Checks["session"] = CheckResult{
			Status:  "unhealthy",
			Message: "Session controller not initialized",
		}
		health.Status = "unhealthy"
	}

	if s.hub != nil && s.hub.IsRunning() {
		health.Checks["websocket"] = CheckResult{
			Status:  "healthy",
			Message: "WebSocket hub is running",
		}
		health.System.WSClients = s.hub.ClientCount()
	} else {
		health.Checks["websocket"] = CheckResult{
			Status:  "degraded",
			Message: "WebSocket hub not running",
		}
		s.degrade(&health)
	}

	if s.history != nil {
		if err := s.checkHistory(r.Context()); err != nil {
			health.Checks["history"] = CheckResult{
				Status:  "degraded",
				Message: fmt.Sprintf("History store unhealthy: %v", err),
			}
			s.degrade(&health)
		} else {
			health.Checks["history"] = CheckResult{
				Status:  "healthy",
				Message: "History store operational",
			}
		}
	} else {
		health.Checks["history"] = CheckResult{
			Status:  "unhealthy",
			Message: "History store not initialized",
		}
		health.Status = "unhealthy"
	}

	if s.amqpClient != nil {
		if s.amqpClient.IsConnected() {
			health.Checks["amqp"] = CheckResult{
				Status:  "healthy",
				Message: "AMQP connected",
			}
		} else {
			health.Checks["amqp"] = CheckResult{
				Status:  "degraded",
				Message: "AMQP disconnected",
			}
			s.degrade(&health)
		}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	health.System.GoRoutines = runtime.NumGoroutine()
	health.System.MemoryMB = m.Alloc / 1024 / 1024
	health.System.CPUCount = runtime.NumCPU()

	if r.URL.Query().Get("detailed") == "true" {
		s.logger.WithFields(logrus.Fields{
			"status":   health.Status,
			"checks":   health.Checks,
			"system":   health.System,
			"duration": time.Since(startTime),
		}).Debug("Health check performed")
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, health)
}

func (s *Server) degrade(health *HealthStatus) {
	if health.Status == "healthy" {
		health.Status = "degraded"
	}
}

// checkHistory uses the store's own probe when it has one and falls back
// to a read
func (s *Server) checkHistory(ctx context.Context) error {
	if prober, ok := s.history.(interface{ Health() error }); ok {
		return prober.Health()
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	_, err := s.history.List(ctx)
	return err
}

// LivenessHandler handles kubernetes liveness probe
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ReadinessHandler handles kubernetes readiness probe
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil || s.history == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}
