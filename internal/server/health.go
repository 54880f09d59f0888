// Package server provides HTTP server utilities including health checks
// and graceful shutdown.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck is the result of probing a single component.
type HealthCheck struct {
	Name    string            `json:"name"`
	Status  HealthStatus      `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthResponse is the body served by the health endpoints.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []HealthCheck `json:"checks,omitempty"`
}

// HealthChecker probes one component.
type HealthChecker func(ctx context.Context) HealthCheck

// HealthConfig configures the health server.
type HealthConfig struct {
	Version string
	Addr    string // listen address (default ":8080")
}

// HealthServer serves health, readiness and liveness probes on its own
// listener, separate from the API port.
type HealthServer struct {
	mu           sync.RWMutex
	checks       map[string]HealthChecker
	version      string
	ready        bool
	live         bool
	shutdownChan chan struct{}
}

// NewHealthServer creates a health server. It starts live but not ready;
// readiness is flipped once the rest of the service is wired.
func NewHealthServer(config *HealthConfig) *HealthServer {
	s := &HealthServer{
		checks:       make(map[string]HealthChecker),
		live:         true,
		shutdownChan: make(chan struct{}),
	}
	if config != nil {
		s.version = config.Version
	}
	return s
}

// RegisterCheck adds a named component check.
func (s *HealthServer) RegisterCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = checker
}

// SetReady marks the server as ready to accept traffic.
func (s *HealthServer) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// SetLive marks the server as live (or not).
func (s *HealthServer) SetLive(live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = live
}

// Handler returns the probe mux. The z-suffixed paths are Kubernetes
// conventions; both spellings serve the same handlers.
func (s *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	for path, h := range map[string]http.HandlerFunc{
		"/health": s.handleHealth,
		"/ready":  s.probeHandler(func() bool { return s.ready }),
		"/live":   s.probeHandler(func() bool { return s.live }),
	} {
		mux.HandleFunc(path, h)
		mux.HandleFunc(path+"z", h)
	}
	return mux
}

// ListenAndServe starts the health listener and blocks until Shutdown.
func (s *HealthServer) ListenAndServe(addr string) error {
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-s.shutdownChan
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	return server.ListenAndServe()
}

// Shutdown stops the health listener.
func (s *HealthServer) Shutdown() {
	close(s.shutdownChan)
}

// handleHealth runs every registered check and aggregates: any unhealthy
// component makes the whole response unhealthy (503); degraded components
// degrade the response but keep it 200.
func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s.mu.RLock()
	checks := make(map[string]HealthChecker, len(s.checks))
	for name, checker := range s.checks {
		checks[name] = checker
	}
	version := s.version
	s.mu.RUnlock()

	response := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   version,
		Checks:    make([]HealthCheck, 0, len(checks)),
	}

	for name, checker := range checks {
		check := checker(ctx)
		check.Name = name
		response.Checks = append(response.Checks, check)
		response.Status = worseOf(response.Status, check.Status)
	}

	code := http.StatusOK
	if response.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, response)
}

// probeHandler serves a boolean probe (readiness or liveness).
func (s *HealthServer) probeHandler(up func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		ok := up()
		s.mu.RUnlock()

		response := HealthResponse{
			Status:    HealthStatusHealthy,
			Timestamp: time.Now().UTC(),
		}
		code := http.StatusOK
		if !ok {
			response.Status = HealthStatusUnhealthy
			code = http.StatusServiceUnavailable
		}
		s.writeJSON(w, code, response)
	}
}

func worseOf(current, observed HealthStatus) HealthStatus {
	if current == HealthStatusUnhealthy || observed == HealthStatusUnhealthy {
		return HealthStatusUnhealthy
	}
	if current == HealthStatusDegraded || observed == HealthStatusDegraded {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}

func (s *HealthServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Common health checkers

// VectorStoreHealthChecker probes the vector store. Failures report
// degraded, not unhealthy: the pipeline can still serve with the
// in-memory store.
func VectorStoreHealthChecker(checkFn func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		if err := checkFn(ctx); err != nil {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: "Vector store unreachable: " + err.Error(),
			}
		}
		return HealthCheck{
			Status:  HealthStatusHealthy,
			Message: "Vector store OK",
		}
	}
}

// LLMHealthChecker probes model provider availability. A nil checkFn
// reports configuration only, without calling the provider.
func LLMHealthChecker(providerName string, checkFn func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		details := map[string]string{"provider": providerName}

		if checkFn == nil {
			return HealthCheck{
				Status:  HealthStatusHealthy,
				Message: "LLM provider configured: " + providerName,
			}
		}

		if err := checkFn(ctx); err != nil {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: "LLM provider degraded: " + err.Error(),
				Details: details,
			}
		}
		return HealthCheck{
			Status:  HealthStatusHealthy,
			Message: "LLM provider OK",
			Details: details,
		}
	}
}

// APIKeyHealthChecker reports whether the provider API key is set.
// A missing key degrades the service rather than failing it; the process
// serves but every ask will error.
func APIKeyHealthChecker(providerName string, hasKey func() bool) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		details := map[string]string{"provider": providerName}

		if !hasKey() {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: "API key missing for provider " + providerName,
				Details: details,
			}
		}
		return HealthCheck{
			Status:  HealthStatusHealthy,
			Message: "API key configured",
			Details: details,
		}
	}
}
