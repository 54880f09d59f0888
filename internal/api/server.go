// Package api exposes the question-answering service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pageask/pageask/internal/observability"
	"github.com/pageask/pageask/internal/rag"
)

// Asker answers a question about a web page.
type Asker interface {
	Ask(ctx context.Context, url, query string) (string, error)
}

// Config holds API server configuration.
type Config struct {
	ListenAddr string // e.g. ":8000"
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{ListenAddr: "127.0.0.1:8000"}
}

// Server is the public HTTP server.
type Server struct {
	config  *Config
	asker   Asker
	metrics *observability.ServiceMetrics
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates the API server. metrics may be nil.
func NewServer(config *Config, asker Asker, metrics *observability.ServiceMetrics, logger *slog.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:  config,
		asker:   asker,
		metrics: metrics,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ask", s.handleAsk)
	mux.HandleFunc("/api/stats", s.handleStats)
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	handler := corsMiddleware(s.loggingMiddleware(s.recoverMiddleware(mux)))

	s.server = &http.Server{
		Addr:    config.ListenAddr,
		Handler: handler,
		// The ask pipeline may legitimately take minutes when embedding
		// retries kick in; the write timeout must outlast it.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the full middleware-wrapped handler, for tests and
// embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving requests.
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.config.ListenAddr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")
	return s.server.Shutdown(ctx)
}

type askRequest struct {
	URL   string `json:"url"`
	Query string `json:"query"`
}

type askResponse struct {
	Answer string `json:"answer"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleAsk handles POST /ask.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := validateAsk(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	answer, err := s.asker.Ask(r.Context(), req.URL, strings.TrimSpace(req.Query))
	if err != nil {
		var fe *rag.FetchFailedError
		if errors.As(err, &fe) {
			respondError(w, http.StatusBadRequest, "failed to load page")
			return
		}
		s.logger.Error("ask failed", "url", req.URL, "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, askResponse{Answer: answer})
}

func validateAsk(req *askRequest) error {
	if req.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be a valid http(s) URL")
	}
	if strings.TrimSpace(req.Query) == "" {
		return errors.New("query is required")
	}
	return nil
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.metrics == nil {
		respondJSON(w, observability.Stats{})
		return
	}
	respondJSON(w, s.metrics.Snapshot())
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

// corsMiddleware allows cross-origin requests. The browser extension
// posts from arbitrary page origins.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// recoverMiddleware turns handler panics into 500s so one bad request
// never takes down the process.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic", "path", r.URL.Path, "panic", rec)
				respondError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
