package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pageask/pageask/internal/observability"
	"github.com/pageask/pageask/internal/rag"
)

type fakeAsker struct {
	calls   int
	lastURL string
	answer  string
	err     error
	panics  bool
}

func (f *fakeAsker) Ask(ctx context.Context, url, query string) (string, error) {
	f.calls++
	f.lastURL = url
	if f.panics {
		panic("pipeline exploded")
	}
	return f.answer, f.err
}

func testServer(asker Asker) *Server {
	return NewServer(nil, asker, observability.NewServiceMetrics(), nil)
}

func postAsk(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)
	return w
}

func TestHandleAsk(t *testing.T) {
	asker := &fakeAsker{answer: "42"}
	s := testServer(asker)

	w := postAsk(t, s, `{"url": "https://example.com/page", "query": "what is the answer?"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp askResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Answer != "42" {
		t.Errorf("expected answer 42, got %q", resp.Answer)
	}
	if asker.lastURL != "https://example.com/page" {
		t.Errorf("unexpected url passed to pipeline: %s", asker.lastURL)
	}
}

func TestHandleAsk_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing url", `{"query": "q"}`},
		{"missing query", `{"url": "https://example.com"}`},
		{"blank query", `{"url": "https://example.com", "query": "   "}`},
		{"non-http url", `{"url": "ftp://example.com", "query": "q"}`},
		{"relative url", `{"url": "/page", "query": "q"}`},
		{"malformed body", `{"url": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asker := &fakeAsker{}
			s := testServer(asker)

			w := postAsk(t, s, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if asker.calls != 0 {
				t.Error("pipeline must not run for invalid input")
			}
			var resp errorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Error == "" {
				t.Errorf("expected JSON error body, got %s", w.Body.String())
			}
		})
	}
}

func TestHandleAsk_FetchFailure(t *testing.T) {
	asker := &fakeAsker{err: &rag.FetchFailedError{URL: "https://example.com", Err: errors.New("404")}}
	s := testServer(asker)

	w := postAsk(t, s, `{"url": "https://example.com", "query": "q"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("fetch failure should map to 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "failed to load page") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestHandleAsk_InternalError(t *testing.T) {
	asker := &fakeAsker{err: errors.New("embedding service down")}
	s := testServer(asker)

	w := postAsk(t, s, `{"url": "https://example.com", "query": "q"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestHandleAsk_MethodNotAllowed(t *testing.T) {
	s := testServer(&fakeAsker{})

	req := httptest.NewRequest(http.MethodGet, "/ask", nil)
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestHandleAsk_PanicRecovery(t *testing.T) {
	asker := &fakeAsker{panics: true}
	s := testServer(asker)

	w := postAsk(t, s, `{"url": "https://example.com", "query": "q"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", w.Code)
	}

	// The next request must still be served.
	asker.panics = false
	asker.answer = "fine now"
	w = postAsk(t, s, `{"url": "https://example.com", "query": "q"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected recovery on next request, got %d", w.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	s := testServer(&fakeAsker{answer: "ok"})

	req := httptest.NewRequest(http.MethodOptions, "/ask", nil)
	req.Header.Set("Origin", "https://some-page.example")
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected open CORS policy")
	}

	w = postAsk(t, s, `{"url": "https://example.com", "query": "q"}`)
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS header on actual requests too")
	}
}

func TestHandleStats(t *testing.T) {
	metrics := observability.NewServiceMetrics()
	metrics.AsksTotal.Inc()
	metrics.EmbedRetriesTotal.Inc()
	s := NewServer(nil, &fakeAsker{}, metrics, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats observability.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("bad stats body: %v", err)
	}
	if stats.Asks != 1 || stats.EmbedRetries != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := observability.NewServiceMetrics()
	metrics.AsksTotal.Inc()
	s := NewServer(nil, &fakeAsker{}, metrics, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "pageask_asks_total") {
		t.Error("expected Prometheus metrics output")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ListenAddr != "127.0.0.1:8000" {
		t.Errorf("unexpected listen addr: %s", cfg.ListenAddr)
	}
}
