package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// MetricsRegistry holds all registered metrics.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name  string
	help  string
	value float64
	mu    sync.Mutex
}

// Gauge is a metric that can go up or down.
type Gauge struct {
	name  string
	help  string
	value float64
	mu    sync.Mutex
}

// Histogram tracks distribution of values.
type Histogram struct {
	name    string
	help    string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
	mu      sync.Mutex
}

// NewMetricsRegistry creates a new metrics registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		histos:   make(map[string]*Histogram),
	}
}

// NewCounter creates and registers a counter.
func (r *MetricsRegistry) NewCounter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

// NewGauge creates and registers a gauge.
func (r *MetricsRegistry) NewGauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := &Gauge{name: name, help: help}
	r.gauges[name] = g
	return g
}

// NewHistogram creates and registers a histogram.
func (r *MetricsRegistry) NewHistogram(name, help string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if buckets == nil {
		buckets = DefaultBuckets()
	}

	h := &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.histos[name] = h
	return h
}

// DefaultBuckets returns default histogram buckets for latency.
func DefaultBuckets() []float64 {
	return []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
}

// Inc increments a counter by 1.
func (c *Counter) Inc() {
	c.Add(1)
}

// Add adds a value to the counter.
func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.value += v
	c.mu.Unlock()
}

// Value returns the counter value.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set sets the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.Add(-1)
}

// Add adds a value to the gauge.
func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

// Value returns the gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
		}
	}
}

// ObserveDuration records a duration in the histogram.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler returns an HTTP handler serving Prometheus text format.
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WritePrometheus(w)
	})
}

// WritePrometheus writes metrics in Prometheus text format.
func (r *MetricsRegistry) WritePrometheus(w http.ResponseWriter) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.counters {
		c.mu.Lock()
		writeMetric(w, c.name, "counter", c.help, c.value)
		c.mu.Unlock()
	}

	for _, g := range r.gauges {
		g.mu.Lock()
		writeMetric(w, g.name, "gauge", g.help, g.value)
		g.mu.Unlock()
	}

	for _, h := range r.histos {
		h.mu.Lock()
		writeHistogram(w, h)
		h.mu.Unlock()
	}
}

func writeMetric(w http.ResponseWriter, name, metricType, help string, value float64) {
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " " + metricType + "\n"))
	w.Write([]byte(name + " " + formatFloat(value) + "\n"))
}

func writeHistogram(w http.ResponseWriter, h *Histogram) {
	w.Write([]byte("# HELP " + h.name + " " + h.help + "\n"))
	w.Write([]byte("# TYPE " + h.name + " histogram\n"))

	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += h.counts[i]
		w.Write([]byte(h.name + `_bucket{le="` + formatFloat(bound) + `"} `))
		w.Write([]byte(strconv.FormatUint(cumulative, 10) + "\n"))
	}
	w.Write([]byte(h.name + `_bucket{le="+Inf"} ` + strconv.FormatUint(h.count, 10) + "\n"))
	w.Write([]byte(h.name + "_sum " + formatFloat(h.sum) + "\n"))
	w.Write([]byte(h.name + "_count " + strconv.FormatUint(h.count, 10) + "\n"))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ServiceMetrics contains the service's metrics.
type ServiceMetrics struct {
	Registry *MetricsRegistry

	// Request metrics
	AsksTotal       *Counter
	AskErrorsTotal  *Counter
	AskDuration     *Histogram
	ActiveRequests  *Gauge
	EmptyPagesTotal *Counter

	// Embedding resilience metrics
	EmbedRetriesTotal        *Counter
	EmbedQuotaFallbacksTotal *Counter
	EmbedOtherFallbacksTotal *Counter

	// Generation metrics
	LLMRequestsTotal *Counter
	LLMErrorsTotal   *Counter
	LLMDuration      *Histogram
}

// NewServiceMetrics creates the service metric set.
func NewServiceMetrics() *ServiceMetrics {
	r := NewMetricsRegistry()

	return &ServiceMetrics{
		Registry: r,

		AsksTotal:       r.NewCounter("pageask_asks_total", "Total ask requests"),
		AskErrorsTotal:  r.NewCounter("pageask_ask_errors_total", "Total failed ask requests"),
		AskDuration:     r.NewHistogram("pageask_ask_duration_seconds", "Ask request duration", nil),
		ActiveRequests:  r.NewGauge("pageask_active_requests", "Ask requests in flight"),
		EmptyPagesTotal: r.NewCounter("pageask_empty_pages_total", "Pages with no extractable text"),

		EmbedRetriesTotal:        r.NewCounter("pageask_embed_retries_total", "Embedding retries after quota errors"),
		EmbedQuotaFallbacksTotal: r.NewCounter("pageask_embed_quota_fallbacks_total", "Zero-vector fallbacks after quota exhaustion"),
		EmbedOtherFallbacksTotal: r.NewCounter("pageask_embed_other_fallbacks_total", "Zero-vector fallbacks for non-quota failures"),

		LLMRequestsTotal: r.NewCounter("pageask_llm_requests_total", "Total generation API requests"),
		LLMErrorsTotal:   r.NewCounter("pageask_llm_errors_total", "Total generation API errors"),
		LLMDuration:      r.NewHistogram("pageask_llm_duration_seconds", "Generation request duration", nil),
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *ServiceMetrics) Handler() http.Handler {
	return m.Registry.Handler()
}

// RecordAsk records one completed ask request.
func (m *ServiceMetrics) RecordAsk(duration time.Duration, err error) {
	m.AsksTotal.Inc()
	m.AskDuration.Observe(duration.Seconds())
	if err != nil {
		m.AskErrorsTotal.Inc()
	}
}

// RecordLLMRequest records one generation call.
func (m *ServiceMetrics) RecordLLMRequest(duration time.Duration, err error) {
	m.LLMRequestsTotal.Inc()
	m.LLMDuration.Observe(duration.Seconds())
	if err != nil {
		m.LLMErrorsTotal.Inc()
	}
}

// Stats is a point-in-time snapshot served by the API.
type Stats struct {
	Asks                int64 `json:"asks"`
	AskErrors           int64 `json:"ask_errors"`
	EmptyPages          int64 `json:"empty_pages"`
	EmbedRetries        int64 `json:"embed_retries"`
	EmbedQuotaFallbacks int64 `json:"embed_quota_fallbacks"`
	EmbedOtherFallbacks int64 `json:"embed_other_fallbacks"`
	LLMRequests         int64 `json:"llm_requests"`
	LLMErrors           int64 `json:"llm_errors"`
}

// Snapshot returns current counter values.
func (m *ServiceMetrics) Snapshot() Stats {
	return Stats{
		Asks:                int64(m.AsksTotal.Value()),
		AskErrors:           int64(m.AskErrorsTotal.Value()),
		EmptyPages:          int64(m.EmptyPagesTotal.Value()),
		EmbedRetries:        int64(m.EmbedRetriesTotal.Value()),
		EmbedQuotaFallbacks: int64(m.EmbedQuotaFallbacksTotal.Value()),
		EmbedOtherFallbacks: int64(m.EmbedOtherFallbacksTotal.Value()),
		LLMRequests:         int64(m.LLMRequestsTotal.Value()),
		LLMErrors:           int64(m.LLMErrorsTotal.Value()),
	}
}
