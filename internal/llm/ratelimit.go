package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimitConfig configures client-side request pacing. Keeping under the
// provider's request quota up front means the embedder's 429 handling is a
// backstop, not the steady state.
type RateLimitConfig struct {
	// RequestsPerMinute limits the number of API calls per minute (0 = unlimited)
	RequestsPerMinute int
	// BurstSize allows temporary burst above the rate limit
	BurstSize int
}

// DefaultRateLimitConfig returns defaults tuned for free-tier quotas,
// where the original deployment lived.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 25,
		BurstSize:         3,
	}
}

// RateLimitProvider is a token-bucket pacer in front of a provider. Both
// completion and embedding calls draw from the same bucket, since the
// upstream quota is shared.
type RateLimitProvider struct {
	inner  Provider
	config *RateLimitConfig

	mu            sync.Mutex
	requestTokens int
	lastRefill    time.Time
}

// NewRateLimitProvider creates a rate-limited provider wrapper.
func NewRateLimitProvider(inner Provider, config *RateLimitConfig) *RateLimitProvider {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	p := &RateLimitProvider{
		inner:      inner,
		config:     config,
		lastRefill: time.Now(),
	}
	p.requestTokens = p.burst()
	return p
}

// Name returns the underlying provider name.
func (r *RateLimitProvider) Name() string {
	return r.inner.Name()
}

// Complete paces and delegates to the inner provider.
func (r *RateLimitProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	return r.inner.Complete(ctx, prompt, opts)
}

// Embed paces and delegates to the inner provider.
func (r *RateLimitProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, texts)
}

// acquire blocks until a token is available or the context ends.
func (r *RateLimitProvider) acquire(ctx context.Context) error {
	for {
		if r.tryTake() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.tokenInterval()):
		}
	}
}

// tryTake refills the bucket from elapsed time and takes one token if
// available.
func (r *RateLimitProvider) tryTake() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.config.RequestsPerMinute <= 0 {
		return true
	}

	now := time.Now()
	earned := int(now.Sub(r.lastRefill).Minutes() * float64(r.config.RequestsPerMinute))
	if earned > 0 {
		r.requestTokens = min(r.requestTokens+earned, r.burst())
		r.lastRefill = now
	}

	if r.requestTokens > 0 {
		r.requestTokens--
		return true
	}
	return false
}

// tokenInterval is the time between token arrivals at the configured rate.
func (r *RateLimitProvider) tokenInterval() time.Duration {
	rpm := r.config.RequestsPerMinute
	if rpm <= 0 {
		return 100 * time.Millisecond
	}
	return time.Minute / time.Duration(rpm)
}

func (r *RateLimitProvider) burst() int {
	if r.config.BurstSize <= 0 {
		return 1
	}
	return r.config.BurstSize
}

// WithRateLimit wraps a provider with rate limiting.
func WithRateLimit(p Provider, config *RateLimitConfig) Provider {
	if p == nil {
		return nil
	}
	return NewRateLimitProvider(p, config)
}
