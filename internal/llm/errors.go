package llm

import (
	"errors"
	"fmt"
	"strings"
)

// Failure tags an embedding error for the retry/fallback decision.
type Failure int

const (
	// FailureOther is any embedding error that retrying will not fix.
	FailureOther Failure = iota
	// FailureQuota is a rate-limit / quota-exhaustion signal that may
	// clear after a wait.
	FailureQuota
)

// QuotaError is returned by providers when the service signals quota
// exhaustion (HTTP 429). It unwraps to the underlying response error.
type QuotaError struct {
	Provider string
	Err      error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: quota exhausted: %v", e.Provider, e.Err)
}

func (e *QuotaError) Unwrap() error { return e.Err }

// ClassifyEmbedFailure decides whether an embedding error is a transient
// quota signal or a permanent failure. Typed quota errors win; the string
// checks remain for wrapped and foreign errors.
func ClassifyEmbedFailure(err error) Failure {
	if err == nil {
		return FailureOther
	}

	var qe *QuotaError
	if errors.As(err, &qe) {
		return FailureQuota
	}

	msg := err.Error()
	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "Too Many Requests") ||
		strings.Contains(strings.ToLower(msg), "quota") ||
		strings.Contains(strings.ToLower(msg), "rate limit") {
		return FailureQuota
	}

	return FailureOther
}

// ZeroVector returns the fallback embedding for a chunk whose real
// embedding could not be obtained. It indexes without error and never
// ranks above genuine matches under cosine or dot-product similarity.
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}
