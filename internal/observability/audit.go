package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventAskStart      AuditEventType = "ask.start"
	AuditEventAskComplete   AuditEventType = "ask.complete"
	AuditEventAskError      AuditEventType = "ask.error"
	AuditEventLLMRequest    AuditEventType = "llm.request"
	AuditEventLLMResponse   AuditEventType = "llm.response"
	AuditEventLLMError      AuditEventType = "llm.error"
	AuditEventEmbedFallback AuditEventType = "embed.fallback"
	AuditEventPageFetch     AuditEventType = "page.fetch"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	EventType   AuditEventType         `json:"event_type"`
	SessionID   string                 `json:"session_id"`
	RequestID   string                 `json:"request_id,omitempty"`
	Success     bool                   `json:"success"`
	Duration    time.Duration          `json:"duration_ms,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	ErrorDetail string                 `json:"error_detail,omitempty"`
}

// AuditLogger writes one JSON event per line.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // File path or "stdout"/"stderr"
	SessionID  string
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}

	return &AuditLogger{
		writer:    writer,
		sessionID: sessionID,
		enabled:   config.Enabled,
	}, nil
}

// Log writes an audit event.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogAskStart logs the start of an ask request.
func (l *AuditLogger) LogAskStart(ctx context.Context, requestID, url string) {
	l.Log(&AuditEvent{
		EventType: AuditEventAskStart,
		RequestID: requestID,
		Success:   true,
		Message:   fmt.Sprintf("Ask started for %s", url),
		Details: map[string]interface{}{
			"url": url,
		},
	})
}

// LogAskComplete logs a successful ask request.
func (l *AuditLogger) LogAskComplete(ctx context.Context, requestID string, duration time.Duration, chunks int) {
	l.Log(&AuditEvent{
		EventType: AuditEventAskComplete,
		RequestID: requestID,
		Success:   true,
		Duration:  duration,
		Message:   "Ask completed",
		Details: map[string]interface{}{
			"chunks_indexed": chunks,
		},
	})
}

// LogAskError logs a failed ask request.
func (l *AuditLogger) LogAskError(ctx context.Context, requestID string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventAskError,
		RequestID:   requestID,
		Success:     false,
		Message:     "Ask failed",
		ErrorDetail: err.Error(),
	})
}

// LogLLMRequest logs an LLM request event.
func (l *AuditLogger) LogLLMRequest(ctx context.Context, provider, model string) {
	l.Log(&AuditEvent{
		EventType: AuditEventLLMRequest,
		Success:   true,
		Message:   fmt.Sprintf("LLM request to %s/%s", provider, model),
		Details: map[string]interface{}{
			"provider": provider,
			"model":    model,
		},
	})
}

// LogLLMResponse logs an LLM response event.
func (l *AuditLogger) LogLLMResponse(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int) {
	l.Log(&AuditEvent{
		EventType: AuditEventLLMResponse,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("LLM response from %s/%s", provider, model),
		Details: map[string]interface{}{
			"provider":      provider,
			"model":         model,
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
			"total_tokens":  inputTokens + outputTokens,
		},
	})
}

// LogLLMError logs an LLM error event.
func (l *AuditLogger) LogLLMError(ctx context.Context, provider, model string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventLLMError,
		Success:     false,
		Message:     fmt.Sprintf("LLM error from %s/%s", provider, model),
		ErrorDetail: err.Error(),
		Details: map[string]interface{}{
			"provider": provider,
			"model":    model,
		},
	})
}

// LogEmbedFallback logs a zero-vector fallback.
func (l *AuditLogger) LogEmbedFallback(ctx context.Context, requestID, reason string) {
	l.Log(&AuditEvent{
		EventType: AuditEventEmbedFallback,
		RequestID: requestID,
		Success:   false,
		Message:   "Embedding fell back to zero vector",
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

// LogPageFetch logs a page fetch event.
func (l *AuditLogger) LogPageFetch(ctx context.Context, requestID, url string, size int, duration time.Duration, err error) {
	event := &AuditEvent{
		EventType: AuditEventPageFetch,
		RequestID: requestID,
		Success:   err == nil,
		Duration:  duration,
		Message:   fmt.Sprintf("Fetched %s", url),
		Details: map[string]interface{}{
			"url":  url,
			"size": size,
		},
	}
	if err != nil {
		event.Message = fmt.Sprintf("Fetch failed for %s", url)
		event.ErrorDetail = err.Error()
	}
	l.Log(event)
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}

// Global audit logger instance
var globalAuditLogger *AuditLogger
var auditOnce sync.Once

// InitGlobalAuditLogger initializes the global audit logger.
func InitGlobalAuditLogger(config *AuditConfig) error {
	var err error
	auditOnce.Do(func() {
		globalAuditLogger, err = NewAuditLogger(config)
	})
	return err
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	if globalAuditLogger == nil {
		// Return a disabled logger if not initialized
		return &AuditLogger{enabled: false}
	}
	return globalAuditLogger
}
