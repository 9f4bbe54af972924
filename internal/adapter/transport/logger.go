package transport

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Logger provides structured logging for outbound service calls.
type Logger interface {
	// LogRequest logs an outgoing service request (API key redacted)
	LogRequest(ctx context.Context, req RequestLog)

	// LogResponse logs a service response with timing and usage info
	LogResponse(ctx context.Context, resp ResponseLog)

	// LogError logs a service call failure
	LogError(ctx context.Context, err ErrorLog)

	// LogInfo logs a general progress event
	LogInfo(ctx context.Context, msg string, fields map[string]interface{})

	// LogWarning logs a degradation that did not fail the operation
	LogWarning(ctx context.Context, msg string, fields map[string]interface{})
}

// RequestLog contains request information for logging.
type RequestLog struct {
	Service      string
	Model        string // empty for non-model services
	Timestamp    time.Time
	PayloadBytes int
	APIKey       string // redacted to last 4 chars
}

// ResponseLog contains response information for logging.
type ResponseLog struct {
	Service    string
	Model      string
	Timestamp  time.Time
	Duration   time.Duration
	TokensIn   int
	TokensOut  int
	Cost       float64
	StatusCode int
	StopReason string
}

// ErrorLog contains error information for logging.
type ErrorLog struct {
	Service    string
	Model      string
	Timestamp  time.Time
	Duration   time.Duration
	Error      error
	ErrorType  ErrorType
	StatusCode int
	Retryable  bool
}

// LogLevel defines the logging verbosity level.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelError
)

// LogFormat defines the output format for logs.
type LogFormat int

const (
	LogFormatHuman LogFormat = iota
	LogFormatJSON
)

// DefaultLogger writes logs in structured format to stderr via the
// standard logger.
type DefaultLogger struct {
	level      LogLevel
	redactKeys bool
	format     LogFormat
}

// NewDefaultLogger creates a logger with the specified config.
func NewDefaultLogger(level LogLevel, format LogFormat, redactKeys bool) *DefaultLogger {
	return &DefaultLogger{
		level:      level,
		redactKeys: redactKeys,
		format:     format,
	}
}

// SetRedaction enables or disables API key redaction.
func (l *DefaultLogger) SetRedaction(enabled bool) {
	l.redactKeys = enabled
}

// LogRequest logs a service request.
func (l *DefaultLogger) LogRequest(ctx context.Context, req RequestLog) {
	if l.level > LogLevelDebug {
		return
	}

	redacted := l.RedactAPIKey(req.APIKey)

	if l.format == LogFormatJSON {
		log.Printf(`{"level":"debug","type":"request","service":"%s","model":"%s","timestamp":"%s","payload_bytes":%d,"api_key":"%s"}`,
			req.Service, req.Model, req.Timestamp.Format(time.RFC3339),
			req.PayloadBytes, redacted)
	} else {
		log.Printf("[DEBUG] %s/%s: Request sent (payload=%d bytes, key=%s)",
			req.Service, req.Model, req.PayloadBytes, redacted)
	}
}

// LogResponse logs a service response.
func (l *DefaultLogger) LogResponse(ctx context.Context, resp ResponseLog) {
	if l.level > LogLevelInfo {
		return
	}

	if l.format == LogFormatJSON {
		log.Printf(`{"level":"info","type":"response","service":"%s","model":"%s","timestamp":"%s","duration_ms":%d,"tokens_in":%d,"tokens_out":%d,"cost":%.6f,"status_code":%d,"stop_reason":"%s"}`,
			resp.Service, resp.Model, resp.Timestamp.Format(time.RFC3339),
			resp.Duration.Milliseconds(), resp.TokensIn, resp.TokensOut,
			resp.Cost, resp.StatusCode, resp.StopReason)
	} else {
		log.Printf("[INFO] %s/%s: Response received (duration=%.1fs, tokens=%d/%d, cost=$%.4f)",
			resp.Service, resp.Model, resp.Duration.Seconds(),
			resp.TokensIn, resp.TokensOut, resp.Cost)
	}
}

// LogError logs a service call failure.
func (l *DefaultLogger) LogError(ctx context.Context, err ErrorLog) {
	if l.level > LogLevelError {
		return
	}

	retryableStr := "non-retryable"
	if err.Retryable {
		retryableStr = "retryable"
	}

	if l.format == LogFormatJSON {
		log.Printf(`{"level":"error","type":"error","service":"%s","model":"%s","timestamp":"%s","duration_ms":%d,"error":"%s","error_type":%d,"status_code":%d,"retryable":%t}`,
			err.Service, err.Model, err.Timestamp.Format(time.RFC3339),
			err.Duration.Milliseconds(), err.Error.Error(), err.ErrorType,
			err.StatusCode, err.Retryable)
	} else {
		log.Printf("[ERROR] %s/%s: call failed (status=%d, %s): %v",
			err.Service, err.Model, err.StatusCode, retryableStr, err.Error)
	}
}

// LogInfo logs a general progress event.
func (l *DefaultLogger) LogInfo(ctx context.Context, msg string, fields map[string]interface{}) {
	if l.level > LogLevelInfo {
		return
	}
	log.Printf("[INFO] %s%s", msg, formatFields(fields))
}

// LogWarning logs a degradation event.
func (l *DefaultLogger) LogWarning(ctx context.Context, msg string, fields map[string]interface{}) {
	if l.level > LogLevelError {
		return
	}
	log.Printf("[WARN] %s%s", msg, formatFields(fields))
}

func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	out := ""
	for k, v := range fields {
		out += fmt.Sprintf(" %s=%v", k, v)
	}
	return out
}

// RedactAPIKey shows only the last 4 characters of an API key with explicit redaction markers.
func (l *DefaultLogger) RedactAPIKey(key string) string {
	if !l.redactKeys {
		return key
	}
	if len(key) <= 4 {
		return "[REDACTED]"
	}
	return fmt.Sprintf("[REDACTED-%s]", key[len(key)-4:])
}
