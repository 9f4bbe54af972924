// Package observability bridges the transport logger to the usecase
// logging interfaces so the pipelines share one structured logging
// backend with the HTTP clients.
package observability

import (
	"context"

	"github.com/bkyoung/mnemosyne/internal/adapter/transport"
)

// PipelineLogger adapts transport.Logger to the Info/Warn interface
// the retrieval, detection, and ingestion usecases declare.
type PipelineLogger struct {
	logger transport.Logger
}

// NewPipelineLogger creates a pipeline logger adapter.
func NewPipelineLogger(logger transport.Logger) *PipelineLogger {
	return &PipelineLogger{logger: logger}
}

// Info logs an informational message with structured fields.
func (l *PipelineLogger) Info(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logger.LogInfo(ctx, msg, fields)
}

// Warn logs a degradation with structured fields.
func (l *PipelineLogger) Warn(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logger.LogWarning(ctx, msg, fields)
}
