// Package interfaces defines core domain contracts.
//
//nolint:revive // Package name 'interfaces' is intentional for domain layer
package interfaces

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// Logger defines the interface for structured logging
type Logger interface {
	// Debug logs debug-level messages
	Debug(msg string, fields ...Field)

	// Info logs informational messages
	Info(msg string, fields ...Field)

	// Warn logs warning messages
	Warn(msg string, fields ...Field)

	// Error logs error messages
	Error(msg string, fields ...Field)
}

// Field represents a structured log field
type Field struct {
	Key   string
	Value interface{}
}

// F creates a new Field (convenience function)
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// NoOpLogger is a logger that does nothing (useful for tests)
type NoOpLogger struct{}

// Debug does nothing (no-op implementation)
func (n *NoOpLogger) Debug(_ string, _ ...Field) {}

// Info does nothing (no-op implementation)
func (n *NoOpLogger) Info(_ string, _ ...Field) {}

// Warn does nothing (no-op implementation)
func (n *NoOpLogger) Warn(_ string, _ ...Field) {}

// Error does nothing (no-op implementation)
func (n *NoOpLogger) Error(_ string, _ ...Field) {}

// SlogLogger adapts Logger onto log/slog with secret redaction
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a text logger writing to w
func NewSlogLogger(w io.Writer, level slog.Level) *SlogLogger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactAttr,
	})
	return &SlogLogger{logger: slog.New(handler)}
}

// With returns a logger that adds fields to every record
func (s *SlogLogger) With(fields ...Field) *SlogLogger {
	return &SlogLogger{logger: s.logger.With(toArgs(fields)...)}
}

// Debug logs debug-level messages
func (s *SlogLogger) Debug(msg string, fields ...Field) {
	s.logger.Log(context.Background(), slog.LevelDebug, msg, toArgs(fields)...)
}

// Info logs informational messages
func (s *SlogLogger) Info(msg string, fields ...Field) {
	s.logger.Log(context.Background(), slog.LevelInfo, msg, toArgs(fields)...)
}

// Warn logs warning messages
func (s *SlogLogger) Warn(msg string, fields ...Field) {
	s.logger.Log(context.Background(), slog.LevelWarn, msg, toArgs(fields)...)
}

// Error logs error messages
func (s *SlogLogger) Error(msg string, fields ...Field) {
	s.logger.Log(context.Background(), slog.LevelError, msg, toArgs(fields)...)
}

func toArgs(fields []Field) []any {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, slog.Any(f.Key, f.Value))
	}
	return args
}

var redactedKeys = []string{"secret", "password", "token", "passphrase"}

// redactAttr masks attributes whose key looks like it carries a secret
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, k := range redactedKeys {
		if strings.Contains(key, k) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}
