package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/jsonapi-server/internal/logger"
)

// LoggingConfig holds configuration for the logging middleware
type LoggingConfig struct {
	// Logger is an optional custom logger function
	Logger func(*http.Request, LogEntry)
	// SkipPaths is a list of paths to skip logging
	SkipPaths []string
}

// LogEntry represents a log entry for a request
type LogEntry struct {
	RequestID    string
	Method       string
	Path         string
	Query        string
	StatusCode   int
	Duration     time.Duration
	BytesWritten int
	RemoteAddr   string
	UserAgent    string
}

// DefaultLoggingConfig returns the default logging configuration
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Logger:    zapAccessLog,
		SkipPaths: []string{},
	}
}

// Logging creates a logging middleware with default configuration
func Logging() Middleware {
	return LoggingWithConfig(DefaultLoggingConfig())
}

// LoggingWithConfig creates a logging middleware with custom configuration
func LoggingWithConfig(config LoggingConfig) Middleware {
	skip := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			if config.Logger != nil {
				config.Logger(r, LogEntry{
					RequestID:    GetRequestID(r.Context()),
					Method:       r.Method,
					Path:         r.URL.Path,
					Query:        r.URL.RawQuery,
					StatusCode:   rw.statusCode,
					Duration:     time.Since(start),
					BytesWritten: rw.bytesWritten,
					RemoteAddr:   r.RemoteAddr,
					UserAgent:    r.UserAgent(),
				})
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and bytes written
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	wroteHeader  bool
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
		rw.ResponseWriter.WriteHeader(statusCode)
	}
}

// Write captures bytes written
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// Unwrap exposes the wrapped writer to http.ResponseController
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// zapAccessLog writes one line per request with the request logger. Server errors
// are logged at error level, client errors at warn level.
func zapAccessLog(r *http.Request, entry LogEntry) {
	fields := []zap.Field{
		zap.String("method", entry.Method),
		zap.String("path", entry.Path),
		zap.Int("status", entry.StatusCode),
		zap.Duration("duration", entry.Duration),
		zap.Int("bytes", entry.BytesWritten),
		zap.String("remote_addr", entry.RemoteAddr),
	}
	if entry.Query != "" {
		fields = append(fields, zap.String("query", entry.Query))
	}
	if entry.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", entry.UserAgent))
	}

	l := logger.FromContext(r.Context())
	switch {
	case entry.StatusCode >= 500:
		l.Error("request", fields...)
	case entry.StatusCode >= 400:
		l.Warn("request", fields...)
	default:
		l.Info("request", fields...)
	}
}
