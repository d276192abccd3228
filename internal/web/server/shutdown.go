package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ShutdownHook is a function called after the HTTP server stopped accepting requests
type ShutdownHook func(ctx context.Context) error

// RegisterHook registers a shutdown hook. Hooks run in registration order.
func (s *Server) RegisterHook(hook ShutdownHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Shutdown stops accepting requests, waits for in-flight requests and then runs the
// shutdown hooks. Hooks run even when draining requests failed; the first error is
// returned.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("server shutdown error: %w", err)
		s.logger.Error("server shutdown failed", zap.Error(err))
	}

	s.mu.Lock()
	hooks := make([]ShutdownHook, len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	for i, hook := range hooks {
		if err := hook(ctx); err != nil {
			s.logger.Error("shutdown hook failed", zap.Int("hook", i), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("shutdown hook %d: %w", i, err)
			}
		}
	}

	if firstErr == nil {
		s.logger.Info("server shutdown completed")
	}
	return firstErr
}
