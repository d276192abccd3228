package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/conduit-lang/jsonapi-server/internal/apierr"
	"github.com/conduit-lang/jsonapi-server/internal/logger"
	"github.com/conduit-lang/jsonapi-server/internal/web/response"
)

// RecoveryConfig holds configuration for the recovery middleware
type RecoveryConfig struct {
	// EnableStackTrace determines whether to log stack traces
	EnableStackTrace bool
	// ResponseHandler is an optional custom response handler
	ResponseHandler func(http.ResponseWriter, *http.Request, interface{})
}

// DefaultRecoveryConfig returns the default recovery configuration
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		EnableStackTrace: true,
		ResponseHandler:  defaultRecoveryResponse,
	}
}

// Recovery creates a middleware that recovers from panics
func Recovery() Middleware {
	return RecoveryWithConfig(DefaultRecoveryConfig())
}

// RecoveryWithConfig creates a recovery middleware with custom configuration. Panics
// are logged with the request logger.
func RecoveryWithConfig(config RecoveryConfig) Middleware {
	if config.ResponseHandler == nil {
		config.ResponseHandler = defaultRecoveryResponse
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// net/http uses this panic to abort a response on purpose
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				fields := []zap.Field{
					zap.Error(panicError(rec)),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				}
				if config.EnableStackTrace {
					fields = append(fields, zap.ByteString("stack", debug.Stack()))
				}
				logger.FromContext(r.Context()).Error("panic recovered", fields...)

				config.ResponseHandler(w, r, rec)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// defaultRecoveryResponse sends an internal error document. The panic value is not
// exposed to the client.
func defaultRecoveryResponse(w http.ResponseWriter, r *http.Request, rec interface{}) {
	response.RenderError(w, apierr.Internal(panicError(rec)))
}

// panicError converts a recovered value into an error
func panicError(rec interface{}) error {
	if err, ok := rec.(error); ok {
		return err
	}
	if s, ok := rec.(string); ok {
		return errors.New(s)
	}
	return fmt.Errorf("panic: %v", rec)
}
