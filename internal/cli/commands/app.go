package commands

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/conduit-lang/jsonapi-server/internal/cli/config"
	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store/memory"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store/sqlstore"
	"github.com/conduit-lang/jsonapi-server/internal/web/controller"
	"github.com/conduit-lang/jsonapi-server/internal/web/middleware"
	"github.com/conduit-lang/jsonapi-server/internal/web/query"
	"github.com/conduit-lang/jsonapi-server/internal/web/ratelimit"
	"github.com/conduit-lang/jsonapi-server/internal/web/router"
)

// buildRouter registers the routes of every resource type in reg
func buildRouter(cfg *config.Config, reg *schema.Registry, st store.Store) (*router.Router, error) {
	c, err := controller.New(reg, st, cfg.Server.PublicURL(), controller.Options{
		Query: query.Options{
			DefaultPageSize:  cfg.API.DefaultPageSize,
			MaxPageSize:      cfg.API.MaxPageSize,
			MaxIncludeDepth:  cfg.API.MaxIncludeDepth,
			RelationshipData: cfg.API.RelationshipData,
		},
		AllowClientIDs: cfg.API.AllowClientIDs,
		MaxBodyBytes:   cfg.API.MaxBodyBytes,
	})
	if err != nil {
		return nil, err
	}

	r := router.NewRouter(cfg.Server.APIPrefix)
	if err := c.Register(r); err != nil {
		return nil, err
	}
	return r, nil
}

// buildHandler wraps the router in the middleware stack. limiter may be nil.
func buildHandler(cfg *config.Config, reg *schema.Registry, st store.Store, limiter ratelimit.Limiter, log *zap.Logger) (http.Handler, error) {
	r, err := buildRouter(cfg, reg, st)
	if err != nil {
		return nil, err
	}

	chain := middleware.NewChain(
		middleware.RequestIDWithLogger(log),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.ContentNegotiation(),
	)
	if limiter != nil {
		chain.Use(middleware.RateLimit(limiter))
	}
	return chain.Then(r), nil
}

// openStore opens the store the database config selects. The returned function
// releases it.
func openStore(ctx context.Context, db config.DatabaseConfig, reg *schema.Registry) (store.Store, func() error, error) {
	if db.Driver == "memory" {
		return memory.New(reg), func() error { return nil }, nil
	}

	st, err := sqlstore.Open(ctx, db.Driver, db.URL, reg)
	if err != nil {
		return nil, nil, err
	}
	return st, st.Close, nil
}

// openLimiter builds the configured rate limiter, or nil when rate limiting is off
func openLimiter(cfg config.RateLimitConfig) (ratelimit.Limiter, func() error, error) {
	if !cfg.Enabled {
		return nil, func() error { return nil }, nil
	}

	limiter, closer, err := ratelimit.New(ratelimit.Config{
		Requests: cfg.Requests,
		Window:   cfg.Window,
		RedisURL: cfg.RedisURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}
	return limiter, closer.Close, nil
}
