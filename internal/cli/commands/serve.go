package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/jsonapi-server/internal/logger"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store/sqlstore"
	"github.com/conduit-lang/jsonapi-server/internal/web/server"
)

// NewServeCommand creates the serve command
func NewServeCommand(flags *globalFlags) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON:API endpoints",
		Long: `Serve every resource type of the schema file until SIGINT or SIGTERM.

In-flight requests are drained before the database connection is closed.
Use --migrate to create missing tables first, e.g. for an in-memory SQLite database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, flags, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Create missing tables before serving")

	return cmd
}

func runServe(ctx context.Context, flags *globalFlags, migrate bool) error {
	cfg, reg, err := loadEnvironment(flags)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	st, closeStore, err := openStore(ctx, cfg.Database, reg)
	if err != nil {
		return err
	}

	if sqlStore, ok := st.(*sqlstore.Store); ok && migrate {
		stmts, err := sqlStore.Migrate(ctx)
		if err != nil {
			closeStore()
			return fmt.Errorf("migration failed: %w", err)
		}
		log.Info("schema migrated", zap.Int("statements", len(stmts)))
	}

	limiter, closeLimiter, err := openLimiter(cfg.RateLimit)
	if err != nil {
		closeStore()
		return err
	}

	handler, err := buildHandler(cfg, reg, st, limiter, log)
	if err != nil {
		closeLimiter()
		closeStore()
		return err
	}

	srvCfg := server.DefaultConfig(cfg.Server.Address(), handler)
	srvCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	srvCfg.Logger = log
	srv, err := server.New(srvCfg)
	if err != nil {
		closeLimiter()
		closeStore()
		return err
	}
	if err := srv.Listen(); err != nil {
		closeLimiter()
		closeStore()
		return err
	}
	srv.RegisterHook(func(context.Context) error { return closeLimiter() })
	srv.RegisterHook(func(context.Context) error { return closeStore() })

	log.Info("serving JSON:API",
		zap.String("address", srv.Addr()),
		zap.String("base_url", cfg.Server.PublicURL()),
		zap.String("database", cfg.Database.Driver),
		zap.Int("resource_types", reg.Count()),
		zap.Bool("rate_limit", limiter != nil),
	)
	return srv.Run(ctx)
}
