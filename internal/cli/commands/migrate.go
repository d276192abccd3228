package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/jsonapi-server/internal/cli/ui"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store/sqlstore"
)

// categorizeDatabaseError returns a user-friendly error message based on the database error
// In verbose mode, it returns the full error; otherwise, it returns a categorized message
func categorizeDatabaseError(err error, verbose bool) string {
	if verbose {
		return err.Error()
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "syntax"):
		return "SQL syntax error - use --verbose for details"
	case strings.Contains(errStr, "circular"):
		return "to-one relationships form a cycle - tables cannot be created in dependency order"
	case strings.Contains(errStr, "connect") || strings.Contains(errStr, "refused"):
		return "database is unreachable - check database.url"
	case strings.Contains(errStr, "permission denied") || strings.Contains(errStr, "access denied"):
		return "permission denied - check database user privileges"
	}
	return "migration failed - use --verbose for details"
}

// NewMigrateCommand creates the migrate command
func NewMigrateCommand(flags *globalFlags) *cobra.Command {
	var dryRun, verbose, noColor bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables of every resource type",
		Long: `Create the table of every resource type that does not exist yet.

Tables are created in dependency order, in a single transaction. Existing tables
are left untouched. Use --dry-run to print the statements without connecting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, flags, dryRun, verbose, noColor)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the statements without executing them")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed error messages")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runMigrate(cmd *cobra.Command, flags *globalFlags, dryRun, verbose, noColor bool) error {
	out := cmd.OutOrStdout()

	cfg, reg, err := loadEnvironment(flags)
	if err != nil {
		return err
	}
	if cfg.Database.Driver == "memory" {
		return fmt.Errorf("the memory driver keeps no tables, set database.driver to postgres or sqlite")
	}

	dialect, err := sqlstore.DialectFor(cfg.Database.Driver)
	if err != nil {
		return err
	}

	if dryRun {
		stmts, err := sqlstore.Statements(dialect, reg)
		if err != nil {
			return fmt.Errorf("%s", categorizeDatabaseError(err, verbose))
		}
		for _, stmt := range stmts {
			fmt.Fprintf(out, "%s;\n\n", stmt)
		}
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.URL, reg)
	if err != nil {
		return fmt.Errorf("%s", categorizeDatabaseError(err, verbose))
	}
	defer st.Close()

	stmts, err := st.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("%s", categorizeDatabaseError(err, verbose))
	}

	infoColor := color.New(color.FgCyan)
	if noColor {
		infoColor.DisableColor()
	}
	for _, stmt := range stmts {
		infoColor.Fprintf(out, "  %s\n", firstLine(stmt))
	}
	ui.WriteSuccess(out, fmt.Sprintf("Executed %d statements on %s", len(stmts), dialect.Name()), noColor)
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSuffix(s[:i], " (")
	}
	return s
}
