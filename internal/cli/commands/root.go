package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/jsonapi-server/internal/cli/config"
	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// globalFlags holds the flags shared by every command
type globalFlags struct {
	configFile string
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "jsonapi-server",
		Short: "Schema driven JSON:API resource server",
		Long: color.CyanString(`jsonapi-server - JSON:API 1.0 resource server

Serves every resource type declared in a schema file as a JSON:API collection
with sparse fieldsets, compound documents, filtering, sorting and pagination.

Configuration is read from jsonapi-server.yaml and JSONAPI_* environment variables.`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to the config file (default ./jsonapi-server.yaml)")

	rootCmd.AddCommand(NewServeCommand(flags))
	rootCmd.AddCommand(NewMigrateCommand(flags))
	rootCmd.AddCommand(NewRoutesCommand(flags))
	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}

// loadEnvironment loads the configuration and the resource schema it points at
func loadEnvironment(flags *globalFlags) (*config.Config, *schema.Registry, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, nil, err
	}
	reg, err := schema.LoadFile(cfg.Schema.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load schema: %w", err)
	}
	return cfg, reg, nil
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}
