package commands

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/jsonapi-server/internal/cli/ui"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store/memory"
	"github.com/conduit-lang/jsonapi-server/internal/web/router"
)

// NewRoutesCommand creates the routes command
func NewRoutesCommand(flags *globalFlags) *cobra.Command {
	var typeName string
	var asJSON, noColor bool

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List the generated routes",
		Long: `List every route the server registers for the schema file.

Examples:
  jsonapi-server routes
  jsonapi-server routes --type games
  jsonapi-server routes --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoutes(cmd, flags, typeName, asJSON, noColor)
		},
	}
	cmd.Flags().StringVarP(&typeName, "type", "t", "", "Only list the routes of one resource type")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the route table as JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runRoutes(cmd *cobra.Command, flags *globalFlags, typeName string, asJSON, noColor bool) error {
	cfg, reg, err := loadEnvironment(flags)
	if err != nil {
		return err
	}

	if typeName != "" && !reg.Exists(typeName) {
		names := make([]string, 0, reg.Count())
		for _, rt := range reg.Types() {
			names = append(names, rt.Name())
		}
		ui.WriteError(cmd.ErrOrStderr(), ui.ErrorOptions{
			Context:      "Unknown resource type",
			Problem:      typeName,
			Suggestions:  ui.FindSimilar(typeName, names, nil),
			HelpCommands: []string{"List every route: jsonapi-server routes"},
			NoColor:      noColor,
		})
		return fmt.Errorf("resource type %q is not defined in %s", typeName, cfg.Schema.Path)
	}

	// Routes do not depend on the store, the memory store never gets touched
	r, err := buildRouter(cfg, reg, memory.New(reg))
	if err != nil {
		return err
	}

	routes := make([]router.RouteInfo, 0)
	for _, info := range r.RouteListJSON() {
		if typeName == "" || info.ResourceName == typeName {
			routes = append(routes, info)
		}
	}

	out := cmd.OutOrStdout()
	if asJSON {
		encoded, err := json.MarshalIndent(routes, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode routes: %w", err)
		}
		fmt.Fprintln(out, string(encoded))
		return nil
	}

	table := ui.NewTable(out, []string{"METHOD", "PATTERN", "NAME"}, &ui.TableOptions{NoColor: noColor})
	table.ColorColumn(0, ui.MethodColor)
	for _, info := range routes {
		table.AddRow(info.Method, info.Pattern, info.Name)
	}
	table.Render()
	return nil
}
