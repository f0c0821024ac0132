package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rickchristie/pgquery-mcp/internal/meta"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Each call returns a fresh tree so tests
// can execute commands without shared flag state.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "pgquerymcp",
		Short: "Read-only PostgreSQL query gateway for AI agents (MCP)",
		Long: `pgquerymcp serves four read-only tools over the Model Context Protocol:
execute_query, list_tables, describe_table and get_table_sample.

Connection settings come from a config file (--config or PGQUERY_CONFIG_PATH)
and the POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
POSTGRES_PASSWORD and POSTGRES_SSLMODE environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a JSON or YAML config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newDoctorCmd(&configPath),
		newPasswordCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", meta.Name, meta.Version)
		},
	}
}
