package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	pgquery "github.com/rickchristie/pgquery-mcp"
	"github.com/rickchristie/pgquery-mcp/internal/meta"
)

// pingTimeout bounds the database check in doctor.
const pingTimeout = 5 * time.Second

func newDoctorCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and database connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			useColor := isTTY(os.Stderr.Fd())
			if !useColor {
				pterm.DisableStyling()
			}
			return doctor(cmd.Context(), os.Stderr, useColor, *configPath, pingDatabase)
		},
	}
}

// pingFunc checks connectivity and returns the server version.
type pingFunc func(ctx context.Context, cfg pgquery.ServerConfig) (string, error)

func doctor(ctx context.Context, w io.Writer, useColor bool, configPath string, ping pingFunc) error {
	printBanner(w, useColor)
	fmt.Fprintf(w, "%s %s\n\n", meta.Name, meta.Version)

	cfg, ok := doctorValidateConfig(w, useColor, configPath)
	if !ok {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'pgquerymcp doctor' again.")
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, pterm.DefaultBox.
		WithTitle(heading(useColor, "Database Connection")).
		WithPadding(1).
		Sprint(cfg.Connection.Redacted()))

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	version, err := ping(pingCtx, cfg.ServerConfig)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Database reachable: %v", err))
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'pgquerymcp doctor' again.")
		return nil
	}
	printCheck(w, useColor, true, fmt.Sprintf("Database reachable (PostgreSQL %s)", version))

	fmt.Fprintln(w)
	printAgentSnippets(w, useColor, cfg.ServerConfig)
	return nil
}

// doctorValidateConfig loads and validates the config, printing check results.
// Returns the loaded config and true if all checks passed.
func doctorValidateConfig(w io.Writer, useColor bool, configPath string) (*loadedConfig, bool) {
	cfg, err := loadServerConfig(newViper(), configPath)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Config loaded: %v", err))
		return nil, false
	}
	if cfg.Path != "" {
		printCheck(w, useColor, true, fmt.Sprintf("Config loaded (%s)", cfg.Path))
	} else {
		printCheck(w, useColor, true, "Config loaded (defaults and environment)")
	}

	allPassed := true
	problems := validateServerConfig(cfg.ServerConfig)
	for _, p := range problems {
		printCheck(w, useColor, false, p)
		allPassed = false
	}
	if len(problems) == 0 {
		printCheck(w, useColor, true, fmt.Sprintf("Settings valid (database %s, transport %s)", cfg.Connection.DBName, cfg.Server.Transport))
	}

	regexOK := true
	check := func(field string, i int, pattern string) {
		if _, err := regexp.Compile(pattern); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("%s[%d] regex compiles: %v", field, i, err))
			regexOK = false
			allPassed = false
		}
	}
	for i, rule := range cfg.ErrorPrompts {
		check("error_prompts", i, rule.Pattern)
	}
	for i, rule := range cfg.Sanitization {
		check("sanitization", i, rule.Pattern)
	}
	for i, rule := range cfg.Query.TimeoutRules {
		check("query.timeout_rules", i, rule.Pattern)
	}
	if regexOK {
		printCheck(w, useColor, true, "All regex patterns compile")
	}

	if cfg.PasswordSource == passwordNone {
		printCheck(w, useColor, true, "Password source: none (trust, peer or .pgpass authentication)")
	} else {
		printCheck(w, useColor, true, fmt.Sprintf("Password source: %s", cfg.PasswordSource))
	}

	return cfg, allPassed
}

// pingDatabase opens a one-connection pool and asks for the server version.
func pingDatabase(ctx context.Context, cfg pgquery.ServerConfig) (string, error) {
	pool, err := pgquery.OpenPool(ctx, cfg.Connection.ConnString(), pgquery.PoolConfig{MaxConns: 1}, zerolog.Nop())
	if err != nil {
		return "", err
	}
	defer pool.Close()

	session, err := pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer session.Release()

	v, err := pgquery.RunScalar(ctx, session, "SHOW server_version")
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

// printCheck prints a colored ✓ or ✗ check line.
func printCheck(w io.Writer, useColor bool, pass bool, msg string) {
	mark := "✓"
	color := pterm.FgGreen
	if !pass {
		mark = "✗"
		color = pterm.FgRed
	}
	if useColor {
		mark = color.Sprint(mark)
	}
	fmt.Fprintf(w, "  %s %s\n", mark, msg)
}

func heading(useColor bool, title string) string {
	if !useColor {
		return title
	}
	return pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint(title)
}

// printAgentSnippets prints MCP connection config snippets for the
// configured transport.
func printAgentSnippets(w io.Writer, useColor bool, config pgquery.ServerConfig) {
	fmt.Fprintln(w, heading(useColor, "Agent Connection Snippets"))
	fmt.Fprintln(w)

	if config.Server.Transport == "http" {
		url := fmt.Sprintf("http://localhost:%d/mcp", config.Server.Port)
		fmt.Fprintf(w, "  Claude Code:\n\n    claude mcp add --transport http postgres %s\n\n", url)
		fmt.Fprintf(w, `  .mcp.json / Cursor / Copilot CLI:

  {
    "mcpServers": {
      "postgres": {
        "type": "http",
        "url": "%s"
      }
    }
  }
`, url)
		return
	}

	fmt.Fprintf(w, "  Claude Code:\n\n    claude mcp add postgres -- pgquerymcp serve\n\n")
	fmt.Fprint(w, `  .mcp.json / Cursor / Copilot CLI:

  {
    "mcpServers": {
      "postgres": {
        "command": "pgquerymcp",
        "args": ["serve"]
      }
    }
  }
`)
}
