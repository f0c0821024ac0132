package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	pgquery "github.com/rickchristie/pgquery-mcp"
	"github.com/rickchristie/pgquery-mcp/internal/meta"
)

func newServeCmd(configPath *string) *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServerConfig(v, *configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().String("transport", "stdio", "Transport: stdio or http")
	cmd.Flags().Int("port", 8080, "HTTP port (http transport only)")
	_ = v.BindPFlag("server.transport", cmd.Flags().Lookup("transport"))
	_ = v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

func runServe(ctx context.Context, cfg *loadedConfig) error {
	if problems := validateServerConfig(cfg.ServerConfig); len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}

	logger, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info().
		Str("connection", cfg.Connection.Redacted()).
		Str("password_source", cfg.PasswordSource).
		Str("transport", cfg.Server.Transport).
		Msg("starting pgquery-mcp")

	// 1. Open the pool. Failure here is fatal.
	g, err := pgquery.New(ctx, cfg.Connection.ConnString(), cfg.Config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		return fmt.Errorf("database connection failed: %w", err)
	}
	// Deferred first so the pool closes after the transport has stopped.
	defer g.Close()

	// 2. Create MCP server with initialize lifecycle logging
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer(meta.Name, meta.Version,
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
		server.WithRecovery(),
	)
	pgquery.RegisterMCPTools(mcpServer, g)

	// 3. Serve
	if cfg.Server.Transport == "http" {
		return serveHTTP(ctx, mcpServer, cfg.Server, logger)
	}
	logger.Info().Msg("serving over stdio")
	stdio := server.NewStdioServer(mcpServer)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serveHTTP(ctx context.Context, mcpServer *server.MCPServer, settings pgquery.ServerSettings, logger zerolog.Logger) error {
	addr := fmt.Sprintf(":%d", settings.Port)
	mux := http.NewServeMux()

	// Health check endpoint (process liveness only, not DB connectivity)
	if settings.HealthCheckEnabled {
		mux.HandleFunc(settings.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)

	// Start() does NOT register the handler when a custom *http.Server is
	// provided via WithStreamableHTTPServer.
	mux.Handle("/mcp", streamableServer)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", settings.Port).Msg("serving over streamable HTTP")
		errCh <- streamableServer.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return streamableServer.Shutdown(shutdownCtx)
	}
}

// setupLogger builds the process logger. The returned func closes a log file
// when one was opened.
func setupLogger(config pgquery.LoggingConfig) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(strings.ToLower(config.Level))
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}

	closeFn := func() {}
	var output io.Writer = os.Stderr
	switch config.Output {
	case "", "stderr":
	case "stdout":
		output = os.Stdout
	default:
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), closeFn, fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		output = f
		closeFn = func() { _ = f.Close() }
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger(), closeFn, nil
}
