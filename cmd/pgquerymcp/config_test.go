package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"

	pgquery "github.com/rickchristie/pgquery-mcp"
)

// Note: Tests using t.Setenv() cannot use t.Parallel() in Go.

// clearEnv unsets every variable loadServerConfig reads.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PGQUERY_CONFIG_PATH", "")
	for _, env := range envBindings {
		t.Setenv(env, "")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

const yamlConfig = `
connection:
  host: db.internal
  port: 5433
  dbname: app
  user: reader
pool:
  max_conns: 4
  min_conns: 1
  read_only_session: false
protection:
  parse_check: true
query:
  default_timeout_seconds: 15
  timeout_rules:
    - pattern: "pg_sleep"
      timeout_seconds: 2
error_prompts:
  - pattern: "permission denied"
    message: "Ask for read access."
sanitization:
  - pattern: "\\d{3}-\\d{2}-\\d{4}"
    replacement: "***-**-****"
    columns: [ssn]
server:
  transport: HTTP
  port: 9090
  health_check_enabled: true
logging:
  level: debug
`

func TestLoadServerConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadServerConfig(newViper(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Path != "" {
		t.Fatalf("expected no config path, got %q", cfg.Path)
	}
	if cfg.Pool.MaxConns != 10 || cfg.Pool.MinConns != 2 {
		t.Fatalf("expected pool 2..10, got %d..%d", cfg.Pool.MinConns, cfg.Pool.MaxConns)
	}
	if cfg.Pool.ReadOnlySession == nil || !*cfg.Pool.ReadOnlySession {
		t.Fatal("expected read-only sessions by default")
	}
	if cfg.Query.MaxSQLLength != 5000 || cfg.Query.MaxResultLength != 25000 {
		t.Fatalf("unexpected query limits: %+v", cfg.Query)
	}
	if cfg.Server.Transport != "stdio" || cfg.Server.Port != 8080 || cfg.Server.HealthCheckPath != "/health" {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Connection.Host != "localhost" || cfg.Connection.Port != 5432 || cfg.Connection.DBName != "postgres" {
		t.Fatalf("unexpected connection defaults: %+v", cfg.Connection)
	}
	if cfg.PasswordSource != passwordNone {
		t.Fatalf("expected password source %q, got %q", passwordNone, cfg.PasswordSource)
	}
	if problems := validateServerConfig(cfg.ServerConfig); len(problems) != 0 {
		t.Fatalf("expected defaults to validate, got %v", problems)
	}
}

func TestLoadServerConfig_YAMLFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.yaml", yamlConfig)

	cfg, err := loadServerConfig(newViper(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Path != path {
		t.Fatalf("expected path %q, got %q", path, cfg.Path)
	}
	if cfg.Connection.Host != "db.internal" || cfg.Connection.Port != 5433 || cfg.Connection.DBName != "app" || cfg.Connection.User != "reader" {
		t.Fatalf("unexpected connection: %+v", cfg.Connection)
	}
	if cfg.Pool.MaxConns != 4 || cfg.Pool.MinConns != 1 {
		t.Fatalf("unexpected pool: %+v", cfg.Pool)
	}
	if cfg.Pool.ReadOnlySession == nil || *cfg.Pool.ReadOnlySession {
		t.Fatal("expected read_only_session false from file")
	}
	if !cfg.Protection.ParseCheck {
		t.Fatal("expected parse_check true")
	}
	if cfg.Query.DefaultTimeoutSeconds != 15 {
		t.Fatalf("expected default timeout 15, got %d", cfg.Query.DefaultTimeoutSeconds)
	}
	if len(cfg.Query.TimeoutRules) != 1 || cfg.Query.TimeoutRules[0].TimeoutSeconds != 2 {
		t.Fatalf("unexpected timeout rules: %+v", cfg.Query.TimeoutRules)
	}
	if len(cfg.ErrorPrompts) != 1 || cfg.ErrorPrompts[0].Message != "Ask for read access." {
		t.Fatalf("unexpected error prompts: %+v", cfg.ErrorPrompts)
	}
	if len(cfg.Sanitization) != 1 || cfg.Sanitization[0].Columns[0] != "ssn" {
		t.Fatalf("unexpected sanitization: %+v", cfg.Sanitization)
	}
	// Transport is normalised to lower case.
	if cfg.Server.Transport != "http" || cfg.Server.Port != 9090 || !cfg.Server.HealthCheckEnabled {
		t.Fatalf("unexpected server settings: %+v", cfg.Server)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging: %+v", cfg.Logging)
	}
	// Unset values keep their defaults.
	if cfg.Query.MaxResultLength != 25000 {
		t.Fatalf("expected default max_result_length, got %d", cfg.Query.MaxResultLength)
	}
}

func TestLoadServerConfig_JSONFromEnvPath(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.json", `{
  "connection": {"host": "json.internal", "dbname": "jsondb"},
  "pool": {"max_conns": 3}
}`)
	t.Setenv("PGQUERY_CONFIG_PATH", path)

	cfg, err := loadServerConfig(newViper(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Path != path {
		t.Fatalf("expected path from PGQUERY_CONFIG_PATH, got %q", cfg.Path)
	}
	if cfg.Connection.Host != "json.internal" || cfg.Connection.DBName != "jsondb" || cfg.Pool.MaxConns != 3 {
		t.Fatalf("unexpected config: %+v", cfg.ServerConfig)
	}
}

func TestLoadServerConfig_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.yaml", yamlConfig)
	t.Setenv("POSTGRES_DB", "fromenv")
	t.Setenv("POSTGRES_PORT", "6543")
	t.Setenv("PGQUERY_TRANSPORT", "stdio")

	cfg, err := loadServerConfig(newViper(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Connection.DBName != "fromenv" || cfg.Connection.Port != 6543 {
		t.Fatalf("expected environment overrides, got %+v", cfg.Connection)
	}
	if cfg.Server.Transport != "stdio" {
		t.Fatalf("expected transport stdio from environment, got %q", cfg.Server.Transport)
	}
	if cfg.Connection.Host != "db.internal" {
		t.Fatalf("expected host from file, got %q", cfg.Connection.Host)
	}
}

func TestLoadServerConfig_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := loadServerConfig(newViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadServerConfig_InvalidFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.json", `{not json`)
	if _, err := loadServerConfig(newViper(), path); err == nil {
		t.Fatal("expected error for invalid config file")
	}
}

func TestLoadServerConfig_PasswordFromKeyring(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.yaml", yamlConfig)
	account := "reader@db.internal:5433/app"
	if err := keyring.Set(keyringService, account, "s3cret"); err != nil {
		t.Fatalf("keyring.Set failed: %v", err)
	}
	t.Cleanup(func() { _ = keyring.Delete(keyringService, account) })

	cfg, err := loadServerConfig(newViper(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Connection.Password != "s3cret" || cfg.PasswordSource != passwordFromKeyring {
		t.Fatalf("expected keyring password, got %q from %q", cfg.Connection.Password, cfg.PasswordSource)
	}
}

func TestLoadServerConfig_EnvPasswordWinsOverKeyring(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.yaml", yamlConfig)
	account := "reader@db.internal:5433/app"
	if err := keyring.Set(keyringService, account, "s3cret"); err != nil {
		t.Fatalf("keyring.Set failed: %v", err)
	}
	t.Cleanup(func() { _ = keyring.Delete(keyringService, account) })
	t.Setenv("POSTGRES_PASSWORD", "fromenv")

	cfg, err := loadServerConfig(newViper(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Connection.Password != "fromenv" || cfg.PasswordSource != passwordFromConfig {
		t.Fatalf("expected environment password, got %q from %q", cfg.Connection.Password, cfg.PasswordSource)
	}
}

func TestKeyringAccount(t *testing.T) {
	t.Parallel()
	got := keyringAccount(pgquery.ConnectionConfig{User: "u", Host: "h", Port: 5432, DBName: "d"})
	if got != "u@h:5432/d" {
		t.Fatalf("unexpected account %q", got)
	}
}

func TestValidateServerConfig(t *testing.T) {
	t.Parallel()
	valid := func() pgquery.ServerConfig {
		return pgquery.ServerConfig{
			Config:     pgquery.Config{Pool: pgquery.PoolConfig{MaxConns: 5, MinConns: 1}},
			Connection: pgquery.ConnectionConfig{DBName: "app"},
			Server:     pgquery.ServerSettings{Transport: "stdio", Port: 8080},
			Logging:    pgquery.LoggingConfig{Output: "stderr"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*pgquery.ServerConfig)
		want   string
	}{
		{"valid", func(*pgquery.ServerConfig) {}, ""},
		{"no dbname", func(c *pgquery.ServerConfig) { c.Connection.DBName = "" }, "connection.dbname"},
		{"unknown transport", func(c *pgquery.ServerConfig) { c.Server.Transport = "grpc" }, "server.transport"},
		{"stdout with stdio", func(c *pgquery.ServerConfig) { c.Logging.Output = "stdout" }, "logging.output"},
		{"http without port", func(c *pgquery.ServerConfig) {
			c.Server.Transport = "http"
			c.Server.Port = 0
		}, "server.port"},
		{"http health path empty", func(c *pgquery.ServerConfig) {
			c.Server.Transport = "http"
			c.Server.HealthCheckEnabled = true
		}, "server.health_check_path"},
		{"http health disabled", func(c *pgquery.ServerConfig) { c.Server.Transport = "http" }, ""},
		{"stdout with http", func(c *pgquery.ServerConfig) {
			c.Server.Transport = "http"
			c.Logging.Output = "stdout"
		}, ""},
		{"zero max conns", func(c *pgquery.ServerConfig) {
			c.Pool.MaxConns = 0
			c.Pool.MinConns = 0
		}, "pool.max_conns"},
		{"min above max", func(c *pgquery.ServerConfig) { c.Pool.MinConns = 6 }, "pool.min_conns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			problems := validateServerConfig(cfg)
			if tt.want == "" {
				if len(problems) != 0 {
					t.Fatalf("expected no problems, got %v", problems)
				}
				return
			}
			if len(problems) != 1 || !strings.Contains(problems[0], tt.want) {
				t.Fatalf("expected one problem mentioning %q, got %v", tt.want, problems)
			}
		})
	}
}

func TestSetupLogger(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "server.log")
	logger, closeLog, err := setupLogger(pgquery.LoggingConfig{Level: "warn", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if strings.Contains(string(data), "dropped") || !strings.Contains(string(data), "kept") {
		t.Fatalf("unexpected log contents: %s", data)
	}

	if _, _, err := setupLogger(pgquery.LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "x.log")}); err == nil {
		t.Fatal("expected error for unwritable log path")
	}
}
