package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"

	pgquery "github.com/rickchristie/pgquery-mcp"
)

// keyringService is the OS keyring service under which passwords are stored.
const keyringService = "pgquery-mcp"

// Password sources reported by doctor.
const (
	passwordFromConfig  = "config or environment"
	passwordFromKeyring = "OS keyring"
	passwordNone        = "none"
)

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"connection.host":     "POSTGRES_HOST",
	"connection.port":     "POSTGRES_PORT",
	"connection.dbname":   "POSTGRES_DB",
	"connection.user":     "POSTGRES_USER",
	"connection.password": "POSTGRES_PASSWORD",
	"connection.sslmode":  "POSTGRES_SSLMODE",
	"logging.level":       "PGQUERY_LOG_LEVEL",
	"server.port":         "PGQUERY_HTTP_PORT",
	"server.transport":    "PGQUERY_TRANSPORT",
}

// loadedConfig is a ServerConfig plus where its values came from.
type loadedConfig struct {
	pgquery.ServerConfig
	Path           string // empty when no config file was read
	PasswordSource string
}

// newViper returns a viper instance with defaults and environment bindings.
func newViper() *viper.Viper {
	v := viper.New()

	defaults := pgquery.DefaultConfig()
	v.SetDefault("connection.host", "localhost")
	v.SetDefault("connection.port", 5432)
	v.SetDefault("connection.dbname", "postgres")
	v.SetDefault("connection.user", "postgres")
	v.SetDefault("connection.password", "")
	v.SetDefault("connection.sslmode", "")
	v.SetDefault("pool.max_conns", defaults.Pool.MaxConns)
	v.SetDefault("pool.min_conns", defaults.Pool.MinConns)
	v.SetDefault("pool.read_only_session", true)
	v.SetDefault("query.max_sql_length", defaults.Query.MaxSQLLength)
	v.SetDefault("query.max_result_length", defaults.Query.MaxResultLength)
	v.SetDefault("query.default_timeout_seconds", 0)
	v.SetDefault("protection.parse_check", false)
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.health_check_enabled", false)
	v.SetDefault("server.health_check_path", "/health")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	return v
}

// loadServerConfig reads defaults, the optional config file and the
// environment, in increasing order of precedence. configPath falls back to
// PGQUERY_CONFIG_PATH. A missing password is looked up in the OS keyring.
func loadServerConfig(v *viper.Viper, configPath string) (*loadedConfig, error) {
	if configPath == "" {
		configPath = os.Getenv("PGQUERY_CONFIG_PATH")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg pgquery.ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Server.Transport = strings.ToLower(cfg.Server.Transport)

	loaded := &loadedConfig{ServerConfig: cfg, Path: configPath, PasswordSource: passwordFromConfig}
	if loaded.Connection.Password == "" {
		loaded.PasswordSource = passwordNone
		pw, err := keyring.Get(keyringService, keyringAccount(loaded.Connection))
		switch {
		case err == nil:
			loaded.Connection.Password = pw
			loaded.PasswordSource = passwordFromKeyring
		case errors.Is(err, keyring.ErrNotFound):
		default:
			// No keyring backend (headless Linux, containers). Connect without a password.
		}
	}
	return loaded, nil
}

// keyringAccount identifies a stored password by user, host, port and database.
func keyringAccount(c pgquery.ConnectionConfig) string {
	return fmt.Sprintf("%s@%s:%d/%s", c.User, c.Host, c.Port, c.DBName)
}

// validateServerConfig returns the problems that would stop serve.
func validateServerConfig(cfg pgquery.ServerConfig) []string {
	var problems []string
	if cfg.Connection.DBName == "" {
		problems = append(problems, "connection.dbname must be set")
	}
	switch cfg.Server.Transport {
	case "stdio":
		if cfg.Logging.Output == "stdout" {
			problems = append(problems, "logging.output cannot be stdout with the stdio transport")
		}
	case "http":
		if cfg.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0 for the http transport")
		}
		if cfg.Server.HealthCheckEnabled && cfg.Server.HealthCheckPath == "" {
			problems = append(problems, "server.health_check_path must be set when health_check_enabled is true")
		}
	default:
		problems = append(problems, fmt.Sprintf("server.transport must be 'stdio' or 'http', got %q", cfg.Server.Transport))
	}
	if cfg.Pool.MaxConns <= 0 {
		problems = append(problems, "pool.max_conns must be > 0")
	}
	if cfg.Pool.MinConns < 0 || cfg.Pool.MinConns > cfg.Pool.MaxConns {
		problems = append(problems, "pool.min_conns must be between 0 and pool.max_conns")
	}
	return problems
}
