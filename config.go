package pgquery

import (
	"fmt"
	"strings"
)

// Config is the base configuration used by library mode via New().
type Config struct {
	Pool         PoolConfig         `json:"pool" mapstructure:"pool"`
	Protection   ProtectionConfig   `json:"protection" mapstructure:"protection"`
	Query        QueryConfig        `json:"query" mapstructure:"query"`
	ErrorPrompts []ErrorPromptRule  `json:"error_prompts" mapstructure:"error_prompts"`
	Sanitization []SanitizationRule `json:"sanitization" mapstructure:"sanitization"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config     `mapstructure:",squash"`
	Connection ConnectionConfig `json:"connection" mapstructure:"connection"`
	Server     ServerSettings   `json:"server" mapstructure:"server"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
}

// ConnectionConfig holds database connection parameters used by CLI mode.
type ConnectionConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	DBName   string `json:"dbname" mapstructure:"dbname"`
	User     string `json:"user" mapstructure:"user"`
	Password string `json:"password,omitempty" mapstructure:"password"`
	SSLMode  string `json:"sslmode" mapstructure:"sslmode"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxConns          int    `json:"max_conns" mapstructure:"max_conns"`
	MinConns          int    `json:"min_conns" mapstructure:"min_conns"`
	MaxConnLifetime   string `json:"max_conn_lifetime" mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `json:"max_conn_idle_time" mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `json:"health_check_period" mapstructure:"health_check_period"`
	// ReadOnlySession sets default_transaction_read_only on every new
	// connection. nil means true.
	ReadOnlySession *bool  `json:"read_only_session" mapstructure:"read_only_session"`
	Timezone        string `json:"timezone" mapstructure:"timezone"`
}

// ProtectionConfig controls the statement gate for execute_query.
type ProtectionConfig struct {
	// ParseCheck additionally requires a single SELECT, VALUES, SHOW or
	// EXPLAIN statement according to PostgreSQL's parser.
	ParseCheck bool `json:"parse_check" mapstructure:"parse_check"`
}

// QueryConfig holds query execution settings.
type QueryConfig struct {
	// DefaultTimeoutSeconds of 0 imposes no deadline on statements.
	DefaultTimeoutSeconds int           `json:"default_timeout_seconds" mapstructure:"default_timeout_seconds"`
	MaxSQLLength          int           `json:"max_sql_length" mapstructure:"max_sql_length"`
	MaxResultLength       int           `json:"max_result_length" mapstructure:"max_result_length"`
	TimeoutRules          []TimeoutRule `json:"timeout_rules" mapstructure:"timeout_rules"`
}

// TimeoutRule maps a SQL pattern to a specific timeout duration.
type TimeoutRule struct {
	Pattern        string `json:"pattern" mapstructure:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// ErrorPromptRule maps an error message pattern to a guidance message.
type ErrorPromptRule struct {
	Pattern string `json:"pattern" mapstructure:"pattern"`
	Message string `json:"message" mapstructure:"message"`
}

// SanitizationRule defines a regex-based value sanitization rule. Columns
// limits the rule to the named result columns.
type SanitizationRule struct {
	Pattern     string   `json:"pattern" mapstructure:"pattern"`
	Replacement string   `json:"replacement" mapstructure:"replacement"`
	Columns     []string `json:"columns" mapstructure:"columns"`
	Description string   `json:"description" mapstructure:"description"`
}

// ServerSettings holds transport settings for CLI mode.
type ServerSettings struct {
	Transport          string `json:"transport" mapstructure:"transport"` // stdio, http
	Port               int    `json:"port" mapstructure:"port"`
	HealthCheckEnabled bool   `json:"health_check_enabled" mapstructure:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path" mapstructure:"health_check_path"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
	Output string `json:"output" mapstructure:"output"` // stderr, stdout, or file path
}

// DefaultConfig returns the library defaults: a 2..10 connection pool,
// 5000 character statements, 25000 character output and no timeout.
func DefaultConfig() Config {
	return Config{
		Pool:  PoolConfig{MinConns: 2, MaxConns: 10},
		Query: QueryConfig{MaxSQLLength: 5000, MaxResultLength: 25000},
	}
}

// ConnString builds a libpq keyword/value connection string.
func (c ConnectionConfig) ConnString() string {
	var parts []string
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+quoteConnValue(value))
		}
	}
	add("host", c.Host)
	if c.Port > 0 {
		add("port", fmt.Sprint(c.Port))
	}
	add("dbname", c.DBName)
	add("user", c.User)
	add("password", c.Password)
	add("sslmode", c.SSLMode)
	return strings.Join(parts, " ")
}

// Redacted is ConnString with the password masked, for logs and diagnostics.
func (c ConnectionConfig) Redacted() string {
	if c.Password != "" {
		c.Password = "***"
	}
	return c.ConnString()
}

// quoteConnValue quotes per libpq rules: single quotes around values that are
// empty or contain spaces, quotes or backslashes.
func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
