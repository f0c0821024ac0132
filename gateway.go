package pgquery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/rickchristie/pgquery-mcp/internal/errprompt"
	"github.com/rickchristie/pgquery-mcp/internal/protection"
	"github.com/rickchristie/pgquery-mcp/internal/render"
	"github.com/rickchristie/pgquery-mcp/internal/sanitize"
	"github.com/rickchristie/pgquery-mcp/internal/timeout"
)

// Gateway is the read-only query engine behind the four tools.
// All exported methods are safe for concurrent use from multiple goroutines.
type Gateway struct {
	config     Config
	pool       Acquirer
	checker    *protection.Checker
	sanitizer  *sanitize.Sanitizer
	errPrompts *errprompt.Matcher
	timeoutMgr *timeout.Manager
	logger     zerolog.Logger
}

// New opens the connection pool and builds a Gateway. connString is a
// PostgreSQL connection string including credentials.
// Panics on invalid config. Returns error only for runtime failures (pool
// creation or the startup ping).
func New(ctx context.Context, connString string, config Config, logger zerolog.Logger) (*Gateway, error) {
	config = applyDefaults(config)
	g := newGateway(config, logger)

	pool, err := OpenPool(ctx, connString, config.Pool, logger)
	if err != nil {
		return nil, err
	}
	g.pool = pool
	return g, nil
}

// NewWithAcquirer builds a Gateway on an existing Acquirer. The Gateway takes
// ownership: Close closes acq. Panics on invalid config.
func NewWithAcquirer(acq Acquirer, config Config, logger zerolog.Logger) *Gateway {
	if acq == nil {
		panic("pgquery: acquirer must be non-nil")
	}
	g := newGateway(applyDefaults(config), logger)
	g.pool = acq
	return g
}

func applyDefaults(config Config) Config {
	defaults := DefaultConfig()
	if config.Pool.MaxConns == 0 {
		config.Pool.MaxConns = defaults.Pool.MaxConns
		if config.Pool.MinConns == 0 {
			config.Pool.MinConns = defaults.Pool.MinConns
		}
	}
	if config.Query.MaxSQLLength == 0 {
		config.Query.MaxSQLLength = defaults.Query.MaxSQLLength
	}
	if config.Query.MaxResultLength == 0 {
		config.Query.MaxResultLength = defaults.Query.MaxResultLength
	}
	return config
}

func newGateway(config Config, logger zerolog.Logger) *Gateway {
	if config.Pool.MaxConns < 0 {
		panic("pgquery: pool.max_conns must be > 0")
	}
	if config.Query.MaxSQLLength < 0 {
		panic("pgquery: query.max_sql_length must be > 0")
	}
	if config.Query.MaxResultLength < 0 {
		panic("pgquery: query.max_result_length must be > 0")
	}
	if config.Query.DefaultTimeoutSeconds < 0 {
		panic("pgquery: query.default_timeout_seconds must be >= 0")
	}
	for _, rule := range config.Query.TimeoutRules {
		if rule.TimeoutSeconds <= 0 {
			panic(fmt.Sprintf("pgquery: timeout_rule with pattern %q has timeout_seconds <= 0", rule.Pattern))
		}
	}

	san, err := sanitize.NewSanitizer(mapSanitizationRules(config.Sanitization))
	if err != nil {
		panic("pgquery: " + err.Error())
	}
	matcher, err := errprompt.NewMatcher(mapErrorPromptRules(config.ErrorPrompts))
	if err != nil {
		panic("pgquery: " + err.Error())
	}
	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	tmgr, err := timeout.NewManager(timeout.Config{
		DefaultTimeout: time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second,
		Rules:          timeoutRules,
	})
	if err != nil {
		panic("pgquery: " + err.Error())
	}

	return &Gateway{
		config: config,
		checker: protection.NewChecker(protection.Config{
			MaxLength:  config.Query.MaxSQLLength,
			ParseCheck: config.Protection.ParseCheck,
		}),
		sanitizer:  san,
		errPrompts: matcher,
		timeoutMgr: tmgr,
		logger:     logger,
	}
}

// Close releases every pooled connection. Call it last, after the transport
// has stopped. Safe to call more than once.
func (g *Gateway) Close() {
	g.pool.Close()
}

// lease is a checked-out session plus the deadline it runs under.
type lease struct {
	ctx         context.Context
	session     Session
	timeoutRule string
	cancel      context.CancelFunc
}

func (l *lease) release() {
	l.session.Release()
	l.cancel()
}

// acquire checks out a session bounded by the timeout resolved for sql. The
// caller must defer release.
func (g *Gateway) acquire(ctx context.Context, sql string) (*lease, error) {
	queryCtx, cancel, rule := g.timeoutMgr.WithTimeout(ctx, sql)
	session, err := g.pool.Acquire(queryCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	return &lease{ctx: queryCtx, session: session, timeoutRule: rule, cancel: cancel}, nil
}

// output renders rows, applies sanitization and truncation and prepends
// preface in markdown mode.
func (g *Gateway) output(format Format, result *ResultSet, preface string) (*Output, error) {
	g.sanitizer.SanitizeRows(result.Columns, result.Rows)
	body, err := render.Render(result.Columns, result.Rows, format.render())
	if err != nil {
		return nil, &Error{Kind: KindGeneric, Op: "render", Err: err}
	}
	if format == FormatMarkdown {
		body = preface + body
	}
	return g.text(format, body), nil
}

// text wraps already rendered text, truncating it to the output limit.
func (g *Gateway) text(format Format, s string) *Output {
	out, truncated := render.Truncate(s, g.config.Query.MaxResultLength)
	return &Output{Format: format, Text: out, Truncated: truncated}
}

// handleError converts any error into an Output carrying the caller-facing
// message. Configured error prompts are appended.
func (g *Gateway) handleError(tool string, format Format, err error) *Output {
	kind := KindOf(err)
	msg, patterns := g.errPrompts.Annotate(ToolMessage(tool, err))

	logEvent := g.logger.Error().
		Err(err).
		Str("tool", tool).
		Str("error_kind", string(kind))
	if len(patterns) > 0 {
		logEvent = logEvent.Strs("error_prompts", patterns)
	}
	logEvent.Msg("tool error")

	return &Output{Format: format, Error: msg, ErrorKind: kind}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// checkIdentifier validates a schema or table name before it is used in SQL.
func checkIdentifier(field, name string) error {
	n := utf8.RuneCountInString(name)
	if n == 0 || n > MaxIdentifierLength {
		return validationError(field, "Invalid %s: must be between 1 and %d characters.", field, MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return validationError(field, "Invalid %s %q: only letters, digits, '_' and '$' are allowed, and it must not start with a digit.", field, name)
	}
	return nil
}

// resolveSchema applies the default schema and validates it.
func resolveSchema(schema string) (string, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	if err := checkIdentifier("schema", schema); err != nil {
		return "", err
	}
	return schema, nil
}

// resolveTableRef applies the default schema and validates both names.
func resolveTableRef(schema, table string) (string, string, error) {
	schema, err := resolveSchema(schema)
	if err != nil {
		return "", "", err
	}
	if err := checkIdentifier("table_name", table); err != nil {
		return "", "", err
	}
	return schema, table, nil
}

func asRejected(err error) error {
	var rejected *protection.RejectedError
	if errors.As(err, &rejected) {
		return &Error{Kind: KindValidation, Op: "validate", Err: rejected}
	}
	return err
}

// mapSanitizationRules converts SanitizationRules to internal sanitize.Rules.
func mapSanitizationRules(rules []SanitizationRule) []sanitize.Rule {
	result := make([]sanitize.Rule, len(rules))
	for i, r := range rules {
		result[i] = sanitize.Rule{
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
			Columns:     r.Columns,
		}
	}
	return result
}

// mapErrorPromptRules converts ErrorPromptRules to internal errprompt.Rules.
func mapErrorPromptRules(rules []ErrorPromptRule) []errprompt.Rule {
	result := make([]errprompt.Rule, len(rules))
	for i, r := range rules {
		result[i] = errprompt.Rule{
			Pattern: r.Pattern,
			Message: r.Message,
		}
	}
	return result
}
