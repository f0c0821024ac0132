package timeout

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// Rule is the timeout manager's own rule type.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

// Config is the timeout manager's own config type. A zero DefaultTimeout
// means statements that match no rule run without a deadline.
type Config struct {
	DefaultTimeout time.Duration
	Rules          []Rule
}

type compiledRule struct {
	pattern *regexp.Regexp
	timeout time.Duration
}

// Manager resolves statement deadlines by SQL pattern.
type Manager struct {
	rules          []compiledRule
	defaultTimeout time.Duration
}

// NewManager creates a new Manager. Returns an error on invalid regex patterns.
func NewManager(config Config) (*Manager, error) {
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("timeout: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, timeout: r.Timeout}
	}
	return &Manager{rules: compiled, defaultTimeout: config.DefaultTimeout}, nil
}

// Resolve returns the timeout for sql and the pattern that selected it.
// First matching rule wins; the pattern is empty when the default applies.
func (m *Manager) Resolve(sql string) (time.Duration, string) {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(sql) {
			return rule.timeout, rule.pattern.String()
		}
	}
	return m.defaultTimeout, ""
}

// WithTimeout derives a context bounded by the resolved timeout. When the
// resolved timeout is zero, ctx is returned as is.
func (m *Manager) WithTimeout(ctx context.Context, sql string) (context.Context, context.CancelFunc, string) {
	d, pattern := m.Resolve(sql)
	if d <= 0 {
		return ctx, func() {}, pattern
	}
	c, cancel := context.WithTimeout(ctx, d)
	return c, cancel, pattern
}
