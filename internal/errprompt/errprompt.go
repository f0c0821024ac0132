package errprompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is the error prompt matcher's own rule type.
type Rule struct {
	Pattern string
	Message string
}

type compiledRule struct {
	pattern *regexp.Regexp
	message string
}

// Matcher appends operator-configured guidance to error text shown to callers.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher creates a new Matcher. Returns an error on invalid regex patterns.
func NewMatcher(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("errprompt: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, message: r.Message}
	}
	return &Matcher{rules: compiled}, nil
}

// Annotate checks errMsg against all rules, top to bottom. It returns errMsg
// with every matching message appended (blank line, then one message per
// line) and the patterns that matched. With no match errMsg is returned as is
// and patterns is nil.
func (m *Matcher) Annotate(errMsg string) (annotated string, patterns []string) {
	var messages []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			messages = append(messages, rule.message)
			patterns = append(patterns, rule.pattern.String())
		}
	}
	if len(messages) == 0 {
		return errMsg, nil
	}
	return errMsg + "\n\n" + strings.Join(messages, "\n"), patterns
}
