package protection

import (
	"fmt"
	"strings"
	"unicode/utf8"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ForbiddenKeywords are scanned in this order; the first hit is reported.
var ForbiddenKeywords = []string{"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE"}

// DefaultMaxLength is the statement length ceiling in characters.
const DefaultMaxLength = 5000

// Config is the protection checker's own config type.
type Config struct {
	MaxLength int

	// ParseCheck additionally parses the statement with PostgreSQL's parser
	// and only lets a single SELECT, VALUES, SHOW or EXPLAIN through.
	ParseCheck bool
}

// RejectedError is returned when a statement fails the gate. Nothing has been
// sent to the database when this error is returned.
type RejectedError struct {
	Keyword string // empty when the rejection is not keyword based
	Reason  string
}

func (e *RejectedError) Error() string {
	return e.Reason
}

// Checker validates statements before they reach the database.
// It holds no per-call state and is safe for concurrent use.
type Checker struct {
	config Config
}

// NewChecker creates a new Checker with the given config.
func NewChecker(config Config) *Checker {
	if config.MaxLength <= 0 {
		config.MaxLength = DefaultMaxLength
	}
	return &Checker{config: config}
}

// Check trims the statement and runs it through the gate. It returns the
// trimmed statement, which is what must be executed.
//
// The keyword scan is lexical: it does not understand comments, string
// literals or quoted identifiers, so SELECT 'drop' is rejected too.
func (c *Checker) Check(sql string) (string, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return "", &RejectedError{Reason: "Query must not be empty."}
	}
	if n := utf8.RuneCountInString(trimmed); n > c.config.MaxLength {
		return "", &RejectedError{Reason: fmt.Sprintf("Query too long: %d characters exceeds maximum of %d characters.", n, c.config.MaxLength)}
	}

	if kw := FindForbiddenKeyword(trimmed); kw != "" {
		return "", &RejectedError{
			Keyword: kw,
			Reason: fmt.Sprintf("Destructive operations not allowed. Query contains '%s'. "+
				"Only SELECT queries are permitted for safety.", kw),
		}
	}

	if c.config.ParseCheck {
		if err := checkParseTree(trimmed); err != nil {
			return "", err
		}
	}
	return trimmed, nil
}

// FindForbiddenKeyword returns the first forbidden keyword contained in sql
// (case-insensitive substring match), or "" if there is none.
func FindForbiddenKeyword(sql string) string {
	upper := strings.ToUpper(sql)
	for _, kw := range ForbiddenKeywords {
		if strings.Contains(upper, kw) {
			return kw
		}
	}
	return ""
}

func checkParseTree(sql string) error {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return &RejectedError{Reason: fmt.Sprintf("SQL parse error: %v", err)}
	}
	if len(result.Stmts) == 0 {
		return &RejectedError{Reason: "SQL parse error: empty query"}
	}
	if len(result.Stmts) > 1 {
		return &RejectedError{Reason: fmt.Sprintf("multi-statement queries are not allowed: found %d statements", len(result.Stmts))}
	}
	return checkNode(result.Stmts[0].Stmt)
}

func checkNode(node *pg_query.Node) error {
	if node == nil {
		return &RejectedError{Reason: "SQL parse error: empty statement"}
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		if n.SelectStmt.IntoClause != nil {
			return &RejectedError{Reason: "SELECT INTO is not allowed: it creates a table"}
		}
		return checkCTEs(n.SelectStmt.WithClause)
	case *pg_query.Node_VariableShowStmt:
		return nil
	case *pg_query.Node_ExplainStmt:
		// EXPLAIN ANALYZE executes its statement, so the inner statement is
		// held to the same rules.
		return checkNode(n.ExplainStmt.Query)
	default:
		return &RejectedError{Reason: fmt.Sprintf("only SELECT, SHOW and EXPLAIN statements are allowed, got %s", statementName(node))}
	}
}

// checkCTEs rejects data-modifying WITH clauses. The keyword gate already
// catches them lexically; this covers the parse-only path.
func checkCTEs(with *pg_query.WithClause) error {
	if with == nil {
		return nil
	}
	for _, cte := range with.Ctes {
		cteNode, ok := cte.Node.(*pg_query.Node_CommonTableExpr)
		if !ok {
			continue
		}
		if err := checkNode(cteNode.CommonTableExpr.Ctequery); err != nil {
			return err
		}
	}
	return nil
}

// IsReadOnly reports whether sql parses to a single read-only statement.
func IsReadOnly(sql string) bool {
	return checkParseTree(strings.TrimSpace(sql)) == nil
}

func statementName(node *pg_query.Node) string {
	name := fmt.Sprintf("%T", node.Node)
	name = strings.TrimPrefix(name, "*pg_query.Node_")
	return strings.TrimSuffix(name, "Stmt")
}
