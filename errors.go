package pgquery

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies a failed operation.
type Kind string

const (
	KindValidation      Kind = "validation_rejected"
	KindSyntax          Kind = "syntax_error"
	KindUndefinedTable  Kind = "undefined_table"
	KindUndefinedColumn Kind = "undefined_column"
	KindPoolUnavailable Kind = "pool_unavailable"
	KindGeneric         Kind = "generic"
)

// SQLSTATE codes used for classification.
const (
	sqlStateSyntaxError     = "42601"
	sqlStateUndefinedTable  = "42P01"
	sqlStateUndefinedColumn = "42703"
)

// Error is returned by the executor and the pool. Kind drives the message
// shown to callers.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err. Errors that are not *Error are classified
// by their PostgreSQL SQLSTATE, falling back to KindGeneric.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return KindGeneric
	}
	switch pgErr.Code {
	case sqlStateSyntaxError:
		return KindSyntax
	case sqlStateUndefinedTable:
		return KindUndefinedTable
	case sqlStateUndefinedColumn:
		return KindUndefinedColumn
	default:
		return KindGeneric
	}
}

// wrapDBError tags a database error with its Kind.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}

// causeText is the innermost useful description of err: the PostgreSQL
// message when there is one, otherwise the full error string.
func causeText(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Message
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Err.Error()
	}
	return err.Error()
}

// Message is the caller-facing text for err as returned by execute_query.
// Missing tables and columns point the caller at the catalog tools.
func Message(err error) string {
	return ToolMessage(ToolExecuteQuery, err)
}

// ToolMessage is Message with the fallback for unclassified errors worded
// for the given tool.
func ToolMessage(tool string, err error) string {
	cause := causeText(err)
	switch KindOf(err) {
	case KindValidation:
		return cause
	case KindSyntax:
		return fmt.Sprintf("SQL syntax error: %s\n\nPlease check your query syntax and try again.", cause)
	case KindUndefinedTable:
		return fmt.Sprintf("Table not found: %s\n\nUse '%s' to see available tables.", cause, ToolListTables)
	case KindUndefinedColumn:
		return fmt.Sprintf("Column not found: %s\n\nUse '%s' to see table structure.", cause, ToolDescribeTable)
	case KindPoolUnavailable:
		return fmt.Sprintf("Database connection unavailable: %s\n\nThe connection pool could not provide a connection. Please retry shortly.", cause)
	}

	switch tool {
	case ToolListTables:
		return fmt.Sprintf("Error listing tables: %s\n\nPlease verify the schema name and try again.", cause)
	case ToolDescribeTable:
		return fmt.Sprintf("Error describing table: %s", cause)
	case ToolGetTableSample:
		return fmt.Sprintf("Error sampling table: %s", cause)
	default:
		return fmt.Sprintf("Error executing query: %s\n\nPlease verify your query and database connection.", cause)
	}
}

func validationError(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}
