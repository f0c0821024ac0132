package pgquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/rickchristie/pgquery-mcp/internal/render"
)

const listTablesSQL = `
SELECT tablename
FROM pg_catalog.pg_tables
WHERE schemaname = $1
ORDER BY tablename;
`

// countRowsSQL returns the exact row count statement for schema.table.
func countRowsSQL(schema, table string) string {
	return "SELECT COUNT(*) FROM " + qualifiedName(schema, table)
}

func qualifiedName(schema, table string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}

// ListTables enumerates the base tables of a schema with their row counts.
// The listing and every COUNT run sequentially on one session, so the cost
// grows with the number of tables.
func (g *Gateway) ListTables(ctx context.Context, input ListTablesInput) *Output {
	startTime := time.Now()

	format, err := resolveFormat(input.Format)
	if err != nil {
		return g.handleError(ToolListTables, format, err)
	}
	schema, err := resolveSchema(input.Schema)
	if err != nil {
		return g.handleError(ToolListTables, format, err)
	}

	tables, err := g.listTables(ctx, schema)
	if err != nil {
		return g.handleError(ToolListTables, format, err)
	}

	g.logger.Info().
		Str("schema", schema).
		Dur("duration", time.Since(startTime)).
		Int("table_count", len(tables)).
		Msg("ListTables executed")

	if len(tables) == 0 {
		return g.text(format, fmt.Sprintf("No tables found in schema '%s'.", schema))
	}

	if format == FormatJSON {
		body, err := render.Indent(tables)
		if err != nil {
			return g.handleError(ToolListTables, format, err)
		}
		return g.text(format, body)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Tables in schema '%s'\n\n", schema)
	for _, t := range tables {
		fmt.Fprintf(&sb, "- **%s** (%s rows)\n", t.TableName, render.Count(t.EstimatedRows))
	}
	fmt.Fprintf(&sb, "\nTotal: %d table(s)", len(tables))
	return g.text(format, sb.String())
}

func (g *Gateway) listTables(ctx context.Context, schema string) ([]TableEntry, error) {
	l, err := g.acquire(ctx, listTablesSQL)
	if err != nil {
		return nil, err
	}
	defer l.release()

	result, err := Run(l.ctx, l.session, listTablesSQL, schema)
	if err != nil {
		return nil, err
	}

	tables := make([]TableEntry, 0, len(result.Rows))
	for _, row := range result.Rows {
		name, ok := row[0].(string)
		if !ok {
			return nil, &Error{Kind: KindGeneric, Op: "list_tables", Err: fmt.Errorf("unexpected table name type %T", row[0])}
		}
		count, err := RunScalar(l.ctx, l.session, countRowsSQL(schema, name))
		if err != nil {
			return nil, err
		}
		n, err := toInt64(count)
		if err != nil {
			return nil, &Error{Kind: KindGeneric, Op: "list_tables", Err: err}
		}
		tables = append(tables, TableEntry{TableName: name, Schema: schema, EstimatedRows: n})
	}
	return tables, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected count type %T", v)
	}
}
