package pgquery

import (
	"context"
	"fmt"
	"time"

	"github.com/rickchristie/pgquery-mcp/internal/render"
)

const columnsSQL = `
SELECT
    column_name,
    data_type,
    character_maximum_length,
    is_nullable,
    column_default
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position;
`

const primaryKeySQL = `
SELECT kcu.column_name
FROM information_schema.key_column_usage kcu
JOIN information_schema.table_constraints tc
    ON tc.constraint_name = kcu.constraint_name
    AND tc.table_schema = kcu.table_schema
    AND tc.table_name = kcu.table_name
WHERE tc.constraint_type = 'PRIMARY KEY'
    AND kcu.table_schema = $1
    AND kcu.table_name = $2
ORDER BY kcu.ordinal_position;
`

var describeColumns = []string{"Column", "Type", "Nullable", "Default", "Primary Key"}

// tableNotFound is the text for a table that does not exist or is not visible.
func tableNotFound(schema, table string) string {
	return fmt.Sprintf("Table '%s.%s' not found.\n\nUse '%s' to see available tables.", schema, table, ToolListTables)
}

// DescribeTable returns column metadata of a table with primary key columns
// marked. Names match the catalog exactly (case-sensitive).
func (g *Gateway) DescribeTable(ctx context.Context, input DescribeTableInput) *Output {
	startTime := time.Now()

	format, err := resolveFormat(input.Format)
	if err != nil {
		return g.handleError(ToolDescribeTable, format, err)
	}
	schema, table, err := resolveTableRef(input.Schema, input.Table)
	if err != nil {
		return g.handleError(ToolDescribeTable, format, err)
	}

	columns, err := g.describeTable(ctx, schema, table)
	if err != nil {
		return g.handleError(ToolDescribeTable, format, err)
	}

	g.logger.Info().
		Str("schema", schema).
		Str("table", table).
		Dur("duration", time.Since(startTime)).
		Int("column_count", len(columns)).
		Msg("DescribeTable executed")

	if len(columns) == 0 {
		return g.text(format, tableNotFound(schema, table))
	}

	if format == FormatJSON {
		body, err := render.Indent(columns)
		if err != nil {
			return g.handleError(ToolDescribeTable, format, err)
		}
		return g.text(format, body)
	}

	rows := make([][]any, len(columns))
	for i, c := range columns {
		dataType := c.Type
		if c.MaxLength != nil && *c.MaxLength > 0 {
			dataType = fmt.Sprintf("%s(%d)", dataType, *c.MaxLength)
		}
		def := "-"
		if c.Default != nil && *c.Default != "" {
			def = *c.Default
		}
		pk := ""
		if c.IsPrimaryKey {
			pk = "✓"
		}
		rows[i] = []any{c.Name, dataType, c.Nullable, def, pk}
	}
	text := fmt.Sprintf("## Table: %s.%s\n\n### Columns\n\n", schema, table) + render.Table(describeColumns, rows)
	return g.text(format, text)
}

// describeTable runs the column and primary key lookups on one session and
// merges them.
func (g *Gateway) describeTable(ctx context.Context, schema, table string) ([]ColumnInfo, error) {
	l, err := g.acquire(ctx, columnsSQL)
	if err != nil {
		return nil, err
	}
	defer l.release()

	colResult, err := Run(l.ctx, l.session, columnsSQL, schema, table)
	if err != nil {
		return nil, err
	}
	if colResult.Empty() {
		return []ColumnInfo{}, nil
	}

	pkResult, err := Run(l.ctx, l.session, primaryKeySQL, schema, table)
	if err != nil {
		return nil, err
	}
	pk := make(map[string]bool, len(pkResult.Rows))
	for _, row := range pkResult.Rows {
		if name, ok := row[0].(string); ok {
			pk[name] = true
		}
	}

	columns := make([]ColumnInfo, 0, len(colResult.Rows))
	for _, row := range colResult.Rows {
		c := ColumnInfo{
			Name:     stringValue(row[0]),
			Type:     stringValue(row[1]),
			Nullable: stringValue(row[3]),
		}
		if n, err := toInt64(row[2]); err == nil {
			c.MaxLength = &n
		}
		if s, ok := row[4].(string); ok {
			c.Default = &s
		}
		c.IsPrimaryKey = pk[c.Name]
		columns = append(columns, c)
	}
	return columns, nil
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
