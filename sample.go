package pgquery

import (
	"context"
	"fmt"
	"time"
)

// GetTableSample returns up to Limit rows of a table. The limit is checked
// before any connection is used.
func (g *Gateway) GetTableSample(ctx context.Context, input SampleInput) *Output {
	startTime := time.Now()

	format, err := resolveFormat(input.Format)
	if err != nil {
		return g.handleError(ToolGetTableSample, format, err)
	}
	schema, table, err := resolveTableRef(input.Schema, input.Table)
	if err != nil {
		return g.handleError(ToolGetTableSample, format, err)
	}
	limit := DefaultSampleLimit
	if input.Limit != nil {
		limit = *input.Limit
	}
	if limit < 1 || limit > MaxSampleLimit {
		return g.handleError(ToolGetTableSample, format,
			validationError("limit", "Invalid limit %d: must be between 1 and %d.", limit, MaxSampleLimit))
	}

	sql := fmt.Sprintf("SELECT * FROM %s LIMIT $1", qualifiedName(schema, table))

	l, err := g.acquire(ctx, sql)
	if err != nil {
		return g.handleError(ToolGetTableSample, format, err)
	}
	defer l.release()

	result, err := Run(l.ctx, l.session, sql, limit)
	if err != nil {
		if KindOf(err) == KindUndefinedTable {
			g.logger.Info().
				Str("schema", schema).
				Str("table", table).
				Msg("GetTableSample table not found")
			msg, _ := g.errPrompts.Annotate(tableNotFound(schema, table))
			return &Output{Format: format, Error: msg, ErrorKind: KindUndefinedTable}
		}
		return g.handleError(ToolGetTableSample, format, err)
	}

	g.logger.Info().
		Str("schema", schema).
		Str("table", table).
		Int("limit", limit).
		Dur("duration", time.Since(startTime)).
		Int("row_count", len(result.Rows)).
		Msg("GetTableSample executed")

	if result.Empty() {
		return g.text(format, fmt.Sprintf("Table '%s.%s' exists but contains no data.", schema, table))
	}

	preface := fmt.Sprintf("Sample data from %s.%s (showing %d of %d requested rows):\n\n", schema, table, len(result.Rows), limit)
	out, err := g.output(format, result, preface)
	if err != nil {
		return g.handleError(ToolGetTableSample, format, err)
	}
	return out
}
