package pgquery

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"
)

// NoRowsMessage is returned by ExecuteQuery when the statement succeeded with
// an empty result.
const NoRowsMessage = "Query executed successfully but returned no rows."

// ExecuteQuery validates and runs a single read-only statement. All failures
// (validation, pool, database) are reported through Output.Error; a rejected
// statement never reaches the pool.
func (g *Gateway) ExecuteQuery(ctx context.Context, input QueryInput) *Output {
	startTime := time.Now()

	format, err := resolveFormat(input.Format)
	if err != nil {
		return g.handleError(ToolExecuteQuery, format, err)
	}

	// 1. Gate the statement. Returns the trimmed text that is executed.
	sql, err := g.checker.Check(input.SQL)
	if err != nil {
		return g.handleError(ToolExecuteQuery, format, asRejected(err))
	}

	// 2. Acquire a connection under the resolved timeout
	l, err := g.acquire(ctx, sql)
	if err != nil {
		return g.handleError(ToolExecuteQuery, format, err)
	}
	defer l.release()

	// 3. Execute and collect
	result, err := Run(l.ctx, l.session, sql)
	if err != nil {
		return g.handleError(ToolExecuteQuery, format, err)
	}

	// 4. Render
	var out *Output
	if result.Empty() {
		out = g.text(format, NoRowsMessage)
	} else {
		out, err = g.output(format, result, fmt.Sprintf("Query returned %d row(s):\n\n", len(result.Rows)))
		if err != nil {
			return g.handleError(ToolExecuteQuery, format, err)
		}
	}

	logEvent := g.logger.Info().
		Str("sql", truncateForLog(sql, 200)).
		Dur("duration", time.Since(startTime)).
		Int("row_count", len(result.Rows)).
		Str("format", string(format))
	if l.timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", l.timeoutRule)
	}
	if g.sanitizer.HasRules() {
		logEvent = logEvent.Bool("sanitized", true)
	}
	if out.Truncated {
		logEvent = logEvent.Bool("truncated", true)
	}
	logEvent.Msg("query executed")

	return out
}

// truncateForLog truncates a string for log output to avoid oversized log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
