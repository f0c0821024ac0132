// Package render turns tabular results into the text handed back to callers.
package render

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Format is the rendering style.
type Format string

const (
	// Markdown renders a human-readable table.
	Markdown Format = "markdown"
	// JSON renders an array of records.
	JSON Format = "json"
)

// DefaultLimit is the output ceiling in characters.
const DefaultLimit = 25000

// NoResults is rendered in place of an empty table or array.
const NoResults = "No results found."

// Render renders columns and rows in the given format. Zero rows render as
// NoResults in both formats.
func Render(columns []string, rows [][]any, format Format) (string, error) {
	if len(rows) == 0 {
		return NoResults, nil
	}
	if format == JSON {
		return Records(columns, rows)
	}
	return Table(columns, rows), nil
}

// Table renders a markdown table: header, separator, one line per row.
func Table(columns []string, rows [][]any) string {
	if len(rows) == 0 {
		return NoResults
	}
	var sb strings.Builder
	sb.WriteString("| ")
	for i, col := range columns {
		if i > 0 {
			sb.WriteString(" | ")
		}
		sb.WriteString(escapeCell(col))
	}
	sb.WriteString(" |\n|")
	for i := range columns {
		if i > 0 {
			sb.WriteString("|")
		}
		sb.WriteString("---")
	}
	sb.WriteString("|")
	for _, row := range rows {
		sb.WriteString("\n| ")
		for i, v := range row {
			if i > 0 {
				sb.WriteString(" | ")
			}
			sb.WriteString(Cell(v))
		}
		sb.WriteString(" |")
	}
	return sb.String()
}

// Cell renders one value for a markdown table. nil renders as NULL.
func Cell(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return escapeCell(val)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return escapeCell(fmt.Sprint(val))
		}
		return escapeCell(string(b))
	default:
		return escapeCell(fmt.Sprint(val))
	}
}

// escapeCell keeps a value on one table line and inside its column.
func escapeCell(s string) string {
	if !strings.ContainsAny(s, "|\r\n") {
		return s
	}
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}

// Records renders one JSON object per row, keys in column order, nil kept as
// null, indented with two spaces.
func Records(columns []string, rows [][]any) (string, error) {
	if len(rows) == 0 {
		return NoResults, nil
	}
	records := make([]*orderedmap.OrderedMap[string, any], len(rows))
	for i, row := range rows {
		rec := orderedmap.New[string, any](len(columns))
		for j, col := range columns {
			var v any
			if j < len(row) {
				v = row[j]
			}
			rec.Set(col, v)
		}
		records[i] = rec
	}
	return Indent(records)
}

// Indent marshals v as JSON with two-space indentation.
func Indent(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return string(b), nil
}

// Notice is appended to truncated output.
func Notice(limit int) string {
	return fmt.Sprintf("\n\n[Response truncated at %d characters. Use more specific queries or filters to reduce result size.]", limit)
}

// Truncate keeps the first limit characters (runes) of s and appends Notice.
// Output within the limit is returned unchanged with truncated false.
func Truncate(s string, limit int) (out string, truncated bool) {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + Notice(limit), true
		}
		n++
	}
	return s, false
}

// Count formats n with thousands separators, e.g. 1,234,567.
func Count(n int64) string {
	return message.NewPrinter(language.English).Sprintf("%d", n)
}
