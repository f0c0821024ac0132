package pgquery

import "github.com/rickchristie/pgquery-mcp/internal/render"

// Format selects how results are rendered.
type Format string

const (
	// FormatMarkdown renders human-readable markdown tables (the default).
	FormatMarkdown Format = "markdown"
	// FormatJSON renders an array of records, one per row.
	FormatJSON Format = "json"
)

// DefaultSchema is used when a caller does not name a schema.
const DefaultSchema = "public"

// Sample limits for GetTableSample.
const (
	DefaultSampleLimit = 10
	MaxSampleLimit     = 100
)

// MaxIdentifierLength bounds schema and table names.
const MaxIdentifierLength = 100

func (f Format) render() render.Format {
	if f == FormatJSON {
		return render.JSON
	}
	return render.Markdown
}

// resolveFormat maps an empty format to markdown and rejects unknown values.
func resolveFormat(f Format) (Format, error) {
	switch f {
	case "":
		return FormatMarkdown, nil
	case FormatMarkdown, FormatJSON:
		return f, nil
	default:
		return FormatMarkdown, validationError("format", "Invalid response_format %q: must be '%s' or '%s'.", f, FormatMarkdown, FormatJSON)
	}
}

// QueryInput is the input for the execute_query tool.
type QueryInput struct {
	SQL    string `json:"query"`
	Format Format `json:"response_format"`
}

// ListTablesInput is the input for the list_tables tool.
type ListTablesInput struct {
	Schema string `json:"schema"`
	Format Format `json:"response_format"`
}

// DescribeTableInput is the input for the describe_table tool.
type DescribeTableInput struct {
	Table  string `json:"table_name"`
	Schema string `json:"schema"`
	Format Format `json:"response_format"`
}

// SampleInput is the input for the get_table_sample tool. A nil Limit means
// DefaultSampleLimit; any other value must be within 1..MaxSampleLimit.
type SampleInput struct {
	Table  string `json:"table_name"`
	Schema string `json:"schema"`
	Limit  *int   `json:"limit,omitempty"`
	Format Format `json:"response_format"`
}

// SampleLimit returns n as a SampleInput.Limit.
func SampleLimit(n int) *int {
	return &n
}

// Output is the result of every tool. On failure Error holds the text shown
// to the caller and Text is empty. Text never exceeds the configured output
// limit apart from the truncation notice.
type Output struct {
	Format    Format `json:"format"`
	Text      string `json:"text,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind Kind   `json:"error_kind,omitempty"`
}

// ResultSet is what one statement returned. Every row has len(Columns)
// values, in the order the database returned them.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Empty reports whether the statement returned zero rows.
func (r *ResultSet) Empty() bool {
	return r == nil || len(r.Rows) == 0
}

// TableEntry is one row of the list_tables output.
type TableEntry struct {
	TableName     string `json:"table_name"`
	Schema        string `json:"schema"`
	EstimatedRows int64  `json:"estimated_rows"`
}

// ColumnInfo describes a single column in the describe_table output.
type ColumnInfo struct {
	Name         string  `json:"column_name"`
	Type         string  `json:"data_type"`
	MaxLength    *int64  `json:"character_maximum_length"`
	Nullable     string  `json:"is_nullable"`
	Default      *string `json:"column_default"`
	IsPrimaryKey bool    `json:"primary_key"`
}
