package pgquery

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tool names as exposed over MCP.
const (
	ToolExecuteQuery   = "execute_query"
	ToolListTables     = "list_tables"
	ToolDescribeTable  = "describe_table"
	ToolGetTableSample = "get_table_sample"
)

func formatParam() mcp.ToolOption {
	return mcp.WithString("response_format",
		mcp.Description("Output format: 'markdown' for human-readable tables or 'json' for machine-readable records"),
		mcp.Enum(string(FormatMarkdown), string(FormatJSON)),
		mcp.DefaultString(string(FormatMarkdown)),
	)
}

func schemaParam() mcp.ToolOption {
	return mcp.WithString("schema",
		mcp.Description("Database schema name (defaults to 'public')"),
		mcp.DefaultString(DefaultSchema),
		mcp.MinLength(1),
		mcp.MaxLength(MaxIdentifierLength),
	)
}

func tableParam() mcp.ToolOption {
	return mcp.WithString("table_name",
		mcp.Required(),
		mcp.Description("Name of the table"),
		mcp.MinLength(1),
		mcp.MaxLength(MaxIdentifierLength),
	)
}

// readOnlyAnnotations marks a tool as read-only, non-destructive, idempotent
// and closed-world.
func readOnlyAnnotations(title string) []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithTitleAnnotation(title),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	}
}

// RegisterMCPTools registers execute_query, list_tables, describe_table and
// get_table_sample as MCP tools on the given MCP server.
func RegisterMCPTools(mcpServer *server.MCPServer, g *Gateway) {
	// execute_query
	queryTool := mcp.NewTool(ToolExecuteQuery, append([]mcp.ToolOption{
		mcp.WithDescription("Execute a read-only SQL query against the PostgreSQL database. "+
			"Statements containing INSERT, UPDATE, DELETE, DROP, CREATE, ALTER or TRUNCATE are rejected."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("SQL SELECT query to execute"),
			mcp.MinLength(1),
			mcp.MaxLength(g.config.Query.MaxSQLLength),
		),
		formatParam(),
	}, readOnlyAnnotations("Execute PostgreSQL Query")...)...)

	mcpServer.AddTool(queryTool, g.loggedToolHandler(ToolExecuteQuery, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query parameter is required"), nil
		}
		return toolResult(g.ExecuteQuery(ctx, QueryInput{
			SQL:    sql,
			Format: Format(req.GetString("response_format", "")),
		})), nil
	}))

	// list_tables
	listTablesTool := mcp.NewTool(ToolListTables, append([]mcp.ToolOption{
		mcp.WithDescription("List the tables of a schema with their exact row counts. " +
			"Counts are taken one table at a time, so large schemas take longer."),
		schemaParam(),
		formatParam(),
	}, readOnlyAnnotations("List Database Tables")...)...)

	mcpServer.AddTool(listTablesTool, g.loggedToolHandler(ToolListTables, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		format := Format(req.GetString("response_format", ""))
		schema, err := schemaArg(req)
		if err != nil {
			return toolResult(g.handleError(ToolListTables, format, err)), nil
		}
		return toolResult(g.ListTables(ctx, ListTablesInput{
			Schema: schema,
			Format: format,
		})), nil
	}))

	// describe_table
	describeTableTool := mcp.NewTool(ToolDescribeTable, append([]mcp.ToolOption{
		mcp.WithDescription("Describe the columns of a table: type, maximum length, nullability, default and primary key membership."),
		tableParam(),
		schemaParam(),
		formatParam(),
	}, readOnlyAnnotations("Describe Table Structure")...)...)

	mcpServer.AddTool(describeTableTool, g.loggedToolHandler(ToolDescribeTable, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table_name")
		if err != nil {
			return mcp.NewToolResultError("table_name parameter is required"), nil
		}
		format := Format(req.GetString("response_format", ""))
		schema, err := schemaArg(req)
		if err != nil {
			return toolResult(g.handleError(ToolDescribeTable, format, err)), nil
		}
		return toolResult(g.DescribeTable(ctx, DescribeTableInput{
			Table:  table,
			Schema: schema,
			Format: format,
		})), nil
	}))

	// get_table_sample
	sampleTool := mcp.NewTool(ToolGetTableSample, append([]mcp.ToolOption{
		mcp.WithDescription("Return a sample of rows from a table."),
		tableParam(),
		schemaParam(),
		mcp.WithNumber("limit",
			mcp.Description("Number of rows to return (1-100)"),
			mcp.Min(1),
			mcp.Max(MaxSampleLimit),
			mcp.DefaultNumber(DefaultSampleLimit),
		),
		formatParam(),
	}, readOnlyAnnotations("Get Sample Data from Table")...)...)

	mcpServer.AddTool(sampleTool, g.loggedToolHandler(ToolGetTableSample, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table_name")
		if err != nil {
			return mcp.NewToolResultError("table_name parameter is required"), nil
		}
		format := Format(req.GetString("response_format", ""))
		schema, err := schemaArg(req)
		if err != nil {
			return toolResult(g.handleError(ToolGetTableSample, format, err)), nil
		}
		limit, err := limitArg(req)
		if err != nil {
			return toolResult(g.handleError(ToolGetTableSample, format, err)), nil
		}
		return toolResult(g.GetTableSample(ctx, SampleInput{
			Table:  table,
			Schema: schema,
			Limit:  limit,
			Format: format,
		})), nil
	}))
}

// schemaArg returns the schema argument, or DefaultSchema when it was
// omitted. A supplied value, including "", must be a valid identifier.
func schemaArg(req mcp.CallToolRequest) (string, error) {
	v, ok := req.GetArguments()["schema"]
	if !ok || v == nil {
		return DefaultSchema, nil
	}
	s, _ := v.(string)
	if err := checkIdentifier("schema", s); err != nil {
		return "", err
	}
	return s, nil
}

// limitArg returns nil when limit was omitted. A supplied limit must be a
// whole number; the range is checked by GetTableSample.
func limitArg(req mcp.CallToolRequest) (*int, error) {
	v, ok := req.GetArguments()["limit"]
	if !ok || v == nil {
		return nil, nil
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		return SampleLimit(n), nil
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil, validationError("limit", "Invalid limit %q: must be a whole number between 1 and %d.", n, MaxSampleLimit)
		}
		f = parsed
	default:
		return nil, validationError("limit", "Invalid limit %v: must be a whole number between 1 and %d.", v, MaxSampleLimit)
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return nil, validationError("limit", "Invalid limit %v: must be a whole number between 1 and %d.", f, MaxSampleLimit)
	}
	return SampleLimit(int(f)), nil
}

// toolResult converts an Output into an MCP result. Failures become error
// results carrying the caller-facing text.
func toolResult(out *Output) *mcp.CallToolResult {
	if out.Error != "" {
		return mcp.NewToolResultError(out.Error)
	}
	return mcp.NewToolResultText(out.Text)
}

// loggedToolHandler wraps a tool handler to log request and response lengths.
func (g *Gateway) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		startTime := time.Now()
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		g.logger.Info().
			Str("tool", tool).
			Str("request_id", uuid.NewString()).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Bool("is_error", result != nil && result.IsError).
			Dur("duration", time.Since(startTime)).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
