// Package pgquery is a read-only query gateway in front of PostgreSQL,
// exposed to AI agents through the Model Context Protocol (MCP).
//
// It provides four tools: execute_query, list_tables, describe_table and
// get_table_sample. Every statement passed to execute_query goes through a
// keyword gate before any connection is used; statements containing INSERT,
// UPDATE, DELETE, DROP, CREATE, ALTER or TRUNCATE are rejected. The gate is
// lexical, so a keyword inside a string literal or an identifier such as
// created_at is rejected as well. An optional parse check using PostgreSQL's
// own parser (pg_query) can additionally restrict input to a single SELECT,
// SHOW or EXPLAIN statement.
//
// Connections come from a bounded pgx pool. By default every new connection
// runs SET default_transaction_read_only = on, so writes that slip past the
// gate (volatile functions, for example) still fail in the database.
//
// Results are rendered as markdown tables or JSON records and truncated at
// 25,000 characters with a notice.
//
// # Library Usage
//
//	g, err := pgquery.New(ctx, connString, pgquery.DefaultConfig(), logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer g.Close()
//
//	// Use directly
//	out := g.ExecuteQuery(ctx, pgquery.QueryInput{SQL: "SELECT * FROM users LIMIT 10"})
//	if out.Error != "" {
//		log.Print(out.Error)
//	}
//
//	// Or register as MCP tools
//	pgquery.RegisterMCPTools(mcpServer, g)
//
// # Scalability
//
// list_tables counts rows with one COUNT(*) per table, sequentially on a
// single connection. On schemas with many or large tables it is slow and
// holds that connection for the whole listing.
package pgquery
