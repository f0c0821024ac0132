package pgquery_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/rickchristie/govner/pgflock/client"
	"github.com/rs/zerolog"

	pgquery "github.com/rickchristie/pgquery-mcp"
)

const (
	pgflockLockerPort = 9776
	pgflockPassword   = "pgflock"
)

func acquireTestDB(t *testing.T) string {
	t.Helper()
	connStr, err := client.Lock(pgflockLockerPort, t.Name(), pgflockPassword)
	if err != nil {
		t.Fatalf("Failed to acquire test database: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Unlock(pgflockLockerPort, pgflockPassword, connStr)
	})
	return connStr
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func defaultConfig() pgquery.Config {
	config := pgquery.DefaultConfig()
	config.Pool.MaxConns = 5
	config.Pool.MinConns = 1
	config.Query.DefaultTimeoutSeconds = 30
	return config
}

// setupDB runs fixture statements on a dedicated connection. The gateway
// itself cannot run them.
func setupDB(t *testing.T, connStr string, statements ...string) {
	t.Helper()
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		t.Fatalf("setup connect failed: %v", err)
	}
	defer conn.Close(ctx)
	for _, sql := range statements {
		if _, err := conn.Exec(ctx, sql); err != nil {
			t.Fatalf("setup failed on %q: %v", sql, err)
		}
	}
}

// newTestGateway locks a database, loads fixtures and opens a Gateway on it.
func newTestGateway(t *testing.T, config pgquery.Config, fixtures ...string) *pgquery.Gateway {
	t.Helper()
	connStr := acquireTestDB(t)
	setupDB(t, connStr, fixtures...)
	g, err := pgquery.New(context.Background(), connStr, config, testLogger())
	if err != nil {
		t.Fatalf("Failed to create Gateway: %v", err)
	}
	t.Cleanup(g.Close)
	return g
}
