package pgquery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Querier is the part of a connection the executor uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Session is one checked-out connection. Release must be called exactly once
// per successful Acquire; extra calls are no-ops.
type Session interface {
	Querier
	Release()
}

// Acquirer hands out sessions. *ConnPool is the production implementation.
type Acquirer interface {
	Acquire(ctx context.Context) (Session, error)
	Close()
}

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("connection pool is closed")

// ConnPool owns the live connections for the lifetime of the process. At most
// MaxConns sessions are checked out at once; further Acquire calls wait.
type ConnPool struct {
	pool      *pgxpool.Pool
	slots     chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	logger    zerolog.Logger
}

// OpenPool creates the pool and verifies connectivity. A returned error means
// the gateway cannot serve. Panics on invalid PoolConfig.
func OpenPool(ctx context.Context, connString string, config PoolConfig, logger zerolog.Logger) (*ConnPool, error) {
	if connString == "" {
		panic("pgquery: connString must be non-empty")
	}
	if config.MaxConns <= 0 {
		panic("pgquery: pool.max_conns must be > 0")
	}
	if config.MinConns < 0 || config.MinConns > config.MaxConns {
		panic(fmt.Sprintf("pgquery: pool.min_conns must be between 0 and max_conns (%d)", config.MaxConns))
	}

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(config.MaxConns)
	poolConfig.MinConns = int32(config.MinConns)
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	if d := parsePoolDuration("max_conn_lifetime", config.MaxConnLifetime); d > 0 {
		poolConfig.MaxConnLifetime = d
	}
	if d := parsePoolDuration("max_conn_idle_time", config.MaxConnIdleTime); d > 0 {
		poolConfig.MaxConnIdleTime = d
	}
	if d := parsePoolDuration("health_check_period", config.HealthCheckPeriod); d > 0 {
		poolConfig.HealthCheckPeriod = d
	}

	readOnly := config.ReadOnlySession == nil || *config.ReadOnlySession
	if readOnly || config.Timezone != "" {
		timezone := config.Timezone
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if readOnly {
				if _, err := conn.Exec(ctx, "SET default_transaction_read_only = on"); err != nil {
					return fmt.Errorf("failed to SET default_transaction_read_only: %w", err)
				}
			}
			if timezone != "" {
				escaped := strings.ReplaceAll(timezone, "'", "''")
				if _, err := conn.Exec(ctx, fmt.Sprintf("SET timezone = '%s'", escaped)); err != nil {
					return fmt.Errorf("failed to SET timezone: %w", err)
				}
			}
			return nil
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info().
		Str("host", poolConfig.ConnConfig.Host).
		Str("database", poolConfig.ConnConfig.Database).
		Int("min_conns", config.MinConns).
		Int("max_conns", config.MaxConns).
		Bool("read_only_session", readOnly).
		Msg("connection pool opened")

	return &ConnPool{
		pool:   pool,
		slots:  make(chan struct{}, config.MaxConns),
		logger: logger,
	}, nil
}

func parsePoolDuration(name, value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("pgquery: invalid pool.%s %q: %v", name, value, err))
	}
	return d
}

// Acquire waits for a free slot and checks out a connection. Failures are
// KindPoolUnavailable and only affect the calling request.
func (p *ConnPool) Acquire(ctx context.Context) (Session, error) {
	if p.closed.Load() {
		return nil, &Error{Kind: KindPoolUnavailable, Op: "acquire", Err: ErrPoolClosed}
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, &Error{
			Kind: KindPoolUnavailable,
			Op:   "acquire",
			Err:  fmt.Errorf("all %d connection slots are in use, context cancelled while waiting: %w", cap(p.slots), ctx.Err()),
		}
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		<-p.slots
		return nil, &Error{Kind: KindPoolUnavailable, Op: "acquire", Err: err}
	}
	return &pgxSession{conn: conn, slots: p.slots}, nil
}

// Ping checks that a connection can be established and used.
func (p *ConnPool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Stats returns the underlying pgxpool statistics.
func (p *ConnPool) Stats() *pgxpool.Stat {
	return p.pool.Stat()
}

// InUse returns the number of checked-out sessions.
func (p *ConnPool) InUse() int {
	return len(p.slots)
}

// Close drains and closes every connection. Safe to call more than once.
func (p *ConnPool) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.pool.Close()
		p.logger.Info().Msg("connection pool closed")
	})
}

type pgxSession struct {
	conn  *pgxpool.Conn
	slots chan struct{}
	once  sync.Once
}

func (s *pgxSession) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.conn.Query(ctx, sql, args...)
}

func (s *pgxSession) Release() {
	s.once.Do(func() {
		s.conn.Release()
		<-s.slots
	})
}
