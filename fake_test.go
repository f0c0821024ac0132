package pgquery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// fakeResult is what the fake database answers to one statement.
type fakeResult struct {
	columns []string
	rows    [][]any
	err     error // returned by Query
	rowsErr error // returned by Rows.Err after iteration
}

type fakeQuery struct {
	sql  string
	args []any
}

// fakeDB is an in-memory Acquirer. handler decides the answer to every
// statement; a nil handler answers every statement with zero rows.
type fakeDB struct {
	mu         sync.Mutex
	handler    func(sql string, args []any) fakeResult
	acquireErr error
	queries    []fakeQuery
	acquired   int
	released   int
	closed     int
}

func (d *fakeDB) Acquire(ctx context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.acquireErr != nil {
		return nil, &Error{Kind: KindPoolUnavailable, Op: "acquire", Err: d.acquireErr}
	}
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: KindPoolUnavailable, Op: "acquire", Err: err}
	}
	d.acquired++
	return &fakeSession{db: d}, nil
}

func (d *fakeDB) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
}

func (d *fakeDB) stats() (acquired, released int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired, d.released
}

func (d *fakeDB) recorded() []fakeQuery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]fakeQuery(nil), d.queries...)
}

type fakeSession struct {
	db   *fakeDB
	once sync.Once
}

func (s *fakeSession) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	s.db.mu.Lock()
	s.db.queries = append(s.db.queries, fakeQuery{sql: sql, args: args})
	handler := s.db.handler
	s.db.mu.Unlock()

	var res fakeResult
	if handler != nil {
		res = handler(sql, args)
	}
	if res.err != nil {
		return nil, res.err
	}
	return &fakeRows{columns: res.columns, rows: res.rows, err: res.rowsErr, pos: -1}, nil
}

func (s *fakeSession) Release() {
	s.once.Do(func() {
		s.db.mu.Lock()
		s.db.released++
		s.db.mu.Unlock()
	})
}

// fakeRows implements pgx.Rows over fixed values.
type fakeRows struct {
	columns []string
	rows    [][]any
	err     error
	pos     int
	closed  bool
}

func (r *fakeRows) Close() { r.closed = true }

func (r *fakeRows) Err() error {
	if r.pos >= len(r.rows) {
		return r.err
	}
	return nil
}

func (r *fakeRows) CommandTag() pgconn.CommandTag {
	return pgconn.NewCommandTag(fmt.Sprintf("SELECT %d", len(r.rows)))
}

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	fds := make([]pgconn.FieldDescription, len(r.columns))
	for i, c := range r.columns {
		fds[i] = pgconn.FieldDescription{Name: c}
	}
	return fds
}

func (r *fakeRows) Next() bool {
	if r.closed {
		return false
	}
	r.pos++
	if r.pos >= len(r.rows) {
		r.pos = len(r.rows)
		r.closed = true
		return false
	}
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return errors.New("fakeRows: Scan is not supported")
}

func (r *fakeRows) Values() ([]any, error) {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return nil, io.EOF
	}
	return r.rows[r.pos], nil
}

func (r *fakeRows) RawValues() [][]byte { return nil }

func (r *fakeRows) Conn() *pgx.Conn { return nil }

func pgError(code, message string) error {
	return &pgconn.PgError{Severity: "ERROR", Code: code, Message: message}
}

func discardLogger() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}

// newFakeGateway builds a Gateway over a fakeDB with library defaults.
func newFakeGateway(t *testing.T, config Config, handler func(sql string, args []any) fakeResult) (*Gateway, *fakeDB) {
	t.Helper()
	db := &fakeDB{handler: handler}
	g := NewWithAcquirer(db, config, discardLogger())
	t.Cleanup(g.Close)
	return g, db
}

// assertReleased fails when a session was acquired but not released.
func assertReleased(t *testing.T, db *fakeDB) {
	t.Helper()
	acquired, released := db.stats()
	if acquired != released {
		t.Fatalf("expected every acquired session to be released, acquired=%d released=%d", acquired, released)
	}
}

func isCount(sql string) bool {
	return strings.HasPrefix(sql, "SELECT COUNT(*) FROM ")
}
