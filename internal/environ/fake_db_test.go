package environ

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB records executed SQL and answers the handful of queries the
// lifecycle manager and probe issue.
type fakeDB struct {
	mu        sync.Mutex
	execs     []string
	databases []string // names returned by the pg_database LIKE query
	exists    bool     // answer for the template-existence query
	maxConns  string
	backends  int
	execErr   error
	queryErr  error
	rowsErr   error // surfaced via Rows.Err after the listed names
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &fakeRows{names: append([]string{}, f.databases...), streamErr: f.rowsErr}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.queryErr != nil:
		return fakeRow{err: f.queryErr}
	case strings.Contains(sql, "max_connections"):
		return fakeRow{values: []any{f.maxConns}}
	case strings.Contains(sql, "pg_stat_activity"):
		return fakeRow{values: []any{f.backends}}
	case strings.Contains(sql, "EXISTS"):
		return fakeRow{values: []any{f.exists}}
	}
	return fakeRow{err: fmt.Errorf("unexpected query: %s", sql)}
}

func (f *fakeDB) executed(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sql := range f.execs {
		if strings.Contains(sql, substr) {
			return true
		}
	}
	return false
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		if i >= len(r.values) {
			break
		}
		switch target := d.(type) {
		case *string:
			*target = r.values[i].(string)
		case *int:
			*target = r.values[i].(int)
		case *bool:
			*target = r.values[i].(bool)
		default:
			return fmt.Errorf("unsupported scan target %T", d)
		}
	}
	return nil
}

// fakeRows yields database names for the cleanup listing query. A non-nil
// streamErr simulates a query that dies mid-stream: the listed names still
// come through, then Err reports the failure.
type fakeRows struct {
	names     []string
	idx       int
	streamErr error
}

func (r *fakeRows) Next() bool {
	return r.idx < len(r.names)
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.idx >= len(r.names) {
		return fmt.Errorf("scan past end")
	}
	*(dest[0].(*string)) = r.names[r.idx]
	r.idx++
	return nil
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.streamErr }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
