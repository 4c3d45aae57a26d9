package environ

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the slice of pgxpool.Pool the lifecycle manager needs. Tests
// substitute a fake; production code passes a real pool from NewPool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPool connects an admin pool to the shared database server.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database server: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database server unreachable: %w", err)
	}
	return pool, nil
}

// quoteIdent quotes a database identifier for DDL statements, which cannot
// take bind parameters.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
