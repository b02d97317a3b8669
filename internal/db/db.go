// Package db provides the database access interfaces and bulk-write helpers
// shared by the Postgres-backed store.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the query surface shared by a connection pool and an open
// transaction. Store methods run against a Querier so the same code serves
// both autocommit and in-transaction execution.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Pool is the lifecycle-owning side of a Querier. *pgxpool.Pool satisfies
// it, and so does pgxmock's pool interface, which is what the unit tests
// substitute.
type Pool interface {
	Querier
	Ping(ctx context.Context) error
	Close()
}
