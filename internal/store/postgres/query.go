package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx, so a store can run
// on its own or inside a caller's transaction. Begin on a pgx.Tx opens a
// savepoint.
type dbtx interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pageQuery appends the time range, ordering and pagination of opts to a
// base query whose own placeholders are already in args.
func pageQuery(base, timeCol, order string, opts domain.ListOpts, args []any) (string, []any) {
	query := base
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.Since != nil {
		query += " AND " + timeCol + " >= " + next(*opts.Since)
	}
	if opts.Until != nil {
		query += " AND " + timeCol + " <= " + next(*opts.Until)
	}
	query += " ORDER BY " + order
	if opts.Limit > 0 {
		query += " LIMIT " + next(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + next(opts.Offset)
	}
	return query, args
}
