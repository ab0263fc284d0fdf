package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// PoolCommitter implements domain.PoolCommitter when both the ledger and the
// pool rows live in PostgreSQL: the moves and the pool write share one
// transaction.
type PoolCommitter struct {
	pool *pgxpool.Pool
}

// NewPoolCommitter creates a PoolCommitter backed by the given connection pool.
func NewPoolCommitter(pool *pgxpool.Pool) *PoolCommitter {
	return &PoolCommitter{pool: pool}
}

// CommitPool runs moves against a Ledger bound to a new transaction, writes
// p in the same transaction and commits. A row already at or past
// p.Version means another writer got there first; the transaction is rolled
// back with domain.ErrStaleWrite.
func (c *PoolCommitter) CommitPool(ctx context.Context, p domain.Pool, moves domain.LedgerMoves) error {
	return pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		if moves != nil {
			if err := moves(ctx, &Ledger{db: tx}); err != nil {
				return err
			}
		}
		changed, err := upsertPool(ctx, tx, p)
		if err != nil {
			return err
		}
		if !changed {
			return fmt.Errorf("postgres: pool %d version %d: %w", p.ID, p.Version, domain.ErrStaleWrite)
		}
		return nil
	})
}

var _ domain.PoolCommitter = (*PoolCommitter)(nil)
