package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// RegistryStore implements domain.RegistryStore using PostgreSQL.
type RegistryStore struct {
	db dbtx
}

// NewRegistryStore creates a new RegistryStore backed by the given connection pool.
func NewRegistryStore(pool *pgxpool.Pool) *RegistryStore {
	return &RegistryStore{db: pool}
}

// LoadConfig returns the saved registry configuration, or domain.ErrNotFound
// when the registry has never been initialised.
func (s *RegistryStore) LoadConfig(ctx context.Context) (domain.RegistryConfig, error) {
	var admin, escrowAcct string
	var multiplier int64
	var cfg domain.RegistryConfig
	err := s.db.QueryRow(ctx,
		`SELECT administrator, escrow_account, reward_multiplier FROM registry_config WHERE id`,
	).Scan(&admin, &escrowAcct, &multiplier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RegistryConfig{}, domain.ErrNotFound
		}
		return domain.RegistryConfig{}, fmt.Errorf("postgres: load registry config: %w", err)
	}
	cfg.RewardMultiplier = uint64(multiplier)
	if cfg.Administrator, err = parseAddr(admin); err != nil {
		return domain.RegistryConfig{}, err
	}
	if cfg.EscrowAccount, err = parseAddr(escrowAcct); err != nil {
		return domain.RegistryConfig{}, err
	}
	return cfg, nil
}

// SaveConfig stores the configuration singleton. An existing row is left
// untouched; the configuration is immutable once written.
func (s *RegistryStore) SaveConfig(ctx context.Context, cfg domain.RegistryConfig) error {
	const query = `
		INSERT INTO registry_config (id, administrator, escrow_account, reward_multiplier)
		VALUES (TRUE, $1, $2, $3)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.db.Exec(ctx, query,
		addrText(cfg.Administrator), addrText(cfg.EscrowAccount), int64(cfg.RewardMultiplier))
	if err != nil {
		return fmt.Errorf("postgres: save registry config: %w", err)
	}
	return nil
}

// UpsertPool writes p. Rows carrying a higher version are kept, so
// snapshots written out of order cannot roll a pool back.
func (s *RegistryStore) UpsertPool(ctx context.Context, p domain.Pool) error {
	_, err := upsertPool(ctx, s.db, p)
	return err
}

// upsertPool writes p and reports whether the row changed.
func upsertPool(ctx context.Context, db dbtx, p domain.Pool) (bool, error) {
	const query = `
		INSERT INTO pools (
			id, stake_amount, state, participants, winner,
			is_draw, has_outcome, round, version, updated_at
		) VALUES ($1, $2::numeric, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			stake_amount = EXCLUDED.stake_amount,
			state        = EXCLUDED.state,
			participants = EXCLUDED.participants,
			winner       = EXCLUDED.winner,
			is_draw      = EXCLUDED.is_draw,
			has_outcome  = EXCLUDED.has_outcome,
			round        = EXCLUDED.round,
			version      = EXCLUDED.version,
			updated_at   = NOW()
		WHERE pools.version < EXCLUDED.version`

	tag, err := db.Exec(ctx, query,
		int64(p.ID), amountText(&p.StakeAmount), int16(p.State),
		addrTexts(p.Participants), addrText(p.Winner),
		p.IsDraw, p.HasOutcome, int64(p.Round), int64(p.Version),
	)
	if err != nil {
		return false, fmt.Errorf("postgres: upsert pool %d: %w", p.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListPools returns every stored pool ordered by id.
func (s *RegistryStore) ListPools(ctx context.Context) ([]domain.Pool, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, stake_amount::text, state, participants, winner,
		       is_draw, has_outcome, round, version
		FROM pools ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.Pool
	for rows.Next() {
		var (
			p                  domain.Pool
			id, round, version int64
			stake, winner      string
			state              int16
			participants       []string
		)
		if err := rows.Scan(
			&id, &stake, &state, &participants, &winner,
			&p.IsDraw, &p.HasOutcome, &round, &version,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		p.ID, p.Round, p.Version = uint64(id), uint64(round), uint64(version)
		p.State = domain.PoolState(state)
		if p.StakeAmount, err = parseAmount(stake); err != nil {
			return nil, err
		}
		if p.Participants, err = parseAddrs(participants); err != nil {
			return nil, err
		}
		if p.Winner, err = parseAddr(winner); err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pools rows: %w", err)
	}
	return pools, nil
}
