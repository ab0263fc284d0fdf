package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by the given connection pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

const settlementCols = `id, pool_id, round, kind, stake::text, pot::text,
	winner_payout::text, fee::text, winner, participants, payouts, settled_at`

// Insert records a settlement. Re-inserting the same id is a no-op.
func (s *SettlementStore) Insert(ctx context.Context, st domain.Settlement) error {
	payouts := make([]domain.PayoutJSON, len(st.Payouts))
	for i, p := range st.Payouts {
		payouts[i] = domain.PayoutJSON{To: p.To, Amount: amountText(&p.Amount)}
	}
	payoutsJSON, err := json.Marshal(payouts)
	if err != nil {
		return fmt.Errorf("postgres: marshal payouts: %w", err)
	}

	const query = `
		INSERT INTO settlements (
			id, pool_id, round, kind, stake, pot, winner_payout, fee,
			winner, participants, payouts, settled_at
		) VALUES (
			$1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric,
			$9, $10, $11, $12
		) ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		st.ID, int64(st.PoolID), int64(st.Round), string(st.Kind),
		amountText(&st.Stake), amountText(&st.Pot),
		amountText(&st.WinnerPayout), amountText(&st.Fee),
		addrText(st.Winner), addrTexts(st.Participants), payoutsJSON, st.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement %s: %w", st.ID, err)
	}
	return nil
}

// GetByID retrieves a settlement by its id.
func (s *SettlementStore) GetByID(ctx context.Context, id string) (domain.Settlement, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+settlementCols+` FROM settlements WHERE id = $1`, id)
	st, err := scanSettlement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Settlement{}, domain.ErrNotFound
		}
		return domain.Settlement{}, fmt.Errorf("postgres: get settlement %s: %w", id, err)
	}
	return st, nil
}

// ListRecent returns settlements newest first with pagination and optional
// time filtering.
func (s *SettlementStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Settlement, error) {
	query, args := pageQuery(
		`SELECT `+settlementCols+` FROM settlements WHERE 1=1`,
		"settled_at", "settled_at DESC, id", opts, nil)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	return collectSettlements(rows)
}

// ListBefore returns every settlement older than before, oldest first.
func (s *SettlementStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Settlement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+settlementCols+` FROM settlements WHERE settled_at < $1 ORDER BY settled_at, id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectSettlements(rows)
}

func collectSettlements(rows pgx.Rows) ([]domain.Settlement, error) {
	defer rows.Close()
	var out []domain.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settlements rows: %w", err)
	}
	return out, nil
}

func scanSettlement(row pgx.Row) (domain.Settlement, error) {
	var (
		st                            domain.Settlement
		poolID, round                 int64
		kind, winner                  string
		stake, pot, winnerPayout, fee string
		participants                  []string
		payoutsJSON                   []byte
	)
	if err := row.Scan(
		&st.ID, &poolID, &round, &kind,
		&stake, &pot, &winnerPayout, &fee,
		&winner, &participants, &payoutsJSON, &st.SettledAt,
	); err != nil {
		return domain.Settlement{}, err
	}
	st.PoolID, st.Round = uint64(poolID), uint64(round)
	st.Kind = domain.SettlementKind(kind)

	var err error
	for _, f := range []struct {
		dst *uint256.Int
		src string
	}{
		{&st.Stake, stake},
		{&st.Pot, pot},
		{&st.WinnerPayout, winnerPayout},
		{&st.Fee, fee},
	} {
		if *f.dst, err = parseAmount(f.src); err != nil {
			return domain.Settlement{}, err
		}
	}
	if st.Winner, err = parseAddr(winner); err != nil {
		return domain.Settlement{}, err
	}
	if st.Participants, err = parseAddrs(participants); err != nil {
		return domain.Settlement{}, err
	}

	var payouts []domain.PayoutJSON
	if err := json.Unmarshal(payoutsJSON, &payouts); err != nil {
		return domain.Settlement{}, fmt.Errorf("postgres: unmarshal payouts: %w", err)
	}
	st.Payouts = make([]domain.Payout, len(payouts))
	for i, p := range payouts {
		amt, err := parseAmount(p.Amount)
		if err != nil {
			return domain.Settlement{}, err
		}
		st.Payouts[i] = domain.Payout{To: p.To, Amount: amt}
	}
	return st, nil
}
