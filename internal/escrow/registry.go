// Package escrow implements the two-player wagering registry: pools that
// custody a stake from each of two participants, an administrator-recorded
// outcome, and the win/draw settlement that pays out the pot and resets the
// pool for its next round.
//
// Every mutating operation follows checks-effects-interactions. Checks and
// local effects run under the registry lock; the pool is then marked busy
// while the token ledger is invoked outside the lock. A busy pool rejects
// every other mutation with domain.ErrInvalidState, so a ledger that calls
// back into the registry cannot settle or join the same pool twice. If the
// ledger fails the pending effects are discarded and the pool is unchanged.
//
// With a Committer configured, every change is persisted in the same
// all-or-nothing step as its ledger moves, and a failed write fails the
// operation.
package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// Config is the immutable configuration threaded through a Registry.
type Config struct {
	// Administrator creates pools, sets stakes, records outcomes and
	// settles draws.
	Administrator common.Address
	// EscrowAccount is the ledger account that holds custody of stakes.
	EscrowAccount common.Address
	// RewardMultiplier is the percentage of the pot paid to winners.
	RewardMultiplier uint64
	Ledger           domain.TokenLedger
	// Committer, when set, persists each pool change together with its
	// ledger moves. Registries backed by a store must have one.
	Committer domain.PoolCommitter
}

// DefaultRewardMultiplier is the payout percentage used when none is set.
const DefaultRewardMultiplier = 90

// Validate checks c for values the registry cannot operate with.
func (c Config) Validate() error {
	if c.Ledger == nil {
		return fmt.Errorf("escrow: ledger is required")
	}
	if c.Administrator == (common.Address{}) {
		return fmt.Errorf("escrow: administrator must not be the zero address")
	}
	if c.EscrowAccount == (common.Address{}) {
		return fmt.Errorf("escrow: escrow account must not be the zero address")
	}
	if c.EscrowAccount == c.Administrator {
		return fmt.Errorf("escrow: escrow account must differ from administrator")
	}
	if c.RewardMultiplier > percentBase {
		return fmt.Errorf("escrow: reward multiplier %d exceeds %d", c.RewardMultiplier, percentBase)
	}
	return nil
}

// RegistryConfig returns the persisted form of c.
func (c Config) RegistryConfig() domain.RegistryConfig {
	return domain.RegistryConfig{
		Administrator:    c.Administrator,
		EscrowAccount:    c.EscrowAccount,
		RewardMultiplier: c.RewardMultiplier,
	}
}

// slot is one arena entry. pending holds effects awaiting the ledger while
// busy is set; pool always holds the last committed state.
type slot struct {
	pool    domain.Pool
	pending domain.Pool
	busy    bool
}

// Registry is the pool registry. It is safe for concurrent use; operations
// on the registry are serialized.
type Registry struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu    sync.Mutex
	pools []*slot
}

// Option customises a Registry.
type Option func(*Registry)

// WithClock sets the clock used to stamp settlements.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator sets the generator for settlement ids.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// New creates an empty registry.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "escrow")),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  newSettlementID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Restore rebuilds a registry from persisted pools. Pools must be ordered by
// id starting at zero and each must satisfy the pool invariants.
func Restore(cfg Config, pools []domain.Pool, logger *slog.Logger, opts ...Option) (*Registry, error) {
	r, err := New(cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	r.pools = make([]*slot, 0, len(pools))
	for i, p := range pools {
		if p.ID != uint64(i) {
			return nil, fmt.Errorf("escrow: restore: pool at index %d has id %d", i, p.ID)
		}
		if !p.Consistent() {
			return nil, fmt.Errorf("escrow: restore: pool %d violates state invariants", p.ID)
		}
		if err := checkStake(&p.StakeAmount); err != nil {
			return nil, fmt.Errorf("escrow: restore: pool %d: %w", p.ID, err)
		}
		r.pools = append(r.pools, &slot{pool: p.Clone()})
	}
	r.logger.Info("escrow: registry restored", slog.Int("pools", len(pools)))
	return r, nil
}

// RewardMultiplier returns the percentage of the pot paid to winners.
func (r *Registry) RewardMultiplier() uint64 {
	return r.cfg.RewardMultiplier
}

// Administrator returns the privileged principal.
func (r *Registry) Administrator() common.Address {
	return r.cfg.Administrator
}

// EscrowAccount returns the ledger account that holds stakes.
func (r *Registry) EscrowAccount() common.Address {
	return r.cfg.EscrowAccount
}

// Config returns the registry configuration.
func (r *Registry) Config() domain.RegistryConfig {
	return r.cfg.RegistryConfig()
}

// CreatePool appends a new empty pool with the given stake and returns its id.
func (r *Registry) CreatePool(ctx context.Context, caller common.Address, stake *uint256.Int) (domain.Pool, error) {
	if err := r.requireAdmin(caller, "create pool"); err != nil {
		return domain.Pool{}, err
	}
	if err := checkStake(stake); err != nil {
		return domain.Pool{}, fmt.Errorf("escrow: create pool: %w", err)
	}

	r.mu.Lock()
	p := domain.Pool{
		ID:          uint64(len(r.pools)),
		StakeAmount: *stake,
		State:       domain.PoolEmpty,
		Version:     1,
	}
	// Ids are dense, so the write happens under the lock.
	if c := r.cfg.Committer; c != nil {
		if err := c.CommitPool(ctx, p.Clone(), nil); err != nil {
			r.mu.Unlock()
			return domain.Pool{}, fmt.Errorf("escrow: create pool %d: %w", p.ID, err)
		}
	}
	r.pools = append(r.pools, &slot{pool: p})
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "escrow: pool created",
		slog.Uint64("pool_id", p.ID),
		slog.String("stake", stake.Dec()),
	)
	return p.Clone(), nil
}

// SetStake changes the stake of an empty pool.
func (r *Registry) SetStake(ctx context.Context, caller common.Address, id uint64, stake *uint256.Int) (domain.Pool, error) {
	if err := r.requireAdmin(caller, "set stake"); err != nil {
		return domain.Pool{}, err
	}
	if err := checkStake(stake); err != nil {
		return domain.Pool{}, fmt.Errorf("escrow: set stake on pool %d: %w", id, err)
	}

	p, err := r.update(ctx, id, func(p *domain.Pool) error {
		if p.State != domain.PoolEmpty {
			return fmt.Errorf("escrow: set stake on pool %d: %w: round in progress (%s)", id, domain.ErrInvalidState, p.State)
		}
		p.StakeAmount = *stake
		return nil
	}, nil)
	if err != nil {
		return domain.Pool{}, err
	}

	r.logger.InfoContext(ctx, "escrow: stake updated",
		slog.Uint64("pool_id", id),
		slog.String("stake", stake.Dec()),
	)
	return p, nil
}

// PoolCount returns the number of pools ever created.
func (r *Registry) PoolCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(len(r.pools))
}

// GetPool returns a snapshot of the committed state of pool id.
func (r *Registry) GetPool(id uint64) (domain.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.slotLocked(id)
	if err != nil {
		return domain.Pool{}, err
	}
	return s.pool.Clone(), nil
}

// GetParticipants returns the participants of the current round in join
// order. The result is empty, never nil, when nobody has joined.
func (r *Registry) GetParticipants(id uint64) ([]common.Address, error) {
	p, err := r.GetPool(id)
	if err != nil {
		return nil, err
	}
	if p.Participants == nil {
		return []common.Address{}, nil
	}
	return p.Participants, nil
}

// Pools returns snapshots of every pool in id order.
func (r *Registry) Pools() []domain.Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Pool, len(r.pools))
	for i, s := range r.pools {
		out[i] = s.pool.Clone()
	}
	return out
}

func (r *Registry) slotLocked(id uint64) (*slot, error) {
	if id >= uint64(len(r.pools)) {
		return nil, fmt.Errorf("escrow: pool %d: %w", id, domain.ErrNotFound)
	}
	return r.pools[id], nil
}

// update applies effects to pool id under the lock. The effects stay
// pending while interact and the committer run without the lock, and are
// committed only if both succeed. interact may be nil.
func (r *Registry) update(
	ctx context.Context,
	id uint64,
	effects func(p *domain.Pool) error,
	interact func(ctx context.Context, ledger domain.TokenLedger, before, after domain.Pool) error,
) (domain.Pool, error) {
	r.mu.Lock()
	s, err := r.slotLocked(id)
	if err != nil {
		r.mu.Unlock()
		return domain.Pool{}, err
	}
	if s.busy {
		r.mu.Unlock()
		return domain.Pool{}, fmt.Errorf("escrow: pool %d: %w: another operation is in progress", id, domain.ErrInvalidState)
	}

	next := s.pool.Clone()
	if err := effects(&next); err != nil {
		r.mu.Unlock()
		return domain.Pool{}, err
	}
	next.Version++

	if interact == nil && r.cfg.Committer == nil {
		s.pool = next
		r.mu.Unlock()
		return next.Clone(), nil
	}

	before := s.pool.Clone()
	s.pending = next
	s.busy = true
	r.mu.Unlock()

	var moves domain.LedgerMoves
	if interact != nil {
		moves = func(ctx context.Context, l domain.TokenLedger) error {
			return interact(ctx, l, before, next.Clone())
		}
	}
	ierr := r.commit(ctx, next.Clone(), moves)

	r.mu.Lock()
	defer r.mu.Unlock()
	s.busy = false
	if ierr != nil {
		s.pending = domain.Pool{}
		return domain.Pool{}, ierr
	}
	s.pool = s.pending
	s.pending = domain.Pool{}
	return s.pool.Clone(), nil
}

// commit runs moves and, with a committer, persists p in the same step.
func (r *Registry) commit(ctx context.Context, p domain.Pool, moves domain.LedgerMoves) error {
	if r.cfg.Committer != nil {
		return r.cfg.Committer.CommitPool(ctx, p, moves)
	}
	if moves == nil {
		return nil
	}
	return moves(ctx, r.cfg.Ledger)
}
