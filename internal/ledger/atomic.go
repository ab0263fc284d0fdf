package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// Atomic runs fn against a staged view of the ledger. Moves made through the
// view are kept only when fn returns nil; otherwise every balance and
// allowance it touched is put back. The ledger stays locked while fn runs,
// so fn must not call the Memory methods directly. Transfer hooks fire after
// the lock is released.
func (m *Memory) Atomic(ctx context.Context, fn domain.LedgerMoves) error {
	tx := &memTx{
		m:          m,
		balances:   make(map[common.Address]uint256.Int),
		allowances: make(map[allowanceKey]uint256.Int),
	}
	if err := tx.run(ctx, fn); err != nil {
		return err
	}
	for _, a := range tx.applied {
		m.notify(ctx, a.payout, a.from)
	}
	return nil
}

type allowanceKey struct {
	owner, spender common.Address
}

type appliedMove struct {
	from   common.Address
	payout domain.Payout
}

// memTx is the staged view handed to Atomic callbacks. It records the first
// value of every entry it changes.
type memTx struct {
	m          *Memory
	balances   map[common.Address]uint256.Int
	allowances map[allowanceKey]uint256.Int
	applied    []appliedMove
}

func (tx *memTx) run(ctx context.Context, fn domain.LedgerMoves) (err error) {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()
	return fn(ctx, tx)
}

func (tx *memTx) rollback() {
	for a, bal := range tx.balances {
		tx.m.balances[a] = bal
	}
	for k, amount := range tx.allowances {
		tx.m.setAllowanceLocked(k.owner, k.spender, &amount)
	}
	tx.applied = nil
}

func (tx *memTx) touch(accounts ...common.Address) {
	for _, a := range accounts {
		if _, ok := tx.balances[a]; !ok {
			tx.balances[a] = tx.m.balances[a]
		}
	}
}

func (tx *memTx) touchAllowance(owner, spender common.Address) {
	k := allowanceKey{owner: owner, spender: spender}
	if _, ok := tx.allowances[k]; !ok {
		tx.allowances[k] = tx.m.allowances[owner][spender]
	}
}

func (tx *memTx) Transfer(_ context.Context, sender, recipient common.Address, amount *uint256.Int) error {
	tx.touch(sender, recipient)
	if err := tx.m.moveLocked(sender, recipient, amount); err != nil {
		return err
	}
	tx.applied = append(tx.applied, appliedMove{from: sender, payout: domain.Payout{To: recipient, Amount: *amount}})
	return nil
}

func (tx *memTx) TransferFrom(_ context.Context, spender, owner, recipient common.Address, amount *uint256.Int) error {
	tx.touch(owner, recipient)
	tx.touchAllowance(owner, spender)
	if err := tx.m.transferFromLocked(spender, owner, recipient, amount); err != nil {
		return err
	}
	tx.applied = append(tx.applied, appliedMove{from: owner, payout: domain.Payout{To: recipient, Amount: *amount}})
	return nil
}

func (tx *memTx) TransferBatch(_ context.Context, sender common.Address, payouts []domain.Payout) error {
	tx.touch(sender)
	for _, p := range payouts {
		tx.touch(p.To)
	}
	if err := tx.m.transferBatchLocked(sender, payouts); err != nil {
		return err
	}
	for _, p := range payouts {
		tx.applied = append(tx.applied, appliedMove{from: sender, payout: p})
	}
	return nil
}

func (tx *memTx) Approve(_ context.Context, owner, spender common.Address, amount *uint256.Int) error {
	tx.touchAllowance(owner, spender)
	tx.m.setAllowanceLocked(owner, spender, amount)
	return nil
}

func (tx *memTx) BalanceOf(_ context.Context, account common.Address) (uint256.Int, error) {
	return tx.m.balances[account], nil
}

func (tx *memTx) Allowance(_ context.Context, owner, spender common.Address) (uint256.Int, error) {
	return tx.m.allowances[owner][spender], nil
}

func (tx *memTx) TotalSupply(context.Context) (uint256.Int, error) {
	return tx.m.supply, nil
}

// PoolCommitter pairs a Memory ledger with a pool store. The pool is written
// inside the ledger's staged view, so a failed write discards the moves.
type PoolCommitter struct {
	ledger *Memory
	store  domain.RegistryStore
}

// NewPoolCommitter creates a PoolCommitter over m and store.
func NewPoolCommitter(m *Memory, store domain.RegistryStore) *PoolCommitter {
	return &PoolCommitter{ledger: m, store: store}
}

// CommitPool applies moves and writes p as one step.
func (c *PoolCommitter) CommitPool(ctx context.Context, p domain.Pool, moves domain.LedgerMoves) error {
	return c.ledger.Atomic(ctx, func(ctx context.Context, l domain.TokenLedger) error {
		if moves != nil {
			if err := moves(ctx, l); err != nil {
				return err
			}
		}
		if err := c.store.UpsertPool(ctx, p); err != nil {
			return fmt.Errorf("ledger: persist pool %d: %w", p.ID, err)
		}
		return nil
	})
}

// Compile-time interface checks.
var (
	_ domain.TokenLedger   = (*memTx)(nil)
	_ domain.BatchLedger   = (*memTx)(nil)
	_ domain.PoolCommitter = (*PoolCommitter)(nil)
)
