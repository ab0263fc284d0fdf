// Package ledger provides an in-process fungible token ledger with ERC-20
// semantics. It is the custody collaborator for standalone deployments and
// tests.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// TransferHook is called after a transfer has been applied and the ledger
// lock released. It may call back into whoever initiated the transfer.
type TransferHook func(ctx context.Context, from, to common.Address, amount uint256.Int)

// Option customises a Memory ledger.
type Option func(*Memory)

// WithTransferHook registers h to observe every applied transfer.
func WithTransferHook(h TransferHook) Option {
	return func(m *Memory) { m.hook = h }
}

// Memory is a mutex-guarded token ledger. The full supply is minted to a
// single holder at creation.
type Memory struct {
	mu         sync.Mutex
	supply     uint256.Int
	balances   map[common.Address]uint256.Int
	allowances map[common.Address]map[common.Address]uint256.Int
	hook       TransferHook
}

// infinite is the allowance that transferFrom never decreases.
var infinite = new(uint256.Int).SetAllOne()

// NewMemory creates a ledger whose whole supply belongs to holder.
func NewMemory(holder common.Address, supply *uint256.Int, opts ...Option) *Memory {
	m := &Memory{
		balances:   make(map[common.Address]uint256.Int),
		allowances: make(map[common.Address]map[common.Address]uint256.Int),
	}
	if supply != nil {
		m.supply = *supply
		m.balances[holder] = *supply
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Transfer moves amount from sender to recipient.
func (m *Memory) Transfer(ctx context.Context, sender, recipient common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	err := m.moveLocked(sender, recipient, amount)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.notify(ctx, domain.Payout{To: recipient, Amount: *amount}, sender)
	return nil
}

// TransferFrom moves amount from owner to recipient using spender's
// allowance.
func (m *Memory) TransferFrom(ctx context.Context, spender, owner, recipient common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	err := m.transferFromLocked(spender, owner, recipient, amount)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.notify(ctx, domain.Payout{To: recipient, Amount: *amount}, owner)
	return nil
}

// TransferBatch applies every payout from sender or none of them.
func (m *Memory) TransferBatch(ctx context.Context, sender common.Address, payouts []domain.Payout) error {
	m.mu.Lock()
	err := m.transferBatchLocked(sender, payouts)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	for _, p := range payouts {
		m.notify(ctx, p, sender)
	}
	return nil
}

// Approve sets spender's allowance over owner's balance to amount.
func (m *Memory) Approve(_ context.Context, owner, spender common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setAllowanceLocked(owner, spender, amount)
	return nil
}

// BalanceOf returns the balance of account.
func (m *Memory) BalanceOf(_ context.Context, account common.Address) (uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account], nil
}

// Allowance returns how much spender may still move from owner.
func (m *Memory) Allowance(_ context.Context, owner, spender common.Address) (uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowances[owner][spender], nil
}

// TotalSupply returns the amount minted at creation.
func (m *Memory) TotalSupply(_ context.Context) (uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supply, nil
}

func (m *Memory) transferFromLocked(spender, owner, recipient common.Address, amount *uint256.Int) error {
	allowed := m.allowances[owner][spender]
	if allowed.Lt(amount) {
		return fmt.Errorf("ledger: %s allows %s only %s of %s: %w",
			owner.Hex(), spender.Hex(), allowed.Dec(), amount.Dec(), domain.ErrInsufficientAllowance)
	}
	if err := m.moveLocked(owner, recipient, amount); err != nil {
		return err
	}
	if !allowed.Eq(infinite) {
		allowed.Sub(&allowed, amount)
		m.setAllowanceLocked(owner, spender, &allowed)
	}
	return nil
}

func (m *Memory) transferBatchLocked(sender common.Address, payouts []domain.Payout) error {
	var total uint256.Int
	for i := range payouts {
		if _, overflow := total.AddOverflow(&total, &payouts[i].Amount); overflow {
			return fmt.Errorf("ledger: batch total overflows: %w", domain.ErrInsufficientFunds)
		}
	}
	bal := m.balances[sender]
	if bal.Lt(&total) {
		return fmt.Errorf("ledger: %s holds %s, batch needs %s: %w",
			sender.Hex(), bal.Dec(), total.Dec(), domain.ErrInsufficientFunds)
	}
	for i := range payouts {
		// Cannot fail: the sender covers the total.
		_ = m.moveLocked(sender, payouts[i].To, &payouts[i].Amount)
	}
	return nil
}

func (m *Memory) setAllowanceLocked(owner, spender common.Address, amount *uint256.Int) {
	if m.allowances[owner] == nil {
		m.allowances[owner] = make(map[common.Address]uint256.Int)
	}
	m.allowances[owner][spender] = *amount
}

func (m *Memory) moveLocked(from, to common.Address, amount *uint256.Int) error {
	bal := m.balances[from]
	if bal.Lt(amount) {
		return fmt.Errorf("ledger: %s holds %s, needs %s: %w",
			from.Hex(), bal.Dec(), amount.Dec(), domain.ErrInsufficientFunds)
	}
	bal.Sub(&bal, amount)
	m.balances[from] = bal

	dst := m.balances[to]
	dst.Add(&dst, amount)
	m.balances[to] = dst
	return nil
}

func (m *Memory) notify(ctx context.Context, p domain.Payout, from common.Address) {
	if m.hook != nil {
		m.hook(ctx, from, p.To, p.Amount)
	}
}

// Compile-time interface checks.
var (
	_ domain.TokenLedger = (*Memory)(nil)
	_ domain.BatchLedger = (*Memory)(nil)
)
