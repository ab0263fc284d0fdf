package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenLedger is the fungible-token collaborator that holds balances and
// moves custody on command. Failures are reported with
// ErrInsufficientFunds and ErrInsufficientAllowance.
type TokenLedger interface {
	// Transfer moves amount from sender to recipient.
	Transfer(ctx context.Context, sender, recipient common.Address, amount *uint256.Int) error
	// TransferFrom moves amount from owner to recipient on behalf of
	// spender, consuming spender's allowance.
	TransferFrom(ctx context.Context, spender, owner, recipient common.Address, amount *uint256.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, account common.Address) (uint256.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (uint256.Int, error)
	TotalSupply(ctx context.Context) (uint256.Int, error)
}

// BatchLedger is implemented by ledgers that can apply several transfers
// from one sender as a single all-or-nothing step.
type BatchLedger interface {
	TransferBatch(ctx context.Context, sender common.Address, payouts []Payout) error
}

// LedgerMoves applies the token movements of one pool change through the
// given ledger view.
type LedgerMoves func(ctx context.Context, ledger TokenLedger) error

// PoolCommitter persists a pool change together with the ledger moves that
// produced it. Either both take effect or neither does; moves may be nil.
type PoolCommitter interface {
	CommitPool(ctx context.Context, p Pool, moves LedgerMoves) error
}
