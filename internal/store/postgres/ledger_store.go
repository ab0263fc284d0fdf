package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// Ledger implements domain.TokenLedger and domain.BatchLedger on PostgreSQL.
// Every call runs in its own transaction, or in a savepoint when the Ledger
// is bound to an outer one; debits are conditional updates so a balance can
// never go negative.
type Ledger struct {
	db dbtx
}

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{db: pool}
}

var infiniteAllowance = new(uint256.Int).SetAllOne()

// Genesis mints supply to holder the first time it is called and reports
// whether it did. Later calls leave the ledger untouched.
func (l *Ledger) Genesis(ctx context.Context, holder common.Address, supply *uint256.Int) (bool, error) {
	minted := false
	err := pgx.BeginFunc(ctx, l.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO ledger_supply (id, total) VALUES (TRUE, $1::numeric) ON CONFLICT (id) DO NOTHING`,
			amountText(supply))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		minted = true
		return credit(ctx, tx, holder, supply)
	})
	if err != nil {
		return false, fmt.Errorf("postgres: ledger genesis: %w", err)
	}
	return minted, nil
}

// Transfer moves amount from sender to recipient.
func (l *Ledger) Transfer(ctx context.Context, sender, recipient common.Address, amount *uint256.Int) error {
	return pgx.BeginFunc(ctx, l.db, func(tx pgx.Tx) error {
		return move(ctx, tx, sender, recipient, amount)
	})
}

// TransferFrom moves amount from owner to recipient against spender's
// allowance.
func (l *Ledger) TransferFrom(ctx context.Context, spender, owner, recipient common.Address, amount *uint256.Int) error {
	return pgx.BeginFunc(ctx, l.db, func(tx pgx.Tx) error {
		var text string
		err := tx.QueryRow(ctx, `
			SELECT amount::text FROM ledger_allowances
			WHERE owner = $1 AND spender = $2 FOR UPDATE`,
			addrText(owner), addrText(spender)).Scan(&text)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: read allowance: %w", err)
		}
		allowed := uint256.Int{}
		if text != "" {
			if allowed, err = parseAmount(text); err != nil {
				return err
			}
		}
		if allowed.Lt(amount) {
			return fmt.Errorf("postgres: %s allows %s only %s of %s: %w",
				owner.Hex(), spender.Hex(), allowed.Dec(), amount.Dec(), domain.ErrInsufficientAllowance)
		}
		if err := move(ctx, tx, owner, recipient, amount); err != nil {
			return err
		}
		if allowed.Eq(infiniteAllowance) {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE ledger_allowances SET amount = amount - $3::numeric, updated_at = NOW()
			WHERE owner = $1 AND spender = $2`,
			addrText(owner), addrText(spender), amountText(amount))
		if err != nil {
			return fmt.Errorf("postgres: spend allowance: %w", err)
		}
		return nil
	})
}

// TransferBatch applies every payout from sender in one transaction.
func (l *Ledger) TransferBatch(ctx context.Context, sender common.Address, payouts []domain.Payout) error {
	return pgx.BeginFunc(ctx, l.db, func(tx pgx.Tx) error {
		for i := range payouts {
			if err := move(ctx, tx, sender, payouts[i].To, &payouts[i].Amount); err != nil {
				return fmt.Errorf("postgres: batch payout %d: %w", i, err)
			}
		}
		return nil
	})
}

// Approve sets spender's allowance over owner's balance.
func (l *Ledger) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO ledger_allowances (owner, spender, amount, updated_at)
		VALUES ($1, $2, $3::numeric, NOW())
		ON CONFLICT (owner, spender) DO UPDATE SET amount = EXCLUDED.amount, updated_at = NOW()`,
		addrText(owner), addrText(spender), amountText(amount))
	if err != nil {
		return fmt.Errorf("postgres: approve: %w", err)
	}
	return nil
}

// BalanceOf returns the balance of account; unknown accounts hold zero.
func (l *Ledger) BalanceOf(ctx context.Context, account common.Address) (uint256.Int, error) {
	return l.queryAmount(ctx, "balance",
		`SELECT balance::text FROM ledger_balances WHERE account = $1`, addrText(account))
}

// Allowance returns how much spender may still move from owner.
func (l *Ledger) Allowance(ctx context.Context, owner, spender common.Address) (uint256.Int, error) {
	return l.queryAmount(ctx, "allowance",
		`SELECT amount::text FROM ledger_allowances WHERE owner = $1 AND spender = $2`,
		addrText(owner), addrText(spender))
}

// TotalSupply returns the minted supply, zero before genesis.
func (l *Ledger) TotalSupply(ctx context.Context) (uint256.Int, error) {
	return l.queryAmount(ctx, "total supply", `SELECT total::text FROM ledger_supply WHERE id`)
}

func (l *Ledger) queryAmount(ctx context.Context, what, query string, args ...any) (uint256.Int, error) {
	var text string
	err := l.db.QueryRow(ctx, query, args...).Scan(&text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uint256.Int{}, nil
		}
		return uint256.Int{}, fmt.Errorf("postgres: read %s: %w", what, err)
	}
	return parseAmount(text)
}

func move(ctx context.Context, tx pgx.Tx, from, to common.Address, amount *uint256.Int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE ledger_balances SET balance = balance - $2::numeric, updated_at = NOW()
		WHERE account = $1 AND balance >= $2::numeric`,
		addrText(from), amountText(amount))
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", from.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: %s cannot cover %s: %w", from.Hex(), amount.Dec(), domain.ErrInsufficientFunds)
	}
	return credit(ctx, tx, to, amount)
}

func credit(ctx context.Context, tx pgx.Tx, to common.Address, amount *uint256.Int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_balances (account, balance, updated_at)
		VALUES ($1, $2::numeric, NOW())
		ON CONFLICT (account) DO UPDATE
		SET balance = ledger_balances.balance + EXCLUDED.balance, updated_at = NOW()`,
		addrText(to), amountText(amount))
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", to.Hex(), err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.TokenLedger = (*Ledger)(nil)
	_ domain.BatchLedger = (*Ledger)(nil)
)
