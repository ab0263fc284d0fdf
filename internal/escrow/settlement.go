package escrow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// Claim settles a won round. Only the recorded winner may claim; the winner
// receives the reward share of the pot and the administrator the fee.
func (r *Registry) Claim(ctx context.Context, id uint64, caller common.Address) (domain.Settlement, domain.Pool, error) {
	return r.settle(ctx, id, domain.SettlementWin, func(p *domain.Pool) (Split, error) {
		if p.State != domain.PoolFull || !p.HasOutcome || p.IsDraw {
			return Split{}, fmt.Errorf("escrow: claim pool %d: %w: no win recorded", id, domain.ErrInvalidState)
		}
		if caller != p.Winner {
			return Split{}, fmt.Errorf("escrow: claim pool %d: %w: %s is not the winner", id, domain.ErrUnauthorized, caller.Hex())
		}
		return WinSplit(&p.StakeAmount, r.cfg.RewardMultiplier, p.Winner, r.cfg.Administrator), nil
	})
}

// SettleDraw settles a drawn round, splitting the reward share of the pot
// evenly between the participants and paying the fee to the administrator.
func (r *Registry) SettleDraw(ctx context.Context, caller common.Address, id uint64) (domain.Settlement, domain.Pool, error) {
	if err := r.requireAdmin(caller, "settle draw"); err != nil {
		return domain.Settlement{}, domain.Pool{}, err
	}
	return r.settle(ctx, id, domain.SettlementDraw, func(p *domain.Pool) (Split, error) {
		if p.State != domain.PoolFull || !p.HasOutcome || !p.IsDraw {
			return Split{}, fmt.Errorf("escrow: settle draw on pool %d: %w: no draw recorded", id, domain.ErrInvalidState)
		}
		return DrawSplit(&p.StakeAmount, r.cfg.RewardMultiplier, p.Participants, r.cfg.Administrator), nil
	})
}

// settle resets the pool to empty as a pending effect and commits it once
// the payouts have left escrow.
func (r *Registry) settle(
	ctx context.Context,
	id uint64,
	kind domain.SettlementKind,
	split func(p *domain.Pool) (Split, error),
) (domain.Settlement, domain.Pool, error) {
	var st domain.Settlement

	p, err := r.update(ctx, id,
		func(p *domain.Pool) error {
			sp, err := split(p)
			if err != nil {
				return err
			}
			st = domain.Settlement{
				ID:           r.newID(),
				PoolID:       p.ID,
				Round:        p.Round,
				Kind:         kind,
				Stake:        p.StakeAmount,
				Pot:          sp.Pot,
				WinnerPayout: sp.WinnerPayout,
				Fee:          sp.Fee,
				Winner:       p.Winner,
				Participants: append([]common.Address(nil), p.Participants...),
				Payouts:      sp.Payouts,
				SettledAt:    r.now(),
			}
			p.Participants = nil
			p.Winner = common.Address{}
			p.IsDraw = false
			p.HasOutcome = false
			p.State = domain.PoolEmpty
			p.Round++
			return nil
		},
		func(ctx context.Context, ledger domain.TokenLedger, _, _ domain.Pool) error {
			if err := r.pay(ctx, ledger, st.Payouts); err != nil {
				return fmt.Errorf("escrow: settle pool %d: payout: %w", id, err)
			}
			return nil
		},
	)
	if err != nil {
		return domain.Settlement{}, domain.Pool{}, err
	}

	r.logger.InfoContext(ctx, "escrow: pool settled",
		slog.Uint64("pool_id", id),
		slog.Uint64("round", st.Round),
		slog.String("kind", string(kind)),
		slog.String("pot", st.Pot.Dec()),
		slog.String("fee", st.Fee.Dec()),
		slog.String("settlement_id", st.ID),
	)
	return st, p, nil
}

// pay moves payouts out of escrow, in a single batch when the ledger
// supports it. Zero amounts are skipped.
func (r *Registry) pay(ctx context.Context, ledger domain.TokenLedger, payouts []domain.Payout) error {
	nonzero := make([]domain.Payout, 0, len(payouts))
	for _, p := range payouts {
		if !p.Amount.IsZero() {
			nonzero = append(nonzero, p)
		}
	}
	if len(nonzero) == 0 {
		return nil
	}

	if b, ok := ledger.(domain.BatchLedger); ok {
		return b.TransferBatch(ctx, r.cfg.EscrowAccount, nonzero)
	}
	for i := range nonzero {
		if err := ledger.Transfer(ctx, r.cfg.EscrowAccount, nonzero[i].To, &nonzero[i].Amount); err != nil {
			return err
		}
	}
	return nil
}
