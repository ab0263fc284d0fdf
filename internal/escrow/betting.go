package escrow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// Join admits caller to the current round of pool id, pulling the stake from
// caller into escrow. Ledger failures such as domain.ErrInsufficientFunds or
// domain.ErrInsufficientAllowance are returned unchanged and leave the pool
// as it was.
func (r *Registry) Join(ctx context.Context, id uint64, caller common.Address) (domain.Pool, error) {
	if caller == (common.Address{}) {
		return domain.Pool{}, fmt.Errorf("escrow: join pool %d: %w: zero address", id, domain.ErrInvalidParticipant)
	}

	p, err := r.update(ctx, id,
		func(p *domain.Pool) error {
			if p.State == domain.PoolFull {
				return fmt.Errorf("escrow: join pool %d: %w: pool is full", id, domain.ErrInvalidState)
			}
			if p.HasParticipant(caller) {
				return fmt.Errorf("escrow: join pool %d: %w: %s", id, domain.ErrDuplicateParticipant, caller.Hex())
			}
			p.Participants = append(p.Participants, caller)
			p.State = domain.StateForParticipants(len(p.Participants))
			return nil
		},
		func(ctx context.Context, ledger domain.TokenLedger, before, _ domain.Pool) error {
			stake := before.StakeAmount
			if err := ledger.TransferFrom(ctx, r.cfg.EscrowAccount, caller, r.cfg.EscrowAccount, &stake); err != nil {
				return fmt.Errorf("escrow: join pool %d: deposit stake: %w", id, err)
			}
			return nil
		},
	)
	if err != nil {
		return domain.Pool{}, err
	}

	r.logger.DebugContext(ctx, "escrow: participant joined",
		slog.Uint64("pool_id", id),
		slog.String("participant", caller.Hex()),
		slog.String("state", p.State.String()),
	)
	return p, nil
}
