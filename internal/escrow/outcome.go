package escrow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// RecordOutcome stores the result of the current round of a full pool. For a
// win, winner must be one of the participants; for a draw, winner is kept
// for audit only. A later call before settlement replaces the earlier one.
func (r *Registry) RecordOutcome(ctx context.Context, caller common.Address, id uint64, winner common.Address, isDraw bool) (domain.Pool, error) {
	if err := r.requireAdmin(caller, "record outcome"); err != nil {
		return domain.Pool{}, err
	}

	p, err := r.update(ctx, id, func(p *domain.Pool) error {
		if p.State != domain.PoolFull {
			return fmt.Errorf("escrow: record outcome for pool %d: %w: pool is %s", id, domain.ErrInvalidState, p.State)
		}
		if !isDraw && !p.HasParticipant(winner) {
			return fmt.Errorf("escrow: record outcome for pool %d: %w: %s did not join this round", id, domain.ErrInvalidParticipant, winner.Hex())
		}
		p.Winner = winner
		p.IsDraw = isDraw
		p.HasOutcome = true
		return nil
	}, nil)
	if err != nil {
		return domain.Pool{}, err
	}

	r.logger.InfoContext(ctx, "escrow: outcome recorded",
		slog.Uint64("pool_id", id),
		slog.String("winner", winner.Hex()),
		slog.Bool("is_draw", isDraw),
	)
	return p, nil
}
