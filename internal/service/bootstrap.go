package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polkawar/internal/domain"
	"github.com/alanyoungcy/polkawar/internal/escrow"
)

// OpenRegistry builds the escrow registry from persisted state. On first
// start it saves cfg as the registry configuration; afterwards cfg must
// match what was saved, since administrator, escrow account and reward
// multiplier are fixed for the life of a registry. A nil store yields an
// empty in-memory registry; with a store, cfg.Committer must write to it so
// that no ledger move outlives a lost pool write.
func OpenRegistry(ctx context.Context, store domain.RegistryStore, cfg escrow.Config, logger *slog.Logger, opts ...escrow.Option) (*escrow.Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return escrow.New(cfg, logger, opts...)
	}
	if cfg.Committer == nil {
		return nil, fmt.Errorf("service: a persisted registry needs a pool committer")
	}

	want := cfg.RegistryConfig()
	saved, err := store.LoadConfig(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if err := store.SaveConfig(ctx, want); err != nil {
			return nil, fmt.Errorf("service: save registry config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("service: load registry config: %w", err)
	case saved != want:
		return nil, fmt.Errorf("service: %w: stored administrator %s escrow %s multiplier %d",
			domain.ErrConfigMismatch, saved.Administrator.Hex(), saved.EscrowAccount.Hex(), saved.RewardMultiplier)
	}

	pools, err := store.ListPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: load pools: %w", err)
	}
	return escrow.Restore(cfg, pools, logger, opts...)
}
