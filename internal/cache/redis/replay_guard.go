package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// ReplayGuard implements domain.ReplayGuard with SET NX, so every server
// sharing the Redis instance sees the same used keys.
type ReplayGuard struct {
	rdb *redis.Client
}

// NewReplayGuard creates a ReplayGuard backed by the given Client.
func NewReplayGuard(c *Client) *ReplayGuard {
	return &ReplayGuard{rdb: c.Underlying()}
}

func replayKey(key string) string {
	return "replay:polkawar:" + key
}

// FirstUse records key for ttl and reports whether it was new.
func (g *ReplayGuard) FirstUse(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, replayKey(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: replay guard %s: %w", key, err)
	}
	return ok, nil
}

// Compile-time interface check.
var _ domain.ReplayGuard = (*ReplayGuard)(nil)
