// Package memory provides process-local cache implementations used when
// Redis is disabled.
package memory

import (
	"context"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

const cleanupInterval = time.Minute

// ReplayGuard implements domain.ReplayGuard in process memory. It only
// protects a single server instance.
type ReplayGuard struct {
	cache *cache.Cache
}

// NewReplayGuard creates an empty ReplayGuard.
func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{cache: cache.New(cache.NoExpiration, cleanupInterval)}
}

// FirstUse records key for ttl and reports whether it was new. Add fails
// while an unexpired entry exists, which makes the check-and-set atomic.
func (g *ReplayGuard) FirstUse(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return g.cache.Add(key, struct{}{}, ttl) == nil, nil
}

// Compile-time interface check.
var _ domain.ReplayGuard = (*ReplayGuard)(nil)
