package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RegistryStore persists the registry configuration singleton and the
// ordered collection of pools.
type RegistryStore interface {
	// LoadConfig returns ErrNotFound when no configuration was saved yet.
	LoadConfig(ctx context.Context) (RegistryConfig, error)
	SaveConfig(ctx context.Context, cfg RegistryConfig) error
	// UpsertPool writes p unless a newer version is already stored.
	UpsertPool(ctx context.Context, p Pool) error
	ListPools(ctx context.Context) ([]Pool, error)
}

// SettlementStore persists closed rounds.
type SettlementStore interface {
	Insert(ctx context.Context, s Settlement) error
	GetByID(ctx context.Context, id string) (Settlement, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]Settlement, error)
	ListBefore(ctx context.Context, before time.Time) ([]Settlement, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
