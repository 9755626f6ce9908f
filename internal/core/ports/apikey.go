package ports

import (
	"context"

	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
)

// APIKeyRepository is the persisted key store. FindByKey returns
// domain.ErrNotFound when no row matches.
type APIKeyRepository interface {
	FindByKey(ctx context.Context, key string) (domain.APIKey, error)

	// CompareAndSwapUsage writes tr.Next only if the row still holds tr.Prev.
	// It reports false without error when another writer got there first.
	CompareAndSwapUsage(ctx context.Context, key string, tr domain.UsageTransition) (bool, error)
}

// APIKeyStore adds the owner-driven lifecycle on top of the metering
// surface.
type APIKeyStore interface {
	APIKeyRepository
	Create(ctx context.Context, key domain.APIKey) (domain.APIKey, error)
	GetByID(ctx context.Context, id string) (domain.APIKey, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.APIKey, error)
	UpdateSettings(ctx context.Context, key domain.APIKey) (domain.APIKey, error)
	Delete(ctx context.Context, key domain.APIKey) (bool, error)
}
