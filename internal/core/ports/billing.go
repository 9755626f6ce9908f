package ports

import (
	"context"

	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
)

// BillingCatalog is the billing provider's product catalog. It is eventually
// consistent and may be unavailable.
type BillingCatalog interface {
	ListActiveProducts(ctx context.Context) ([]domain.BillingProduct, error)
	ListActivePrices(ctx context.Context) ([]domain.BillingPrice, error)
}
