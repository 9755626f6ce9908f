// Package stripecatalog reads the active product catalog from Stripe.
package stripecatalog

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
	"github.com/atvirokodosprendimai/keygate/internal/core/ports"
)

const pageSize = 100

type Catalog struct {
	api *client.API
}

var _ ports.BillingCatalog = (*Catalog)(nil)

func New(secretKey string, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(2),
		LeveledLogger:     logger.Named("stripe").Sugar(),
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}
	return &Catalog{api: client.New(secretKey, backends)}
}

func (c *Catalog) ListActiveProducts(ctx context.Context) ([]domain.BillingProduct, error) {
	params := &stripe.ProductListParams{Active: stripe.Bool(true)}
	params.Context = ctx
	params.Limit = stripe.Int64(pageSize)

	out := []domain.BillingProduct{}
	it := c.api.Products.List(params)
	for it.Next() {
		out = append(out, toProduct(it.Product()))
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list stripe products: %w", err)
	}
	return out, nil
}

func (c *Catalog) ListActivePrices(ctx context.Context) ([]domain.BillingPrice, error) {
	params := &stripe.PriceListParams{Active: stripe.Bool(true)}
	params.Context = ctx
	params.Limit = stripe.Int64(pageSize)

	out := []domain.BillingPrice{}
	it := c.api.Prices.List(params)
	for it.Next() {
		if p, ok := toPrice(it.Price()); ok {
			out = append(out, p)
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list stripe prices: %w", err)
	}
	return out, nil
}

func toProduct(p *stripe.Product) domain.BillingProduct {
	return domain.BillingProduct{ID: p.ID, Name: p.Name, Metadata: p.Metadata}
}

// toPrice drops prices not attached to a product.
func toPrice(p *stripe.Price) (domain.BillingPrice, bool) {
	if p == nil || p.Product == nil || p.Product.ID == "" {
		return domain.BillingPrice{}, false
	}
	out := domain.BillingPrice{
		ID:         p.ID,
		ProductID:  p.Product.ID,
		UnitAmount: p.UnitAmount,
		Currency:   string(p.Currency),
		Metadata:   p.Metadata,
	}
	if p.Recurring != nil {
		switch p.Recurring.Interval {
		case stripe.PriceRecurringIntervalMonth:
			out.Interval = domain.IntervalMonth
		case stripe.PriceRecurringIntervalYear:
			out.Interval = domain.IntervalYear
		}
	}
	return out, true
}

// Empty is the catalog used when no Stripe key is configured. Tiers then
// resolve to their static definitions.
type Empty struct{}

var _ ports.BillingCatalog = Empty{}

func (Empty) ListActiveProducts(context.Context) ([]domain.BillingProduct, error) {
	return []domain.BillingProduct{}, nil
}

func (Empty) ListActivePrices(context.Context) ([]domain.BillingPrice, error) {
	return []domain.BillingPrice{}, nil
}
