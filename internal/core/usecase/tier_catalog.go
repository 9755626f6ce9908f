package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/keygate/internal/cache"
	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
	"github.com/atvirokodosprendimai/keygate/internal/core/ports"
	"github.com/atvirokodosprendimai/keygate/internal/metrics"
)

const (
	tiersCacheKey          = "tiers"
	activeProductsCacheKey = "active-products"
)

type TierCatalogConfig struct {
	// TTL bounds how stale reconciled tiers may be.
	TTL time.Duration
	// LivenessTTL bounds how stale the product listing used to confirm a
	// single tier's product is still sold may be.
	LivenessTTL time.Duration
}

// TierCatalog serves the static tier table overlaid with live billing data.
// Billing failures never surface: callers get static tiers instead.
type TierCatalog struct {
	billing ports.BillingCatalog
	memo    *cache.Memo
	cfg     TierCatalogConfig
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewTierCatalog(billing ports.BillingCatalog, memo *cache.Memo, cfg TierCatalogConfig, logger *zap.Logger, m *metrics.Metrics) *TierCatalog {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.LivenessTTL <= 0 {
		cfg.LivenessTTL = time.Minute
	}
	if memo == nil {
		memo = cache.NewMemo("tiers", nil, m)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TierCatalog{billing: billing, memo: memo, cfg: cfg, log: logger, metrics: m}
}

// ResolveTiers returns every tier, free first then ascending paid tiers.
func (c *TierCatalog) ResolveTiers(ctx context.Context) []domain.Tier {
	tiers, err := cache.GetOrFetch(ctx, c.memo, tiersCacheKey, c.cfg.TTL, c.fetchTiers)
	if err != nil {
		c.log.Warn("billing catalog unavailable, serving static tiers", zap.Error(err))
		return domain.StaticTiers()
	}
	out := make([]domain.Tier, len(tiers))
	copy(out, tiers)
	return out
}

// PurchasableTiers are the resolved tiers linked to a live billing product.
func (c *TierCatalog) PurchasableTiers(ctx context.Context) []domain.Tier {
	out := []domain.Tier{}
	for _, t := range c.ResolveTiers(ctx) {
		if t.HasBillingLink() {
			out = append(out, t)
		}
	}
	return out
}

// ResolveTierByID reports found=false for unknown ids and for tiers whose
// product is no longer sold. If that check cannot reach the provider, the
// tier is returned without billing linkage.
func (c *TierCatalog) ResolveTierByID(ctx context.Context, id string) (domain.Tier, bool) {
	static, ok := domain.StaticTier(id)
	if !ok {
		return domain.Tier{}, false
	}
	tier, ok := domain.FindTier(c.ResolveTiers(ctx), id)
	if !ok || !tier.HasBillingLink() {
		return static, true
	}

	products, err := cache.GetOrFetch(ctx, c.memo, activeProductsCacheKey, c.cfg.LivenessTTL, c.listProducts)
	if err != nil {
		c.log.Warn("cannot confirm tier product, serving static tier",
			zap.String("tier", id),
			zap.String("product_id", tier.BillingProductID),
			zap.Error(err),
		)
		return static, true
	}
	for _, p := range products {
		if p.ID == tier.BillingProductID {
			return tier, true
		}
	}
	c.log.Info("tier product no longer active",
		zap.String("tier", id),
		zap.String("product_id", tier.BillingProductID),
	)
	return domain.Tier{}, false
}

// Invalidate drops cached catalog data so the next read goes upstream.
func (c *TierCatalog) Invalidate() {
	c.memo.Invalidate(tiersCacheKey)
	c.memo.Invalidate(activeProductsCacheKey)
}

func (c *TierCatalog) fetchTiers(ctx context.Context) ([]domain.Tier, error) {
	products, err := c.listProducts(ctx)
	if err != nil {
		return nil, err
	}
	prices, err := c.billing.ListActivePrices(ctx)
	c.metrics.ObserveCatalogFetch(err)
	if err != nil {
		return nil, fmt.Errorf("list active prices: %w", err)
	}
	return domain.Reconcile(domain.StaticTiers(), products, prices), nil
}

func (c *TierCatalog) listProducts(ctx context.Context) ([]domain.BillingProduct, error) {
	products, err := c.billing.ListActiveProducts(ctx)
	c.metrics.ObserveCatalogFetch(err)
	if err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}
	return products, nil
}
