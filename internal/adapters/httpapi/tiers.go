package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/keygate/internal/cache"
	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
)

const productsCacheKey = "v1:products"

type tierResponse struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name"`
	Quota       quotaResponse    `json:"quota"`
	Features    featuresResponse `json:"features"`
	Price       priceResponse    `json:"price"`
	Billing     *billingResponse `json:"billing,omitempty"`
}

type quotaResponse struct {
	Kind   string `json:"kind"`
	Amount int    `json:"amount,omitempty"`
}

type featuresResponse struct {
	APIAccess       bool `json:"api_access"`
	TeamSupport     bool `json:"team_support"`
	PrioritySupport bool `json:"priority_support"`
	BatchProcessing bool `json:"batch_processing"`
}

type priceResponse struct {
	Currency     string `json:"currency"`
	MonthlyCents int64  `json:"monthly_cents"`
	YearlyCents  int64  `json:"yearly_cents"`
}

type billingResponse struct {
	ProductID     string `json:"product_id"`
	PriceID       string `json:"price_id,omitempty"`
	YearlyPriceID string `json:"yearly_price_id,omitempty"`
}

type productsResponse struct {
	Products []tierResponse `json:"products"`
}

func toTierResponse(t domain.Tier) tierResponse {
	out := tierResponse{
		ID:          t.ID,
		Name:        t.Name,
		DisplayName: t.DisplayName,
		Quota:       quotaResponse{Kind: string(t.Quota.Kind), Amount: t.Quota.Amount},
		Features: featuresResponse{
			APIAccess:       t.Features.APIAccess,
			TeamSupport:     t.Features.TeamSupport,
			PrioritySupport: t.Features.PrioritySupport,
			BatchProcessing: t.Features.BatchProcessing,
		},
		Price: priceResponse{
			Currency:     t.Currency,
			MonthlyCents: t.MonthlyPriceCents,
			YearlyCents:  t.YearlyPriceCents,
		},
	}
	if t.HasBillingLink() {
		out.Billing = &billingResponse{
			ProductID:     t.BillingProductID,
			PriceID:       t.BillingPriceID,
			YearlyPriceID: t.BillingYearlyPriceID,
		}
	}
	return out
}

func toTierResponses(tiers []domain.Tier) []tierResponse {
	out := make([]tierResponse, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, toTierResponse(t))
	}
	return out
}

func (h *Handler) listTiers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"tiers": toTierResponses(h.tiers.ResolveTiers(r.Context()))})
}

func (h *Handler) getTier(w http.ResponseWriter, r *http.Request) {
	tier, ok := h.tiers.ResolveTierByID(r.Context(), chi.URLParam(r, "id"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "tier not found")
		return
	}
	h.writeJSON(w, http.StatusOK, toTierResponse(tier))
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if cached, ok := cache.GetJSON[productsResponse](ctx, h.responses, productsCacheKey); ok {
		w.Header().Set("X-Cache", "HIT")
		h.writeJSON(w, http.StatusOK, cached)
		return
	}

	resp := productsResponse{Products: toTierResponses(h.tiers.PurchasableTiers(ctx))}
	if err := cache.SetJSON(ctx, h.responses, productsCacheKey, resp, h.opts.ResponseTTL); err != nil {
		h.log.Warn("cache products response", zap.Error(err))
	}
	w.Header().Set("X-Cache", "MISS")
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) refreshCatalog(w http.ResponseWriter, r *http.Request) {
	h.tiers.Invalidate()
	h.responses.ClearAll(r.Context())
	h.log.Info("catalog caches cleared")
	h.writeJSON(w, http.StatusOK, map[string]bool{"refreshed": true})
}
