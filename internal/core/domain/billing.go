package domain

import "strings"

const (
	IntervalMonth = "month"
	IntervalYear  = "year"

	// MetadataTierKey is the product/price metadata key naming a tier id.
	MetadataTierKey = "tier"
)

// BillingProduct is an active product in the billing provider's catalog.
type BillingProduct struct {
	ID       string
	Name     string
	Metadata map[string]string
}

// BillingPrice is an active price. Interval is empty for one-off prices.
type BillingPrice struct {
	ID         string
	ProductID  string
	Interval   string
	UnitAmount int64
	Currency   string
	Metadata   map[string]string
}

// ProductMatcher is one ranked strategy for linking a tier to a product.
type ProductMatcher struct {
	Name  string
	Match func(t Tier, p BillingProduct) bool
}

// ProductMatchers are evaluated in order; the first strategy with any
// matching product wins, and within a strategy the first product wins.
var ProductMatchers = []ProductMatcher{
	{Name: "metadata", Match: matchByMetadata},
	{Name: "name", Match: matchByName},
	{Name: "display_name", Match: matchByDisplayName},
}

func matchByMetadata(t Tier, p BillingProduct) bool {
	return p.Metadata[MetadataTierKey] == t.ID
}

func matchByName(t Tier, p BillingProduct) bool {
	return containsFold(p.Name, t.Name)
}

func matchByDisplayName(t Tier, p BillingProduct) bool {
	return containsFold(p.Name, t.DisplayName)
}

func containsFold(s, substr string) bool {
	if substr == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// MatchProduct returns the product linked to t and the name of the strategy
// that found it.
func MatchProduct(t Tier, products []BillingProduct) (BillingProduct, string, bool) {
	if t.IsFree() {
		return BillingProduct{}, "", false
	}
	for _, m := range ProductMatchers {
		for _, p := range products {
			if m.Match(t, p) {
				return p, m.Name, true
			}
		}
	}
	return BillingProduct{}, "", false
}

// SelectMonthlyPrice prefers a monthly price whose metadata names the tier,
// otherwise the first monthly price of the product.
func SelectMonthlyPrice(t Tier, productID string, prices []BillingPrice) (BillingPrice, bool) {
	var first *BillingPrice
	for i := range prices {
		p := prices[i]
		if p.ProductID != productID || p.Interval != IntervalMonth {
			continue
		}
		if p.Metadata[MetadataTierKey] == t.ID {
			return p, true
		}
		if first == nil {
			first = &prices[i]
		}
	}
	if first == nil {
		return BillingPrice{}, false
	}
	return *first, true
}

func SelectYearlyPrice(productID string, prices []BillingPrice) (BillingPrice, bool) {
	for _, p := range prices {
		if p.ProductID == productID && p.Interval == IntervalYear {
			return p, true
		}
	}
	return BillingPrice{}, false
}

// Reconcile overlays billing linkage onto the static tiers. Tiers without a
// matching product keep their static data.
func Reconcile(tiers []Tier, products []BillingProduct, prices []BillingPrice) []Tier {
	out := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		product, _, ok := MatchProduct(t, products)
		if !ok {
			out = append(out, t)
			continue
		}
		t.BillingProductID = product.ID
		if monthly, ok := SelectMonthlyPrice(t, product.ID, prices); ok {
			t.BillingPriceID = monthly.ID
			t.MonthlyPriceCents = monthly.UnitAmount
			if monthly.Currency != "" {
				t.Currency = monthly.Currency
			}
		}
		if yearly, ok := SelectYearlyPrice(product.ID, prices); ok {
			t.BillingYearlyPriceID = yearly.ID
			t.YearlyPriceCents = yearly.UnitAmount
		}
		out = append(out, t)
	}
	return out
}
