package domain

// QuotaKind is the shape of a tier's resize allowance.
type QuotaKind string

const (
	QuotaPerDay    QuotaKind = "per_day"
	QuotaOneTime   QuotaKind = "one_time"
	QuotaUnlimited QuotaKind = "unlimited"
)

// Quota holds exactly one allowance shape. Amount is unused for unlimited.
type Quota struct {
	Kind   QuotaKind
	Amount int
}

func PerDay(n int) Quota { return Quota{Kind: QuotaPerDay, Amount: n} }
func OneTime(n int) Quota { return Quota{Kind: QuotaOneTime, Amount: n} }
func Unlimited() Quota { return Quota{Kind: QuotaUnlimited} }
func (q Quota) IsUnlimited() bool { return q.Kind == QuotaUnlimited }

type Features struct {
	APIAccess       bool
	TeamSupport     bool
	PrioritySupport bool
	BatchProcessing bool
}

const (
	TierFree    = "free"
	TierStarter = "starter"
	TierPro     = "pro"
	TierTeam    = "team"
)

// Tier is a static tier definition, optionally overlaid with billing
// linkage. Only the Billing* fields and the displayed prices are ever
// refreshed from the provider.
type Tier struct {
	ID          string
	Name        string
	DisplayName string
	Quota       Quota
	Features    Features

	Currency          string
	MonthlyPriceCents int64
	YearlyPriceCents  int64

	BillingProductID     string
	BillingPriceID       string
	BillingYearlyPriceID string
}

func (t Tier) IsFree() bool { return t.ID == TierFree }

func (t Tier) HasBillingLink() bool { return t.BillingProductID != "" }

// staticTiers is ordered free first, then ascending paid tiers.
var staticTiers = []Tier{
	{
		ID:          TierFree,
		Name:        "free",
		DisplayName: "Free",
		Quota:       PerDay(10),
		Currency:    "usd",
	},
	{
		ID:                TierStarter,
		Name:              "starter",
		DisplayName:       "Starter Pack",
		Quota:             OneTime(1000),
		Features:          Features{APIAccess: true},
		Currency:          "usd",
		MonthlyPriceCents: 900,
	},
	{
		ID:                TierPro,
		Name:              "pro",
		DisplayName:       "Professional",
		Quota:             PerDay(500),
		Features:          Features{APIAccess: true, PrioritySupport: true, BatchProcessing: true},
		Currency:          "usd",
		MonthlyPriceCents: 1900,
		YearlyPriceCents:  19000,
	},
	{
		ID:                TierTeam,
		Name:              "team",
		DisplayName:       "Team",
		Quota:             Unlimited(),
		Features:          Features{APIAccess: true, TeamSupport: true, PrioritySupport: true, BatchProcessing: true},
		Currency:          "usd",
		MonthlyPriceCents: 4900,
		YearlyPriceCents:  49000,
	},
}

// StaticTiers returns a fresh copy of the tier table.
func StaticTiers() []Tier {
	out := make([]Tier, len(staticTiers))
	copy(out, staticTiers)
	return out
}

func FindTier(tiers []Tier, id string) (Tier, bool) {
	for _, t := range tiers {
		if t.ID == id {
			return t, true
		}
	}
	return Tier{}, false
}

// StaticTier returns the pristine definition for id, without billing data.
func StaticTier(id string) (Tier, bool) {
	return FindTier(staticTiers, id)
}
