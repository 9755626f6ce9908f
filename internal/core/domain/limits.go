package domain

// LimitBounds is the operating range a key's configured monthly limit is
// clamped into before metering.
type LimitBounds struct {
	Min int
	Max int
}

// DefaultMonthlyLimitBounds is the production range for monthly limits.
// Stored limits above Max are accepted but metered at Max.
var DefaultMonthlyLimitBounds = LimitBounds{Min: 1, Max: 10}

// Normalize repairs a misconfigured range so Clamp stays total.
func (b LimitBounds) Normalize() LimitBounds {
	if b.Min < 1 {
		b.Min = 1
	}
	if b.Max < b.Min {
		b.Max = b.Min
	}
	return b
}

// Clamp is total and idempotent: any stored limit maps into [Min, Max].
func (b LimitBounds) Clamp(limit int) int {
	b = b.Normalize()
	if limit < b.Min {
		return b.Min
	}
	if limit > b.Max {
		return b.Max
	}
	return limit
}
