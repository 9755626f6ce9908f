package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
	"github.com/atvirokodosprendimai/keygate/internal/core/ports"
	"github.com/atvirokodosprendimai/keygate/internal/metrics"
)

const defaultUsageAttempts = 5

// UsageMeter admits requests against a key's monthly quota. Each admitted
// request debits exactly one unit through a compare-and-swap on the
// (current_usage, last_reset_month) pair the decision was based on.
type UsageMeter struct {
	validator   *KeyValidator
	repo        ports.APIKeyRepository
	bounds      domain.LimitBounds
	loc         *time.Location
	now         func() time.Time
	maxAttempts int
	log         *zap.Logger
	metrics     *metrics.Metrics
}

type UsageMeterOption func(*UsageMeter)

func WithLimitBounds(b domain.LimitBounds) UsageMeterOption {
	return func(m *UsageMeter) { m.bounds = b.Normalize() }
}

// WithLocation sets the time zone month boundaries are computed in.
func WithLocation(loc *time.Location) UsageMeterOption {
	return func(m *UsageMeter) {
		if loc != nil {
			m.loc = loc
		}
	}
}

func WithClock(now func() time.Time) UsageMeterOption {
	return func(m *UsageMeter) {
		if now != nil {
			m.now = now
		}
	}
}

func WithMaxAttempts(n int) UsageMeterOption {
	return func(m *UsageMeter) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

func WithMeterLogger(logger *zap.Logger) UsageMeterOption {
	return func(m *UsageMeter) {
		if logger != nil {
			m.log = logger
		}
	}
}

func WithMeterMetrics(mt *metrics.Metrics) UsageMeterOption {
	return func(m *UsageMeter) { m.metrics = mt }
}

func NewUsageMeter(validator *KeyValidator, repo ports.APIKeyRepository, opts ...UsageMeterOption) *UsageMeter {
	m := &UsageMeter{
		validator:   validator,
		repo:        repo,
		bounds:      domain.DefaultMonthlyLimitBounds,
		loc:         time.UTC,
		now:         time.Now,
		maxAttempts: defaultUsageAttempts,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckAndConsume validates secret and, for metered keys, debits one unit of
// this month's quota. Failures are reported in the Admission.
func (m *UsageMeter) CheckAndConsume(ctx context.Context, secret string) domain.Admission {
	a := m.checkAndConsume(ctx, secret)
	m.metrics.ObserveAdmission(a)
	return a
}

func (m *UsageMeter) checkAndConsume(ctx context.Context, secret string) domain.Admission {
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		v := m.validator.Validate(ctx, secret)
		if !v.Valid {
			return domain.Deny(v.Kind, v.Reason)
		}
		key := v.Key
		if !key.LimitEnabled {
			return domain.Admit(0, 0)
		}

		now := m.now().In(m.loc)
		month := domain.MonthKey(now)
		limit := m.bounds.Clamp(key.MonthlyLimit)
		used := key.EffectiveUsage(month)
		tentative := used + 1
		if tentative > limit {
			return domain.DenyQuota(used, limit, domain.NextMonthStart(now))
		}

		tr := domain.UsageTransition{
			Prev:  key.UsageState(),
			Next:  domain.UsageState{Usage: tentative, ResetMonth: month},
			Limit: limit,
			At:    now.UTC(),
		}
		swapped, err := m.repo.CompareAndSwapUsage(ctx, key.Key, tr)
		if err != nil {
			m.log.Warn("usage debit failed", zap.String("key_id", key.ID), zap.Error(err))
			return domain.Deny(domain.DenialPersistenceWriteFailed, domain.ReasonUsageWriteFailed)
		}
		if swapped {
			return domain.Admit(tentative, limit)
		}

		m.metrics.ObserveUsageConflict()
		m.log.Debug("usage debit lost race, retrying",
			zap.String("key_id", key.ID),
			zap.Int("attempt", attempt),
		)
	}

	m.log.Warn("usage debit retries exhausted", zap.Int("attempts", m.maxAttempts))
	return domain.Deny(domain.DenialPersistenceWriteFailed, domain.ReasonUsageWriteFailed)
}
