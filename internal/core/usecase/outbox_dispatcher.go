package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
	"github.com/atvirokodosprendimai/keygate/internal/core/ports"
	"github.com/atvirokodosprendimai/keygate/internal/metrics"
)

type OutboxDispatcherConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

// OutboxDispatcher delivers pending key and usage events to a publisher.
// Failed rows back off quadratically and are dead-lettered after
// MaxAttempts.
type OutboxDispatcher struct {
	repo      ports.OutboxRepository
	publisher ports.EventPublisher
	cfg       OutboxDispatcherConfig
	now       func() time.Time
	log       *zap.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	delivered atomic.Int64
	failed    atomic.Int64
	dead      atomic.Int64
}

type OutboxStats struct {
	Delivered int64
	Failed    int64
	Dead      int64
}

func NewOutboxDispatcher(repo ports.OutboxRepository, publisher ports.EventPublisher, cfg OutboxDispatcherConfig, logger *zap.Logger, m *metrics.Metrics) *OutboxDispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxDispatcher{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		log:       logger,
		metrics:   m,
	}
}

func (d *OutboxDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.run(ctx)
}

func (d *OutboxDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *OutboxDispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Error("outbox dispatch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers one batch of due events. A publish failure is
// recorded on the row; only repository errors abort the batch.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) error {
	events, err := d.repo.FetchPending(ctx, d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch pending events: %w", err)
	}

	for _, event := range events {
		var envelope domain.EventEnvelope
		if err := json.Unmarshal(event.PayloadJSON, &envelope); err != nil {
			if markErr := d.recordFailure(ctx, event, fmt.Sprintf("decode payload: %v", err)); markErr != nil {
				return markErr
			}
			continue
		}

		if err := d.publisher.Publish(ctx, event.Topic, envelope); err != nil {
			if markErr := d.recordFailure(ctx, event, err.Error()); markErr != nil {
				return markErr
			}
			continue
		}

		if err := d.repo.MarkDispatched(ctx, event.ID); err != nil {
			return fmt.Errorf("mark event %d dispatched: %w", event.ID, err)
		}
		d.delivered.Add(1)
		d.metrics.ObserveOutboxDelivery("dispatched")
	}
	return nil
}

func (d *OutboxDispatcher) recordFailure(ctx context.Context, event domain.OutboxEvent, errMsg string) error {
	attempts := event.Attempts + 1
	if attempts >= d.cfg.MaxAttempts {
		if err := d.repo.MarkDead(ctx, event.ID, attempts, errMsg); err != nil {
			return fmt.Errorf("mark event %d dead: %w", event.ID, err)
		}
		d.dead.Add(1)
		d.metrics.ObserveOutboxDelivery("dead")
		d.log.Warn("outbox event dead-lettered",
			zap.String("event_id", event.EventID),
			zap.String("topic", event.Topic),
			zap.Int("attempts", attempts),
			zap.String("error", errMsg),
		)
		return nil
	}

	next := d.now().UTC().Add(retryBackoff(attempts)).Format(time.RFC3339Nano)
	if err := d.repo.MarkFailed(ctx, event.ID, attempts, next, errMsg); err != nil {
		return fmt.Errorf("mark event %d failed: %w", event.ID, err)
	}
	d.failed.Add(1)
	d.metrics.ObserveOutboxDelivery("failed")
	return nil
}

func (d *OutboxDispatcher) Stats() OutboxStats {
	return OutboxStats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dead:      d.dead.Load(),
	}
}

// retryBackoff is attempt² seconds, at least 1s and at most 5m.
func retryBackoff(attempt int) time.Duration {
	if attempt <= 1 {
		return time.Second
	}
	d := time.Duration(attempt*attempt) * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
