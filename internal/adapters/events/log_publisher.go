package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
)

// LogPublisher writes events to the service log. Used when no webhook is
// configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{log: logger}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	p.log.Info("event published",
		zap.String("topic", topic),
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("owner_id", event.OwnerID),
		zap.String("key_id", event.KeyID),
		zap.Time("occurred_at", event.OccurredAt),
		zap.ByteString("payload", event.Payload),
	)
	return nil
}
