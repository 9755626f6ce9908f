package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/keygate/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
)

const (
	outboxPending    = "pending"
	outboxDispatched = "dispatched"
	outboxDead       = "dead"
)

type outboxEventModel struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       string     `gorm:"column:event_id;not null"`
	OwnerID       string     `gorm:"column:owner_id;not null"`
	Topic         string     `gorm:"column:topic;not null"`
	PayloadJSON   string     `gorm:"column:payload_json;not null"`
	Status        string     `gorm:"column:status;not null"`
	Attempts      int        `gorm:"column:attempts;not null"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null"`
	LastError     string     `gorm:"column:last_error;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	DispatchedAt  *time.Time `gorm:"column:dispatched_at"`
}

func (outboxEventModel) TableName() string {
	return "outbox_events"
}

func newEnvelope(eventType string, key apiKeyModel, at time.Time, payload any) domain.EventEnvelope {
	return domain.EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		SchemaVersion: domain.CurrentEventSchemaVersion,
		OwnerID:       key.OwnerID,
		KeyID:         key.ID,
		OccurredAt:    at.UTC(),
		Payload:       mustJSON(payload),
	}
}

// insertOutbox queues envelope inside the caller's transaction.
func insertOutbox(tx *gorm.DB, envelope domain.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	row := outboxEventModel{
		EventID:       envelope.EventID,
		OwnerID:       envelope.OwnerID,
		Topic:         envelope.Topic(),
		PayloadJSON:   string(payload),
		Status:        outboxPending,
		NextAttemptAt: envelope.OccurredAt,
		CreatedAt:     envelope.OccurredAt,
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

type OutboxRepository struct {
	db  *gormsqlite.DB
	now func() time.Time
}

func NewOutboxRepository(db *gormsqlite.DB) *OutboxRepository {
	return &OutboxRepository{db: db, now: time.Now}
}

func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []outboxEventModel
	now := r.now().UTC()
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("status = ? AND next_attempt_at <= ?", outboxPending, now).
			Order("id ASC").
			Limit(limit).
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}

	result := make([]domain.OutboxEvent, 0, len(rows))
	for _, row := range rows {
		result = append(result, toOutboxEvent(row))
	}
	return result, nil
}

// ListByOwner returns an owner's events newest first, any status.
func (r *OutboxRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []outboxEventModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("owner_id = ?", ownerID).Order("id DESC").Limit(limit).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list outbox events: %w", err)
	}
	result := make([]domain.OutboxEvent, 0, len(rows))
	for _, row := range rows {
		result = append(result, toOutboxEvent(row))
	}
	return result, nil
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, id int64) error {
	now := r.now().UTC()
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&outboxEventModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": outboxDispatched, "dispatched_at": &now, "last_error": ""}).Error
	})
	if err != nil {
		return fmt.Errorf("mark outbox dispatched: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error {
	parsed, err := time.Parse(time.RFC3339Nano, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("parse next attempt: %w", err)
	}
	err = r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&outboxEventModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"attempts": attempts, "next_attempt_at": parsed.UTC(), "last_error": errMsg}).Error
	})
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error {
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&outboxEventModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": outboxDead, "attempts": attempts, "last_error": errMsg}).Error
	})
	if err != nil {
		return fmt.Errorf("mark outbox dead: %w", err)
	}
	return nil
}

func toOutboxEvent(row outboxEventModel) domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:            row.ID,
		EventID:       row.EventID,
		OwnerID:       row.OwnerID,
		Topic:         row.Topic,
		PayloadJSON:   json.RawMessage(row.PayloadJSON),
		Status:        row.Status,
		Attempts:      row.Attempts,
		NextAttemptAt: row.NextAttemptAt,
		LastError:     row.LastError,
		CreatedAt:     row.CreatedAt,
		DispatchedAt:  row.DispatchedAt,
	}
}
