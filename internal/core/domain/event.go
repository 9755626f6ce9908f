package domain

import (
	"encoding/json"
	"time"
)

const CurrentEventSchemaVersion = 1

const (
	EventKeyIssued         = "key.issued"
	EventKeyUpdated        = "key.updated"
	EventKeyRevoked        = "key.revoked"
	EventUsageLimitReached = "usage.limit_reached"
)

type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	OwnerID       string          `json:"owner_id"`
	KeyID         string          `json:"key_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// Topic is the routing key the outbox stores for an envelope.
func (e EventEnvelope) Topic() string {
	return "events." + e.OwnerID + "." + e.EventType
}

type OutboxEvent struct {
	ID            int64
	EventID       string
	OwnerID       string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}
