package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/keygate/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
)

type apiKeyModel struct {
	ID             string    `gorm:"column:id;primaryKey"`
	Key            string    `gorm:"column:key;not null"`
	OwnerID        string    `gorm:"column:owner_id;not null"`
	Name           string    `gorm:"column:name;not null"`
	Description    string    `gorm:"column:description;not null"`
	Permissions    string    `gorm:"column:permissions;not null"`
	LimitUsage     bool      `gorm:"column:limit_usage;not null"`
	MonthlyLimit   int       `gorm:"column:monthly_limit;not null"`
	CurrentUsage   int       `gorm:"column:current_usage;not null"`
	LastResetMonth *string   `gorm:"column:last_reset_month"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null"`
}

func (apiKeyModel) TableName() string {
	return "api_keys"
}

// APIKeyRepository persists keys in api_keys. Every mutation queues its
// lifecycle event in outbox_events within the same transaction.
type APIKeyRepository struct {
	db *gormsqlite.DB
}

func NewAPIKeyRepository(db *gormsqlite.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) FindByKey(ctx context.Context, key string) (domain.APIKey, error) {
	return r.findOne(ctx, "key = ?", key)
}

func (r *APIKeyRepository) GetByID(ctx context.Context, id string) (domain.APIKey, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *APIKeyRepository) findOne(ctx context.Context, cond string, arg any) (domain.APIKey, error) {
	var model apiKeyModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where(cond, arg).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.APIKey{}, domain.ErrNotFound
		}
		return domain.APIKey{}, fmt.Errorf("find api key: %w", err)
	}
	return toAPIKey(model), nil
}

func (r *APIKeyRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.APIKey, error) {
	var rows []apiKeyModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("owner_id = ?", ownerID).Order("created_at ASC, id ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	out := make([]domain.APIKey, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAPIKey(row))
	}
	return out, nil
}

// CompareAndSwapUsage applies tr only while the row still holds tr.Prev.
// A debit that exhausts the month's quota also queues usage.limit_reached.
func (r *APIKeyRepository) CompareAndSwapUsage(ctx context.Context, key string, tr domain.UsageTransition) (bool, error) {
	swapped := false
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&apiKeyModel{}).
			Where("key = ? AND current_usage = ? AND COALESCE(last_reset_month, '') = ?", key, tr.Prev.Usage, tr.Prev.ResetMonth).
			Updates(map[string]any{
				"current_usage":    tr.Next.Usage,
				"last_reset_month": tr.Next.ResetMonth,
				"updated_at":       tr.At.UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("update usage: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		swapped = true

		if !tr.ReachesLimit() {
			return nil
		}
		var row apiKeyModel
		if err := tx.Where("key = ?", key).First(&row).Error; err != nil {
			return fmt.Errorf("load api key: %w", err)
		}
		return insertOutbox(tx.DB, newEnvelope(domain.EventUsageLimitReached, row, tr.At, map[string]any{
			"month": tr.Next.ResetMonth,
			"usage": tr.Next.Usage,
			"limit": tr.Limit,
		}))
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

func (r *APIKeyRepository) Create(ctx context.Context, key domain.APIKey) (domain.APIKey, error) {
	model := fromAPIKey(key)
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("insert api key: %w", err)
		}
		return insertOutbox(tx.DB, newEnvelope(domain.EventKeyIssued, model, model.CreatedAt, settingsPayload(model)))
	})
	if err != nil {
		return domain.APIKey{}, err
	}
	return toAPIKey(model), nil
}

// UpdateSettings writes the owner-editable columns only.
func (r *APIKeyRepository) UpdateSettings(ctx context.Context, key domain.APIKey) (domain.APIKey, error) {
	var updated apiKeyModel
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&apiKeyModel{}).
			Where("id = ?", key.ID).
			Updates(map[string]any{
				"name":          key.Name,
				"description":   key.Description,
				"permissions":   key.Permissions,
				"limit_usage":   key.LimitEnabled,
				"monthly_limit": key.MonthlyLimit,
				"updated_at":    key.UpdatedAt.UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("update api key: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		if err := tx.Where("id = ?", key.ID).First(&updated).Error; err != nil {
			return fmt.Errorf("load updated api key: %w", err)
		}
		return insertOutbox(tx.DB, newEnvelope(domain.EventKeyUpdated, updated, updated.UpdatedAt, settingsPayload(updated)))
	})
	if err != nil {
		return domain.APIKey{}, err
	}
	return toAPIKey(updated), nil
}

func (r *APIKeyRepository) Delete(ctx context.Context, key domain.APIKey) (bool, error) {
	deleted := false
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		var existing apiKeyModel
		if err := tx.Where("id = ?", key.ID).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("load api key before delete: %w", err)
		}
		if err := tx.Where("id = ?", key.ID).Delete(&apiKeyModel{}).Error; err != nil {
			return fmt.Errorf("delete api key: %w", err)
		}
		deleted = true
		return insertOutbox(tx.DB, newEnvelope(domain.EventKeyRevoked, existing, time.Now(), map[string]any{
			"name": existing.Name,
		}))
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// settingsPayload never includes the secret.
func settingsPayload(m apiKeyModel) map[string]any {
	return map[string]any{
		"name":          m.Name,
		"permissions":   m.Permissions,
		"limit_usage":   m.LimitUsage,
		"monthly_limit": m.MonthlyLimit,
	}
}

func toAPIKey(m apiKeyModel) domain.APIKey {
	k := domain.APIKey{
		ID:           m.ID,
		Key:          m.Key,
		OwnerID:      m.OwnerID,
		Name:         m.Name,
		Description:  m.Description,
		Permissions:  m.Permissions,
		LimitEnabled: m.LimitUsage,
		MonthlyLimit: m.MonthlyLimit,
		CurrentUsage: m.CurrentUsage,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.LastResetMonth != nil {
		k.LastResetMonth = *m.LastResetMonth
	}
	return k
}

func fromAPIKey(k domain.APIKey) apiKeyModel {
	m := apiKeyModel{
		ID:           k.ID,
		Key:          k.Key,
		OwnerID:      k.OwnerID,
		Name:         k.Name,
		Description:  k.Description,
		Permissions:  k.Permissions,
		LimitUsage:   k.LimitEnabled,
		MonthlyLimit: k.MonthlyLimit,
		CurrentUsage: k.CurrentUsage,
		CreatedAt:    k.CreatedAt.UTC(),
		UpdatedAt:    k.UpdatedAt.UTC(),
	}
	if k.LastResetMonth != "" {
		month := k.LastResetMonth
		m.LastResetMonth = &month
	}
	return m
}
