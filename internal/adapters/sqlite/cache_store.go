package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/keygate/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/keygate/internal/cache"
)

type cacheEntryModel struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Value     []byte    `gorm:"column:value;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (cacheEntryModel) TableName() string {
	return "cache_entries"
}

// CacheStore is a cache.RemoteStore shared by every process that opens the
// same database file.
type CacheStore struct {
	db  *gormsqlite.DB
	now func() time.Time
}

var _ cache.RemoteStore = (*CacheStore)(nil)

func NewCacheStore(db *gormsqlite.DB) *CacheStore {
	return &CacheStore{db: db, now: time.Now}
}

func (s *CacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var model cacheEntryModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("key = ? AND expires_at > ?", key, s.now().UTC()).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get cache entry: %w", err)
	}
	return model.Value, true, nil
}

func (s *CacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}
	now := s.now().UTC()
	model := cacheEntryModel{
		Key:       key,
		Value:     value,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	}
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

func (s *CacheStore) Delete(ctx context.Context, key string) error {
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("key = ?", key).Delete(&cacheEntryModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (s *CacheStore) Clear(ctx context.Context) error {
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&cacheEntryModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("clear cache entries: %w", err)
	}
	return nil
}

// PurgeExpired removes entries past their expiry and reports how many.
func (s *CacheStore) PurgeExpired(ctx context.Context) (int64, error) {
	var removed int64
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Where("expires_at <= ?", s.now().UTC()).Delete(&cacheEntryModel{})
		removed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("purge cache entries: %w", err)
	}
	return removed, nil
}
