package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/atvirokodosprendimai/keygate/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/keygate/migrations"
)

func openTestDB(t *testing.T) *gormsqlite.DB {
	t.Helper()
	db, err := gormsqlite.Open(filepath.Join(t.TempDir(), "test.sqlite"), gormsqlite.Options{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sqlDB, err := db.WriteSQLDB()
	if err != nil {
		t.Fatalf("writer sql db: %v", err)
	}
	if _, err := migrations.Up(context.Background(), sqlDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func countOutbox(t *testing.T, db *gormsqlite.DB, topic string) int64 {
	t.Helper()
	var n int64
	err := db.ReadTX(context.Background(), func(tx *gormsqlite.Tx) error {
		return tx.Model(&outboxEventModel{}).Where("topic = ?", topic).Count(&n).Error
	})
	if err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	return n
}
