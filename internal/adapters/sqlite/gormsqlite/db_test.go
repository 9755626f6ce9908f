package gormsqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBuildDSNIncludesPerConnectionPragmas(t *testing.T) {
	reader := buildDSN("./db.sqlite", true, 5*time.Second)
	writer := buildDSN("./db.sqlite", false, 5*time.Second)

	checks := []string{
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_pragma=trusted_schema(OFF)",
	}
	for _, c := range checks {
		if !strings.Contains(reader, c) {
			t.Fatalf("reader dsn missing %q: %s", c, reader)
		}
		if !strings.Contains(writer, c) {
			t.Fatalf("writer dsn missing %q: %s", c, writer)
		}
	}

	if !strings.Contains(reader, "_pragma=query_only(1)") {
		t.Fatalf("reader dsn missing query_only(1): %s", reader)
	}
	if !strings.Contains(writer, "_pragma=query_only(0)") {
		t.Fatalf("writer dsn missing query_only(0): %s", writer)
	}
	if !strings.Contains(writer, "_txlock=immediate") || strings.Contains(reader, "_txlock") {
		t.Fatalf("only the writer should take immediate locks: reader=%s writer=%s", reader, writer)
	}
	if !strings.HasPrefix(reader, "./db.sqlite?") {
		t.Fatalf("dsn should start with the file path: %s", reader)
	}
}

func TestOpenSplitsReaderAndWriter(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "keygate.sqlite"), Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	err = db.WriteTX(ctx, func(tx *Tx) error {
		return tx.Exec("CREATE TABLE probe (id INTEGER PRIMARY KEY)").Error
	})
	if err != nil {
		t.Fatalf("writer create table: %v", err)
	}

	err = db.ReadTX(ctx, func(tx *Tx) error {
		return tx.Exec("INSERT INTO probe (id) VALUES (1)").Error
	})
	if err == nil {
		t.Fatal("reader must reject writes")
	}

	var n int64
	err = db.ReadTX(ctx, func(tx *Tx) error {
		return tx.Table("probe").Count(&n).Error
	})
	if err != nil || n != 0 {
		t.Fatalf("reader count: n=%d err=%v", n, err)
	}
}

func TestOpenAppliesBusyTimeoutAndPings(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "keygate.sqlite"), Options{BusyTimeout: 1500 * time.Millisecond, ReadConns: 2})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}

	var timeout int
	err = db.ReadTX(context.Background(), func(tx *Tx) error {
		return tx.Raw("PRAGMA busy_timeout").Scan(&timeout).Error
	})
	if err != nil {
		t.Fatalf("read pragma: %v", err)
	}
	if timeout != 1500 {
		t.Fatalf("expected busy_timeout 1500, got %d", timeout)
	}

	sqlDB, err := db.R.DB()
	if err != nil {
		t.Fatalf("reader sql db: %v", err)
	}
	if got := sqlDB.Stats().MaxOpenConnections; got != 2 {
		t.Fatalf("expected 2 reader conns, got %d", got)
	}
}

func TestPingFailsAfterClose(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "keygate.sqlite"), Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := db.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error on closed db")
	}
}
