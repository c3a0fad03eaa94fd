package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"kvcache/internal/bootstrap/config"
)

func TestOpenCreatesDirectoryAndCapsPool(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "nested")
	dsn := filepath.Join(dir, "kv.sqlite") + "?_pragma=busy_timeout(5000)"

	db, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: dsn}, 3)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("DB() error = %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("sqlite directory not created: %v", err)
	}
	if got := sqlDB.Stats().MaxOpenConnections; got != 3 {
		t.Fatalf("MaxOpenConnections = %d, want 3", got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "postgres", DSN: "x"}, 1)
	if err == nil {
		t.Fatalf("Open() expected error for unsupported driver")
	}
}

func TestOpenRejectsNonPositiveConnCap(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: "file:cap?mode=memory&cache=shared"}, 0)
	if err == nil {
		t.Fatalf("Open() expected error for zero max open conns")
	}
}

func TestEnsureSQLiteDirectorySkipsMemory(t *testing.T) {
	for _, dsn := range []string{":memory:", "file::memory:?cache=shared", "file:x/y?mode=memory&cache=shared", ""} {
		if err := ensureSQLiteDirectory(context.Background(), dsn); err != nil {
			t.Fatalf("ensureSQLiteDirectory(%q) error = %v", dsn, err)
		}
	}
	if _, err := os.Stat("x"); err == nil {
		t.Fatalf("memory dsn must not create directories")
	}
}
