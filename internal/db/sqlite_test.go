package db

import (
	"path/filepath"
	"testing"

	"github.com/neboloop/nexus/internal/db/migrations"
)

func init() {
	migrations.QuietMode = true
}

func TestNewSQLiteCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nexus.db")
	store, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer store.Close()

	for _, table := range []string{"settings", "sessions", "session_messages", "error_logs"} {
		var name string
		err := store.GetDB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.db")
	first, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopening should not fail: %v", err)
	}
	second.Close()
}

func TestNewMemory(t *testing.T) {
	store, err := NewMemory()
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	defer store.Close()

	if _, err := store.GetDB().Exec("INSERT INTO settings (key, value) VALUES ('k', 'v')"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
}
