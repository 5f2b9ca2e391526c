package crashlog

import (
	"context"
	"errors"
	"testing"

	"github.com/neboloop/nexus/internal/db"
	"github.com/neboloop/nexus/internal/db/migrations"
)

func TestRecordsErrorsAndPanics(t *testing.T) {
	migrations.QuietMode = true
	store, err := db.NewMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	Init(store.GetDB())
	t.Cleanup(func() {
		globalMu.Lock()
		global = nil
		globalMu.Unlock()
	})

	LogError("ask", errors.New("history write failed"), map[string]string{"session": "s1"})
	LogError("ask", nil, nil)
	func() {
		defer func() {
			if r := recover(); r != nil {
				LogPanic("websocket", r, nil)
			}
		}()
		panic("boom")
	}()

	entries, err := Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != "panic" || entries[0].Message != "boom" || entries[0].Stacktrace == "" {
		t.Errorf("unexpected panic entry: %+v", entries[0])
	}
	if entries[1].Module != "ask" || entries[1].Context["session"] != "s1" {
		t.Errorf("unexpected error entry: %+v", entries[1])
	}
}

func TestUninitializedIsSafe(t *testing.T) {
	globalMu.Lock()
	global = nil
	globalMu.Unlock()

	LogError("x", errors.New("e"), nil)
	LogPanic("x", "p", nil)
	entries, err := Recent(context.Background(), 5)
	if err != nil || entries != nil {
		t.Errorf("expected nothing, got %v %v", entries, err)
	}
}
