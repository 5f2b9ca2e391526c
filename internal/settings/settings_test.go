package settings

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/neboloop/nexus/internal/credential"
	"github.com/neboloop/nexus/internal/db"
	"github.com/neboloop/nexus/internal/db/migrations"
)

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	migrations.QuietMode = true
	store, err := db.NewMemory()
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewSQLStore(store.GetDB())
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(nil),
		"sqlite": newSQLStore(t),
	}
}

func TestStoreBasics(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Get(ctx, KeyProvider); err != nil || ok {
				t.Fatalf("expected missing key, ok=%v err=%v", ok, err)
			}
			if err := s.Set(ctx, KeyProvider, "openai"); err != nil {
				t.Fatal(err)
			}
			if err := s.Set(ctx, KeyProvider, "web"); err != nil {
				t.Fatal(err)
			}
			v, ok, err := s.Get(ctx, KeyProvider)
			if err != nil || !ok || v != "web" {
				t.Fatalf("Get = %q, %v, %v", v, ok, err)
			}

			s.Set(ctx, KeyThinkingLevel, "high")
			many, err := s.GetMany(ctx, KeyProvider, KeyThinkingLevel, KeyAPIKey)
			if err != nil {
				t.Fatal(err)
			}
			if len(many) != 2 || many[KeyThinkingLevel] != "high" {
				t.Errorf("GetMany = %v", many)
			}

			if err := s.Delete(ctx, KeyProvider, KeyThinkingLevel); err != nil {
				t.Fatal(err)
			}
			all, _ := s.All(ctx)
			if len(all) != 0 {
				t.Errorf("expected empty store, got %v", all)
			}
		})
	}
}

func TestStoreUpdate(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			incr := func(cur string, ok bool) (string, error) {
				n := 0
				if ok {
					n, _ = strconv.Atoi(cur)
				}
				return strconv.Itoa(n + 1), nil
			}

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := s.Update(ctx, KeyAPIKeyPointer, incr); err != nil {
						t.Error(err)
					}
				}()
			}
			wg.Wait()

			n, ok, err := GetInt(ctx, s, KeyAPIKeyPointer)
			if err != nil || !ok || n != 20 {
				t.Errorf("after concurrent updates pointer = %d (ok=%v err=%v)", n, ok, err)
			}

			boom := errors.New("boom")
			_, err = s.Update(ctx, KeyAPIKeyPointer, func(string, bool) (string, error) { return "", boom })
			if !errors.Is(err, boom) {
				t.Errorf("expected fn error, got %v", err)
			}
			if n, _, _ := GetInt(ctx, s, KeyAPIKeyPointer); n != 20 {
				t.Errorf("failed update changed value to %d", n)
			}
		})
	}
}

func TestHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(map[string]string{
		KeyUseOfficialAPI: "true",
		KeyAPIKeyPointer:  "abc",
		KeyAccountIndices: "[0,2]",
	})

	if b, _ := GetBool(ctx, s, KeyUseOfficialAPI); !b {
		t.Error("GetBool should be true")
	}
	if _, ok, _ := GetInt(ctx, s, KeyAPIKeyPointer); ok {
		t.Error("unparseable int should report ok=false")
	}
	if v, _ := GetString(ctx, s, KeyThinkingLevel, "low"); v != "low" {
		t.Errorf("GetString default = %q", v)
	}

	var idx []int
	if ok, err := GetJSON(ctx, s, KeyAccountIndices, &idx); !ok || err != nil || len(idx) != 2 {
		t.Errorf("GetJSON = %v %v %v", idx, ok, err)
	}
	if err := SetJSON(ctx, s, KeyAccountIndices, []int{1}); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := s.Get(ctx, KeyAccountIndices); v != "[1]" {
		t.Errorf("SetJSON wrote %q", v)
	}
}

func TestSQLStoreEncryptsSecrets(t *testing.T) {
	ctx := context.Background()
	credential.Init(bytes.Repeat([]byte{7}, 32))
	defer credential.Init(nil)

	s := newSQLStore(t)
	if err := s.Set(ctx, KeyAPIKey, "k1,k2"); err != nil {
		t.Fatal(err)
	}
	var raw string
	if err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", KeyAPIKey).Scan(&raw); err != nil {
		t.Fatal(err)
	}
	if !credential.IsEncrypted(raw) {
		t.Errorf("secret stored in plaintext: %q", raw)
	}
	if v, _, _ := s.Get(ctx, KeyAPIKey); v != "k1,k2" {
		t.Errorf("Get returned %q", v)
	}

	s.Set(ctx, KeyProvider, "official")
	s.db.QueryRow("SELECT value FROM settings WHERE key = ?", KeyProvider).Scan(&raw)
	if raw != "official" {
		t.Errorf("non-secret should stay plaintext, got %q", raw)
	}
}
