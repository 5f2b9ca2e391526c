package keyring

import (
	"bytes"
	"testing"

	zkr "github.com/zalando/go-keyring"
)

func TestSetGetDelete(t *testing.T) {
	zkr.MockInit()

	if _, err := Get(); !IsNotFound(err) {
		t.Fatalf("expected not found before Set, got %v", err)
	}

	key := bytes.Repeat([]byte{0xab}, 32)
	if err := Set(key); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Errorf("Get = %x, want %x", got, key)
	}

	if err := Delete(); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := Get(); !IsNotFound(err) {
		t.Errorf("expected not found after Delete, got %v", err)
	}
}

func TestAvailable(t *testing.T) {
	zkr.MockInit()
	if !Available() {
		t.Error("mock keychain should be available")
	}

	t.Setenv("NEXUS_KEYRING_DISABLED", "1")
	if Available() {
		t.Error("NEXUS_KEYRING_DISABLED=1 should disable the keychain")
	}
}
