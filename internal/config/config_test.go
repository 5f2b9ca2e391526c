package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromBytes(t *testing.T) {
	t.Setenv("NEXUS_TEST_SECRET", "s3cret")
	data := []byte(`
data_dir: /tmp/nexus-test
locale: zh
server:
  port: 9000
  auth_secret: ${NEXUS_TEST_SECRET}
retry:
  backoff_unit: 250ms
`)
	c, err := LoadFromBytes(data)
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}

	if c.DataDir != "/tmp/nexus-test" {
		t.Errorf("DataDir = %q", c.DataDir)
	}
	if c.Server.AuthSecret != "s3cret" {
		t.Errorf("expected env expansion, got %q", c.Server.AuthSecret)
	}
	if c.Server.Port != 9000 || c.Server.Host != "localhost" {
		t.Errorf("unexpected server %s", c.Addr())
	}
	if c.Retry.BackoffUnit != 250*time.Millisecond {
		t.Errorf("BackoffUnit = %v", c.Retry.BackoffUnit)
	}
	if c.Database.Path != filepath.Join("/tmp/nexus-test", "data", "nexus.db") {
		t.Errorf("Database.Path = %q", c.Database.Path)
	}
	if c.Web.BaseURL != "https://gemini.google.com" {
		t.Errorf("Web.BaseURL default not applied: %q", c.Web.BaseURL)
	}
}

func TestMergeFile(t *testing.T) {
	c, err := LoadFromBytes([]byte("data_dir: " + t.TempDir() + "\n"))
	if err != nil {
		t.Fatal(err)
	}

	// Missing file is fine
	if err := c.MergeFile(filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("locale: zh\nserver:\n  port: 1234\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := c.MergeFile(path); err != nil {
		t.Fatal(err)
	}
	if c.Locale != "zh" || c.Server.Port != 1234 {
		t.Errorf("overlay not applied: locale=%q port=%d", c.Locale, c.Server.Port)
	}

	if err := os.WriteFile(path, []byte("server: [\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := c.MergeFile(path); err == nil {
		t.Error("expected parse error for invalid YAML")
	}
}
