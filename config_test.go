package goswcache_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	goswcache "github.com/offlinekit/go-sw-cache"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "swcache.yaml", `
cache_name: cache-v2.1.0
origin: https://app.example.test/
exclude:
  - https://app.example.test/api/
debounce_window: 2s
`)

	cfg, err := goswcache.LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.CacheName != "cache-v2.1.0" {
		t.Errorf("expected cache name cache-v2.1.0, got %q", cfg.CacheName)
	}
	if cfg.Origin != "https://app.example.test" {
		t.Errorf("expected trailing slash trimmed from origin, got %q", cfg.Origin)
	}
	if cfg.DebounceWindow != 2*time.Second {
		t.Errorf("expected 2s debounce window, got %v", cfg.DebounceWindow)
	}
	if cfg.RevalidateTimeout != 30*time.Second {
		t.Errorf("expected default revalidate timeout, got %v", cfg.RevalidateTimeout)
	}
}

func TestLoadConfigRequiresCacheName(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "swcache.yaml", "origin: https://app.example.test\n")

	if _, err := goswcache.LoadConfig(path); err == nil {
		t.Fatal("expected an error for a config without cache_name")
	}
}

func TestLoadManifest(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "manifest.yaml", `
assets:
  - /index.html
  - /app.abc123.js
  - /styles.def456.css
`)

	m, err := goswcache.LoadManifest(path)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if len(m) != 3 {
		t.Fatalf("expected 3 assets, got %d", len(m))
	}
	if m[0] != "/index.html" {
		t.Errorf("expected first asset /index.html, got %q", m[0])
	}
}

func TestLoadManifestRejectsEmpty(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "manifest.yaml", "assets: []\n")

	if _, err := goswcache.LoadManifest(path); err == nil {
		t.Fatal("expected an error for an empty manifest")
	}
}
