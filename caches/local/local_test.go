//go:build !integration

package local

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	goswcache "github.com/offlinekit/go-sw-cache"
	"github.com/offlinekit/go-sw-cache/caches"
)

func testEntry(url, body string) *goswcache.Entry {
	return &goswcache.Entry{
		URL:      url,
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": []string{"text/html"}},
		Body:     []byte(body),
		StoredAt: time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBasicStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := NewBasicStorage()

	store, err := storage.Open(ctx, "cache-v1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := store.Match(ctx, "GET#/index.html"); !errors.Is(err, caches.ErrNoCacheItem) {
		t.Errorf("expected ErrNoCacheItem for missing key, got %v", err)
	}

	if err := store.Put(ctx, "GET#/index.html", testEntry("/index.html", "v1")); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Match(ctx, "GET#/index.html")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if string(got.Body) != "v1" {
		t.Errorf("expected body v1, got %q", string(got.Body))
	}

	if err := store.Delete(ctx, "GET#/index.html"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Match(ctx, "GET#/index.html"); !errors.Is(err, caches.ErrNoCacheItem) {
		t.Errorf("expected ErrNoCacheItem after delete, got %v", err)
	}
}

func TestBasicStorageListAndRemove(t *testing.T) {
	ctx := context.Background()
	storage := NewBasicStorage()

	for _, name := range []string{"cache-v1", "cache-v2"} {
		if _, err := storage.Open(ctx, name); err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
	}

	names, err := storage.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 stores, got %v", names)
	}

	if err := storage.Remove(ctx, "cache-v1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := storage.Remove(ctx, "cache-v1"); !errors.Is(err, caches.ErrNoStore) {
		t.Errorf("expected ErrNoStore for a removed store, got %v", err)
	}

	names, err = storage.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 1 || names[0] != "cache-v2" {
		t.Errorf("expected only cache-v2 to remain, got %v", names)
	}
}

func TestBasicStoreKeys(t *testing.T) {
	ctx := context.Background()
	storage := NewBasicStorage()

	store, err := storage.Open(ctx, "cache-v1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	entries := map[string]string{
		"GET#/index.html":    "home",
		"GET#/app.abc123.js": "script",
	}
	for k, body := range entries {
		if err := store.Put(ctx, k, testEntry(k, body)); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != len(entries) {
		t.Errorf("expected %d keys, got %v", len(entries), keys)
	}
	for _, k := range keys {
		if _, ok := entries[k]; !ok {
			t.Errorf("unexpected key %q", k)
		}
	}
}
