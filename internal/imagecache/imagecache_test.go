package imagecache

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := Open(filepath.Join(t.TempDir(), "covers"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestPutGetRoundTrip(t *testing.T) {
	cache := openTestCache(t)

	entry := Entry{
		ContentType: "image/png",
		Data:        bytes.Repeat([]byte("PNGDATA"), 512),
	}
	if err := cache.Put("cover123", entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if !cache.Has("cover123") {
		t.Error("Has = false after Put")
	}

	got, err := cache.Get("cover123")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", got.ContentType)
	}
	if !bytes.Equal(got.Data, entry.Data) {
		t.Error("Data mismatch after round trip")
	}
}

func TestGetMissing(t *testing.T) {
	cache := openTestCache(t)

	if cache.Has("nope") {
		t.Error("Has = true for missing key")
	}
	_, err := cache.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	cache := openTestCache(t)

	if err := cache.Put("gone-soon", Entry{ContentType: "image/jpeg", Data: []byte("jpg")}); err != nil {
		t.Fatal(err)
	}
	if err := cache.Delete("gone-soon"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if cache.Has("gone-soon") {
		t.Error("Entry still present after Delete")
	}
	// Deleting again is a no-op.
	if err := cache.Delete("gone-soon"); err != nil {
		t.Errorf("Second delete failed: %v", err)
	}
}
