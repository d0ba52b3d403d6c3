package digest

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDigestKnownVectors(t *testing.T) {
	// Digests of the ASCII string "abc".
	got, err := Digest(strings.NewReader("abc"), []Algorithm{MD5, SHA1, SHA256})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[Algorithm]string{
		MD5:    "900150983cd24fb0d6963f7d28e17f72",
		SHA1:   "a9993e364706816aba3e25717850c26c9cd0d89d",
		SHA256: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
	}
	for algo, hexval := range want {
		if got[algo] != hexval {
			t.Errorf("%s = %s, want %s", algo, got[algo], hexval)
		}
	}
}

func TestDigestSinglePass(t *testing.T) {
	// A reader that can only be consumed once proves the multi-algorithm
	// computation happens in one streaming pass.
	r := strings.NewReader("single pass content")
	got, err := Digest(r, []Algorithm{SHA1, SHA256, SHA512})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 digests, got %d", len(got))
	}
	if r.Len() != 0 {
		t.Errorf("expected reader fully consumed, %d bytes left", r.Len())
	}
}

func TestDigestNoAlgorithms(t *testing.T) {
	if _, err := Digest(strings.NewReader("x"), nil); err == nil {
		t.Error("expected error for empty algorithm set")
	}
}

func TestDigestUnsupportedAlgorithm(t *testing.T) {
	if _, err := Digest(strings.NewReader("x"), []Algorithm{"crc32"}); err == nil {
		t.Error("expected error for unsupported algorithm")
	}
}

func TestPreferred(t *testing.T) {
	local := map[Algorithm]string{SHA1: "a", SHA256: "b", MD5: "c"}

	algo, ok := Preferred(local, map[Algorithm]string{SHA256: "b", SHA1: "a"})
	if !ok || algo != SHA1 {
		t.Errorf("expected sha1 preferred, got %s ok=%v", algo, ok)
	}

	algo, ok = Preferred(local, map[Algorithm]string{SHA256: "b"})
	if !ok || algo != SHA256 {
		t.Errorf("expected sha256 fallback, got %s ok=%v", algo, ok)
	}

	if _, ok := Preferred(local, map[Algorithm]string{SHA512: "z"}); ok {
		t.Error("expected no common algorithm")
	}
}

func TestCacheHitAndInvalidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "asset.nwb")
	if err := os.WriteFile(path, []byte("version one"), 0644); err != nil {
		t.Fatal(err)
	}

	cache, err := NewCache(16, CacheNormal, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	first, err := cache.DigestFile(path, []Algorithm{SHA256})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache.Len() != 1 {
		t.Errorf("expected 1 cache entry, got %d", cache.Len())
	}

	second, err := cache.DigestFile(path, []Algorithm{SHA256})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first[SHA256] != second[SHA256] {
		t.Error("expected identical digest from cache")
	}

	// Rewrite the file with different content and a different mtime; the
	// stale entry must not be served.
	if err := os.WriteFile(path, []byte("version two!"), 0644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	third, err := cache.DigestFile(path, []Algorithm{SHA256})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third[SHA256] == first[SHA256] {
		t.Error("expected new digest after file modification")
	}
}

func TestCacheAccumulatesAlgorithms(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "asset.nwb")
	if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}

	cache, err := NewCache(16, CacheNormal, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := cache.DigestFile(path, []Algorithm{SHA1}); err != nil {
		t.Fatal(err)
	}
	got, err := cache.DigestFile(path, []Algorithm{SHA256})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got[SHA1]; !ok {
		t.Error("expected sha1 retained from prior computation")
	}
	if _, ok := got[SHA256]; !ok {
		t.Error("expected sha256 present")
	}
}

func TestCacheModeFromEnv(t *testing.T) {
	t.Setenv("DANDI_CACHE", "ignore")
	mode, err := CacheModeFromEnv()
	if err != nil || mode != CacheIgnore {
		t.Errorf("expected ignore mode, got %q err=%v", mode, err)
	}

	t.Setenv("DANDI_CACHE", "clear")
	mode, err = CacheModeFromEnv()
	if err != nil || mode != CacheClear {
		t.Errorf("expected clear mode, got %q err=%v", mode, err)
	}

	t.Setenv("DANDI_CACHE", "bogus")
	if _, err := CacheModeFromEnv(); err == nil {
		t.Error("expected error for invalid cache mode")
	}
}
