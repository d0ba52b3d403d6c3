package dandiapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newTestClient creates a client with zero-delay backoff for fast tests.
func newTestClient(baseURL string) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(baseURL, "test-token", logger)
	c.backoffFunc = func(attempt int) time.Duration { return 0 }
	return c
}

func TestRetriesTransientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(Dandiset{Identifier: "000027"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ds, err := client.GetDandiset(context.Background(), "000027")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.Identifier != "000027" {
		t.Errorf("unexpected dandiset: %+v", ds)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestRetries429(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(Dandiset{Identifier: "000027"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.GetDandiset(context.Background(), "000027"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestDoesNotRetryPermanentErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.GetDandiset(context.Background(), "999999")

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 HTTPError, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 attempt for 404, got %d", got)
	}
}

func TestListAssetsPagination(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/dandisets/000027/versions/draft/assets/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		page := r.URL.Query().Get("page")
		switch page {
		case "", "1":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"count":   3,
				"next":    server.URL + "/dandisets/000027/versions/draft/assets/?page=2",
				"results": []Asset{{AssetID: "a1", Path: "sub-01/a.nwb", Size: 1}, {AssetID: "a2", Path: "sub-01/b.nwb", Size: 2}},
			})
		case "2":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"count":   3,
				"next":    "",
				"results": []Asset{{AssetID: "a3", Path: "sub-02/c.nwb", Size: 3}},
			})
		default:
			t.Errorf("unexpected page %q", page)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	assets, err := client.ListAssets(context.Background(), "000027", "draft", ListOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assets) != 3 {
		t.Fatalf("expected 3 assets, got %d", len(assets))
	}
	if assets[2].AssetID != "a3" {
		t.Errorf("unexpected last asset: %+v", assets[2])
	}
}

func TestGetAssetByPathExactMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The server filters by prefix; the client must match exactly.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"count": 2,
			"next":  "",
			"results": []Asset{
				{AssetID: "a1", Path: "sub-01/a.nwb"},
				{AssetID: "a2", Path: "sub-01/a.nwb.backup"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	asset, err := client.GetAssetByPath(context.Background(), "000027", "draft", "sub-01/a.nwb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if asset == nil || asset.AssetID != "a1" {
		t.Errorf("unexpected asset: %+v", asset)
	}

	asset, err = client.GetAssetByPath(context.Background(), "000027", "draft", "sub-01/missing.nwb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if asset != nil {
		t.Errorf("expected nil for missing path, got %+v", asset)
	}
}

func TestAcquireLockConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"owner": "someone-else"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.AcquireLock(context.Background(), "000027", "draft", "me")

	var lockErr *LockedError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockedError, got %v", err)
	}
	if lockErr.Owner != "someone-else" {
		t.Errorf("expected owner from body, got %q", lockErr.Owner)
	}
}

func TestReleaseLockIgnoresMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if err := client.ReleaseLock(context.Background(), "000027", "draft"); err != nil {
		t.Errorf("expected nil for missing lock, got %v", err)
	}
}

func TestUploadPart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("presigned part upload must not carry the API token")
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "chunk-data" {
			t.Errorf("unexpected body %q", body)
		}
		w.Header().Set("ETag", `"etag-42"`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	slot := PartSlot{PartNumber: 1, Size: 10, UploadURL: server.URL + "/part/1"}
	etag, err := client.UploadPart(context.Background(), slot, strings.NewReader("chunk-data"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if etag != "etag-42" {
		t.Errorf("expected etag-42, got %q", etag)
	}
}

func TestInitiateUploadPartCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(UploadSession{UploadID: "u1", Parts: []PartSlot{{PartNumber: 1}}})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.InitiateUpload(context.Background(), "000027", 100, nil, []int64{50, 50})
	if err == nil {
		t.Fatal("expected error for part count mismatch")
	}
}

func TestDownloadAssetRange(t *testing.T) {
	content := []byte("0123456789abcdef")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		if rng == "" {
			w.Header().Set("Content-Length", fmt.Sprint(len(content)))
			_, _ = w.Write(content)
			return
		}
		var start, end int64
		if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err != nil {
			t.Errorf("bad range header %q", rng)
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(content[start : end+1])
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	body, size, err := client.DownloadAsset(context.Background(), "a1", 0, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := io.ReadAll(body)
	body.Close()
	if string(data) != string(content) || size != int64(len(content)) {
		t.Errorf("full download mismatch: %q size=%d", data, size)
	}

	body, _, err = client.DownloadAsset(context.Background(), "a1", 4, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ = io.ReadAll(body)
	body.Close()
	if string(data) != "4567" {
		t.Errorf("range download mismatch: %q", data)
	}
}
