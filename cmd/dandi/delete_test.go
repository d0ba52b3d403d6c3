package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dandi/dandi-cli-sub000/internal/dandiapi"
	"github.com/dandi/dandi-cli-sub000/internal/locator"
)

// swapClient points the package-level client at a test server for the
// duration of one test.
func swapClient(t *testing.T, baseURL string) {
	t.Helper()
	prev := globalClient
	globalClient = dandiapi.NewClient(baseURL, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { globalClient = prev })
}

func TestDeleteRefMissingAssetPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"count":0,"next":null,"results":[]}`)
	}))
	defer server.Close()
	swapClient(t, server.URL)

	ref := locator.Ref{Kind: locator.KindAssetItem, DandisetID: "000027", Version: "draft", Path: "sub-01/missing.nwb"}
	err := deleteRef(context.Background(), ref)
	if err == nil {
		t.Fatal("deleting a missing asset path returned nil error")
	}
	if !isNotFound(err) {
		t.Fatalf("error is %v, want a 404", err)
	}
}

func TestDeleteRefRefusesVersionScopedDandiset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL)
	}))
	defer server.Close()
	swapClient(t, server.URL)

	ref := locator.Ref{Kind: locator.KindVersion, DandisetID: "000027", Version: "draft"}
	if err := deleteRef(context.Background(), ref); err == nil {
		t.Fatal("version-scoped dandiset deletion returned nil error")
	}
}
