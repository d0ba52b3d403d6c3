package locator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dandi/dandi-cli-sub000/internal/config"
)

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewResolver(config.DefaultConfig().Instances, nil, logger)
}

func TestResolveTable(t *testing.T) {
	r := testResolver(t)
	api := "https://api.dandiarchive.org/api"

	tests := []struct {
		name  string
		input string
		want  Ref
	}{
		{
			"scheme dandiset",
			"dandi://dandi/000027",
			Ref{Kind: KindDandiset, Instance: "dandi", APIBase: api, DandisetID: "000027"},
		},
		{
			"scheme version",
			"dandi://dandi/000027@0.210831.2033",
			Ref{Kind: KindVersion, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "0.210831.2033"},
		},
		{
			"scheme asset item",
			"dandi://dandi/000027@draft/sub-RAT123/sub-RAT123.nwb",
			Ref{Kind: KindAssetItem, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "draft", Path: "sub-RAT123/sub-RAT123.nwb"},
		},
		{
			"scheme asset folder trailing slash",
			"dandi://dandi/000027@draft/sub-RAT123/",
			Ref{Kind: KindAssetFolder, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "draft", Path: "sub-RAT123"},
		},
		{
			"scheme staging instance",
			"dandi://dandi-staging/000001",
			Ref{Kind: KindDandiset, Instance: "dandi-staging", APIBase: "https://api-staging.dandiarchive.org/api", DandisetID: "000001"},
		},
		{
			"gui landing page",
			"https://dandiarchive.org/dandiset/000027",
			Ref{Kind: KindDandiset, Instance: "dandi", APIBase: api, DandisetID: "000027"},
		},
		{
			"gui versioned dandiset",
			"https://dandiarchive.org/dandiset/000027/0.210831.2033",
			Ref{Kind: KindVersion, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "0.210831.2033"},
		},
		{
			"gui files browser with location prefix",
			"https://dandiarchive.org/dandiset/000027/draft/files?location=sub-RAT123",
			Ref{Kind: KindPathPrefix, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "draft", Path: "sub-RAT123"},
		},
		{
			"gui files browser with folder location",
			"https://dandiarchive.org/dandiset/000027/draft/files?location=sub-RAT123/",
			Ref{Kind: KindAssetFolder, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "draft", Path: "sub-RAT123"},
		},
		{
			"api version listing",
			"https://api.dandiarchive.org/api/dandisets/000027/versions/draft",
			Ref{Kind: KindVersion, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "draft"},
		},
		{
			"api assets by path query",
			"https://api.dandiarchive.org/api/dandisets/000027/versions/draft/assets/?path=sub-RAT123",
			Ref{Kind: KindPathPrefix, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "draft", Path: "sub-RAT123"},
		},
		{
			"api assets by glob query",
			"https://api.dandiarchive.org/api/dandisets/000027/versions/draft/assets/?glob=*.nwb",
			Ref{Kind: KindMultiAsset, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "draft", Glob: "*.nwb"},
		},
		{
			"api asset by id within version",
			"https://api.dandiarchive.org/api/dandisets/000027/versions/draft/assets/0febaa0f-ddad-42d4-ae95-79a02ba621aa/",
			Ref{Kind: KindAssetID, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "draft", AssetID: "0febaa0f-ddad-42d4-ae95-79a02ba621aa"},
		},
		{
			"api asset download link",
			"https://api.dandiarchive.org/api/assets/0febaa0f-ddad-42d4-ae95-79a02ba621aa/download/",
			Ref{Kind: KindAssetID, Instance: "dandi", APIBase: api, AssetID: "0febaa0f-ddad-42d4-ae95-79a02ba621aa"},
		},
		{
			"bare dandiset id",
			"000027",
			Ref{Kind: KindDandiset, Instance: "dandi", APIBase: api, DandisetID: "000027"},
		},
		{
			"DANDI prefix",
			"DANDI:000027",
			Ref{Kind: KindDandiset, Instance: "dandi", APIBase: api, DandisetID: "000027"},
		},
		{
			"DANDI prefix with version",
			"DANDI:000027/0.210831.2033",
			Ref{Kind: KindVersion, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "0.210831.2033"},
		},
		{
			"bare id with version and path",
			"000027/draft/sub-RAT123/sub-RAT123.nwb",
			Ref{Kind: KindAssetItem, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "draft", Path: "sub-RAT123/sub-RAT123.nwb"},
		},
		{
			"local relative path",
			"./data/sub-01",
			Ref{Kind: KindLocalPath, LocalPath: "./data/sub-01"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v\nwant %+v", got, tt.want)
			}
		})
	}
}

// Resolving the canonical serialization of a ref yields an equal ref.
func TestResolveIdempotent(t *testing.T) {
	r := testResolver(t)
	api := "https://api.dandiarchive.org/api"

	refs := []Ref{
		{Kind: KindDandiset, Instance: "dandi", APIBase: api, DandisetID: "000027"},
		{Kind: KindVersion, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "draft"},
		{Kind: KindAssetItem, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "draft", Path: "sub-RAT123/sub-RAT123.nwb"},
		{Kind: KindAssetFolder, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "draft", Path: "sub-RAT123"},
		{Kind: KindAssetID, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "draft", AssetID: "0febaa0f-ddad-42d4-ae95-79a02ba621aa"},
		{Kind: KindPathPrefix, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "draft", Path: "sub-RAT123"},
		{Kind: KindMultiAsset, Instance: "dandi", APIBase: api, DandisetID: "000027", Version: "draft", Glob: "*.nwb"},
	}

	for _, ref := range refs {
		got, err := r.Resolve(context.Background(), ref.String())
		if err != nil {
			t.Errorf("%s: unexpected error resolving %q: %v", ref.Kind, ref.String(), err)
			continue
		}
		if got != ref {
			t.Errorf("%s: round trip mismatch\nserialized %q\ngot  %+v\nwant %+v", ref.Kind, ref.String(), got, ref)
		}
	}
}

func TestResolveRedirector(t *testing.T) {
	target := "https://dandiarchive.org/dandiset/000027/draft"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", req.Method)
		}
		http.Redirect(w, req, target, http.StatusFound)
	}))
	defer server.Close()

	r := testResolver(t)
	got, err := r.Resolve(context.Background(), server.URL+"/D27")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Kind != KindVersion || got.DandisetID != "000027" || got.Version != "draft" {
		t.Errorf("unexpected ref: %+v", got)
	}
}

func TestResolveRedirectLoop(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// Redirect to another unknown URL, which redirects again; depth
		// guard must stop after one hop.
		http.Redirect(w, req, server.URL+"/again", http.StatusFound)
	}))
	defer server.Close()

	r := testResolver(t)
	_, err := r.Resolve(context.Background(), server.URL+"/start")
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
}

func TestResolveUnknownInstance(t *testing.T) {
	r := testResolver(t)

	_, err := r.Resolve(context.Background(), "dandi://dandi-stagging/000001")
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if resErr.Hint == "" {
		t.Error("expected a closest-instance hint")
	}
	if want := `did you mean instance "dandi-staging"?`; resErr.Hint != want {
		t.Errorf("hint = %q, want %q", resErr.Hint, want)
	}
}

func TestResolveUnrecognized(t *testing.T) {
	r := testResolver(t)

	for _, input := range []string{"", "not a thing at all ???", "dandi://"} {
		_, err := r.Resolve(context.Background(), input)
		var resErr *ResolutionError
		if !errors.As(err, &resErr) {
			t.Errorf("Resolve(%q): expected ResolutionError, got %v", input, err)
		}
	}
}
