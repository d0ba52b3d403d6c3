package safety

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestCleanAssetPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"simple", "sub-01/sub-01.nwb", filepath.Join("sub-01", "sub-01.nwb"), false},
		{"nested", "a/b/c.zarr", filepath.Join("a", "b", "c.zarr"), false},
		{"redundant segments", "a//b/./c", filepath.Join("a", "b", "c"), false},
		{"empty", "", "", true},
		{"dot", ".", "", true},
		{"absolute", "/etc/passwd", "", true},
		{"parent traversal", "../outside", "", true},
		{"embedded traversal escaping", "../../x", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CleanAssetPath(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %q", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJoinUnderRoot(t *testing.T) {
	root := t.TempDir()

	got, err := JoinUnderRoot(root, "sub-01/ses-01.nwb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got, root) {
		t.Errorf("joined path %q not under root %q", got, root)
	}

	if _, err := JoinUnderRoot(root, "../escape.nwb"); err == nil {
		t.Error("expected error for traversal path")
	}
}

func TestEnsureUnderRoot(t *testing.T) {
	root := t.TempDir()

	if _, err := EnsureUnderRoot(root, filepath.Join(root, "ok.nwb")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := EnsureUnderRoot(root, filepath.Join(root, "..", "bad.nwb")); err == nil {
		t.Error("expected error for path escaping root")
	}
}
