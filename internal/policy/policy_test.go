package policy

import (
	"testing"
	"time"

	"github.com/dandi/dandi-cli-sub000/internal/digest"
)

var (
	t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

func TestParse(t *testing.T) {
	for input, want := range map[string]ExistingPolicy{
		"error":               Error,
		"skip":                Skip,
		"force":               Force,
		"overwrite":           Overwrite,
		"overwrite-different": OverwriteDifferent,
		"refresh":             Refresh,
		"REFRESH":             Refresh,
	} {
		got, err := Parse(input)
		if err != nil {
			t.Errorf("Parse(%q): unexpected error: %v", input, err)
			continue
		}
		if got != want {
			t.Errorf("Parse(%q) = %s, want %s", input, got, want)
		}
	}

	if _, err := Parse("clobber"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestDecideNoDestination(t *testing.T) {
	// Every policy proceeds when the destination does not exist.
	for _, p := range []ExistingPolicy{Error, Skip, Force, Overwrite, OverwriteDifferent, Refresh} {
		d, err := Decide(p, Side{Size: 10, Mtime: t0}, nil)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", p, err)
		}
		if d != Proceed {
			t.Errorf("%s: got %s, want proceed", p, d)
		}
	}
}

func TestDecideTable(t *testing.T) {
	sha := func(v string) map[digest.Algorithm]string {
		return map[digest.Algorithm]string{digest.SHA256: v}
	}

	tests := []struct {
		name    string
		policy  ExistingPolicy
		source  Side
		dest    Side
		want    Decision
		wantErr bool
	}{
		{"error always fails", Error, Side{Size: 1, Mtime: t0}, Side{Size: 1, Mtime: t0}, Fail, true},
		{"skip always skips", Skip, Side{Size: 1, Mtime: t1}, Side{Size: 2, Mtime: t0}, SkipUnit, false},
		{"force always proceeds", Force, Side{Size: 1, Mtime: t0}, Side{Size: 1, Mtime: t0}, Proceed, false},

		{"overwrite same size and mtime skips", Overwrite, Side{Size: 5, Mtime: t0}, Side{Size: 5, Mtime: t0}, SkipUnit, false},
		{"overwrite size differs proceeds", Overwrite, Side{Size: 6, Mtime: t0}, Side{Size: 5, Mtime: t0}, Proceed, false},
		{"overwrite mtime differs proceeds", Overwrite, Side{Size: 5, Mtime: t1}, Side{Size: 5, Mtime: t0}, Proceed, false},

		{"overwrite-different equal digest skips", OverwriteDifferent,
			Side{Size: 5, Digests: sha("aa")}, Side{Size: 7, Digests: sha("aa")}, SkipUnit, false},
		{"overwrite-different digest differs proceeds", OverwriteDifferent,
			Side{Size: 5, Digests: sha("aa")}, Side{Size: 5, Digests: sha("bb")}, Proceed, false},
		{"overwrite-different no common digest falls back to size", OverwriteDifferent,
			Side{Size: 5, Digests: sha("aa")}, Side{Size: 6}, Proceed, false},
		{"overwrite-different no common digest same size skips", OverwriteDifferent,
			Side{Size: 5, Digests: sha("aa")}, Side{Size: 5}, SkipUnit, false},

		{"refresh newer source proceeds", Refresh, Side{Mtime: t1}, Side{Mtime: t0}, Proceed, false},
		{"refresh equal mtime skips", Refresh, Side{Mtime: t0}, Side{Mtime: t0}, SkipUnit, false},
		{"refresh older source skips", Refresh, Side{Mtime: t0}, Side{Mtime: t1}, SkipUnit, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := tt.dest
			got, err := Decide(tt.policy, tt.source, &dest)
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

// Property from the refresh rule: proceed iff source mtime is strictly newer.
func TestRefreshStrictOrdering(t *testing.T) {
	offsets := []time.Duration{-time.Hour, -time.Second, 0, time.Second, time.Hour}
	for _, off := range offsets {
		src := Side{Mtime: t0.Add(off)}
		dest := Side{Mtime: t0}
		got, err := Decide(Refresh, src, &dest)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := SkipUnit
		if off > 0 {
			want = Proceed
		}
		if got != want {
			t.Errorf("offset %v: got %s, want %s", off, got, want)
		}
	}
}
