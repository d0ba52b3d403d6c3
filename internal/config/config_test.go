package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Instance != "dandi" {
		t.Errorf("expected default instance dandi, got %s", cfg.Instance)
	}
	if _, ok := cfg.Instances["dandi"]; !ok {
		t.Error("expected dandi instance to be registered")
	}
	if _, ok := cfg.Instances["dandi-staging"]; !ok {
		t.Error("expected dandi-staging instance to be registered")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dandi.yaml")

	content := []byte("instance: dandi-staging\njobs: 3\nthreads_per_file: 2\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Instance != "dandi-staging" {
		t.Errorf("expected dandi-staging, got %s", cfg.Instance)
	}
	if cfg.Jobs != 3 {
		t.Errorf("expected 3 jobs, got %d", cfg.Jobs)
	}
	// Unset fields keep their defaults
	if cfg.MinChunkSize != "16MB" {
		t.Errorf("expected default min chunk size, got %s", cfg.MinChunkSize)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DANDI_API_URL", "http://localhost:8000/api")
	t.Setenv("DANDI_API_KEY", "secret-token")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Current().API != "http://localhost:8000/api" {
		t.Errorf("expected env API URL, got %s", cfg.Current().API)
	}
	if cfg.APIKey != "secret-token" {
		t.Errorf("expected env API key, got %s", cfg.APIKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Jobs = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero jobs")
	}

	cfg = DefaultConfig()
	cfg.Instance = "nonexistent"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown instance")
	}

	cfg = DefaultConfig()
	cfg.MinChunkSize = "1GB"
	cfg.MaxChunkSize = "16MB"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for min > max chunk size")
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"16MB", 16 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"512kb", 512 * 1024, false},
		{"100", 100, false},
		{"100B", 100, false},
		{"", 0, true},
		{"MB", 0, true},
		{"-5MB", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseSize(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseSize(%q): expected error, got %d", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSize(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestParseJobs(t *testing.T) {
	jobs, threads, err := ParseJobs("8")
	if err != nil || jobs != 8 || threads != 0 {
		t.Errorf("ParseJobs(8) = %d,%d,%v", jobs, threads, err)
	}

	jobs, threads, err = ParseJobs("4:2")
	if err != nil || jobs != 4 || threads != 2 {
		t.Errorf("ParseJobs(4:2) = %d,%d,%v", jobs, threads, err)
	}

	for _, bad := range []string{"", "0", "-1", "4:0", "4:x", "x"} {
		if _, _, err := ParseJobs(bad); err == nil {
			t.Errorf("ParseJobs(%q): expected error", bad)
		}
	}
}
