package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Instance describes one archive deployment the client knows how to talk to.
type Instance struct {
	API string `yaml:"api"`
	GUI string `yaml:"gui"`
}

// Config is the top-level configuration
type Config struct {
	// Instance selects the archive deployment by name from Instances.
	Instance string `yaml:"instance"`
	// APIKey authenticates requests; usually supplied via DANDI_API_KEY.
	APIKey string `yaml:"api_key"`

	// Jobs is the number of files transferred concurrently.
	Jobs int `yaml:"jobs"`
	// ThreadsPerFile is the number of chunks in flight per file.
	ThreadsPerFile int `yaml:"threads_per_file"`

	// MinChunkSize / MaxChunkSize bound the per-file chunk size, as
	// human-readable sizes ("16MB", "512MB").
	MinChunkSize string `yaml:"min_chunk_size"`
	MaxChunkSize string `yaml:"max_chunk_size"`

	// OutputDir is the default download destination.
	OutputDir string `yaml:"output_dir"`

	// DigestCacheSize caps the in-process digest cache entry count.
	DigestCacheSize int `yaml:"digest_cache_size"`

	Instances map[string]Instance `yaml:"instances"`
}

// DefaultConfig returns a config with the registered archive instances and
// conservative transfer defaults.
func DefaultConfig() *Config {
	return &Config{
		Instance:        "dandi",
		Jobs:            5,
		ThreadsPerFile:  5,
		MinChunkSize:    "16MB",
		MaxChunkSize:    "512MB",
		OutputDir:       ".",
		DigestCacheSize: 4096,
		Instances: map[string]Instance{
			"dandi": {
				API: "https://api.dandiarchive.org/api",
				GUI: "https://dandiarchive.org",
			},
			"dandi-staging": {
				API: "https://api-staging.dandiarchive.org/api",
				GUI: "https://gui-staging.dandiarchive.org",
			},
			"linc": {
				API: "https://api.lincbrain.org/api",
				GUI: "https://lincbrain.org",
			},
		},
	}
}

// FindConfigFile looks for a config file in the standard locations.
func FindConfigFile() (string, error) {
	candidates := []string{}

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "dandi", "config.yaml"))
	}
	candidates = append(candidates, "dandi.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config file found")
}

// Load reads a YAML config file, layering it over the defaults and then
// applying environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from environment variables.
// DANDI_API_URL takes precedence over the named instance by installing an
// ad-hoc instance entry.
func (c *Config) applyEnv() {
	if v := os.Getenv("DANDI_INSTANCE"); v != "" {
		c.Instance = v
	}
	if v := os.Getenv("DANDI_API_URL"); v != "" {
		if c.Instances == nil {
			c.Instances = map[string]Instance{}
		}
		c.Instances["env"] = Instance{API: v}
		c.Instance = "env"
	}
	if v := os.Getenv("DANDI_API_KEY"); v != "" {
		c.APIKey = v
	}
}

// Validate checks the config for internally consistent values.
func (c *Config) Validate() error {
	if c.Jobs <= 0 {
		return fmt.Errorf("jobs must be positive, got %d", c.Jobs)
	}
	if c.ThreadsPerFile <= 0 {
		return fmt.Errorf("threads_per_file must be positive, got %d", c.ThreadsPerFile)
	}
	if _, ok := c.Instances[c.Instance]; !ok {
		return fmt.Errorf("unknown instance %q", c.Instance)
	}
	minSize, err := ParseSize(c.MinChunkSize)
	if err != nil {
		return fmt.Errorf("invalid min_chunk_size: %w", err)
	}
	maxSize, err := ParseSize(c.MaxChunkSize)
	if err != nil {
		return fmt.Errorf("invalid max_chunk_size: %w", err)
	}
	if minSize > maxSize {
		return fmt.Errorf("min_chunk_size %s exceeds max_chunk_size %s", c.MinChunkSize, c.MaxChunkSize)
	}
	return nil
}

// Current returns the selected instance entry.
func (c *Config) Current() Instance {
	return c.Instances[c.Instance]
}

// Save writes the config as YAML, creating parent directories as needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
