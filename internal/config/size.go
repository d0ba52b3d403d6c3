package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSize parses a human-readable size string like "16MB" into bytes.
// Supports B, KB, MB, GB, TB suffixes (case-insensitive).
// A plain number is treated as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	s = strings.ToUpper(s)

	multipliers := []struct {
		suffix string
		mult   int64
	}{
		{"TB", 1024 * 1024 * 1024 * 1024},
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, m := range multipliers {
		if strings.HasSuffix(s, m.suffix) {
			numStr := strings.TrimSuffix(s, m.suffix)
			if numStr == "" {
				return 0, fmt.Errorf("missing number in size: %s", s)
			}
			n, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number in size %q: %w", s, err)
			}
			if n < 0 {
				return 0, fmt.Errorf("negative size: %s", s)
			}
			return n * m.mult, nil
		}
	}

	// Plain number = bytes
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size: %s", s)
	}
	return n, nil
}

// ParseJobs parses the --jobs value, either "N" or "N:M" where N is the
// number of files in flight and M the number of chunk uploads per file.
func ParseJobs(s string) (jobs, threadsPerFile int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, fmt.Errorf("empty jobs value")
	}

	parts := strings.SplitN(s, ":", 2)
	jobs, err = strconv.Atoi(parts[0])
	if err != nil || jobs <= 0 {
		return 0, 0, fmt.Errorf("invalid jobs value %q", s)
	}
	if len(parts) == 1 {
		return jobs, 0, nil
	}
	threadsPerFile, err = strconv.Atoi(parts[1])
	if err != nil || threadsPerFile <= 0 {
		return 0, 0, fmt.Errorf("invalid per-file thread count in %q", s)
	}
	return jobs, threadsPerFile, nil
}
