package digest

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheMode controls cache behavior, set from the DANDI_CACHE env variable.
type CacheMode string

const (
	// CacheNormal looks entries up and stores results.
	CacheNormal CacheMode = ""
	// CacheIgnore skips lookups but still stores fresh results.
	CacheIgnore CacheMode = "ignore"
	// CacheClear purges all entries at construction, then behaves normally.
	CacheClear CacheMode = "clear"
)

// CacheModeFromEnv reads the cache-control mode from DANDI_CACHE.
func CacheModeFromEnv() (CacheMode, error) {
	switch v := strings.ToLower(os.Getenv("DANDI_CACHE")); v {
	case "", "normal":
		return CacheNormal, nil
	case "ignore":
		return CacheIgnore, nil
	case "clear":
		return CacheClear, nil
	default:
		return CacheNormal, fmt.Errorf("invalid DANDI_CACHE value %q (want ignore or clear)", v)
	}
}

type cacheKey struct {
	path      string
	size      int64
	mtimeNano int64
}

// Cache memoizes file digests for the lifetime of one process invocation.
// Entries are keyed by (path, size, mtime) so a file modified between policy
// check and upload is re-hashed rather than served stale.
type Cache struct {
	entries *lru.Cache[cacheKey, map[Algorithm]string]
	mode    CacheMode
	logger  *slog.Logger
}

// NewCache creates a digest cache holding at most size entries.
func NewCache(size int, mode CacheMode, logger *slog.Logger) (*Cache, error) {
	if size <= 0 {
		size = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := lru.New[cacheKey, map[Algorithm]string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create digest cache: %w", err)
	}
	c := &Cache{entries: entries, mode: mode, logger: logger}
	if mode == CacheClear {
		// Purge is a no-op on a fresh cache but keeps the contract explicit
		// for caches handed in by tests.
		c.entries.Purge()
		c.mode = CacheNormal
	}
	return c, nil
}

// DigestFile returns the digests of path, serving from the cache when the
// file's (size, mtime) identity is unchanged. A cache hit must cover every
// requested algorithm or it is treated as a miss.
func (c *Cache) DigestFile(path string, algos []Algorithm) (map[Algorithm]string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	key := cacheKey{path: path, size: fi.Size(), mtimeNano: fi.ModTime().UnixNano()}

	if c.mode != CacheIgnore {
		if cached, ok := c.entries.Get(key); ok {
			if coversAll(cached, algos) {
				c.logger.Debug("digest cache hit", "path", path)
				return cached, nil
			}
		}
	}

	digests, err := File(path, algos)
	if err != nil {
		return nil, err
	}

	// Merge with any prior entry so repeated calls with different algorithm
	// sets accumulate instead of evicting each other.
	if prior, ok := c.entries.Get(key); ok {
		for algo, hexval := range prior {
			if _, exists := digests[algo]; !exists {
				digests[algo] = hexval
			}
		}
	}
	c.entries.Add(key, digests)
	return digests, nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

func coversAll(have map[Algorithm]string, want []Algorithm) bool {
	for _, algo := range want {
		if _, ok := have[algo]; !ok {
			return false
		}
	}
	return true
}
