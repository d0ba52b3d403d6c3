package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// Algorithm names a supported checksum algorithm.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// preference orders algorithms fastest-first for quick equality checks.
var preference = []Algorithm{SHA1, MD5, SHA256, SHA512}

func newHasher(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm: %s", algo)
	}
}

// Digest computes all requested digests of r in a single streaming pass.
// The stream is read exactly once regardless of how many algorithms are
// requested, so large files are never re-read per algorithm.
func Digest(r io.Reader, algos []Algorithm) (map[Algorithm]string, error) {
	if len(algos) == 0 {
		return nil, fmt.Errorf("no digest algorithms requested")
	}

	hashers := make(map[Algorithm]hash.Hash, len(algos))
	writers := make([]io.Writer, 0, len(algos))
	for _, algo := range algos {
		if _, ok := hashers[algo]; ok {
			continue
		}
		h, err := newHasher(algo)
		if err != nil {
			return nil, err
		}
		hashers[algo] = h
		writers = append(writers, h)
	}

	if _, err := io.Copy(io.MultiWriter(writers...), r); err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	out := make(map[Algorithm]string, len(hashers))
	for algo, h := range hashers {
		out[algo] = hex.EncodeToString(h.Sum(nil))
	}
	return out, nil
}

// File computes the requested digests of a file on disk.
func File(path string, algos []Algorithm) (map[Algorithm]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Digest(f, algos)
}

// Preferred picks the fastest algorithm present in both digest maps for a
// quick local/remote equality check. Returns false when the maps share no
// algorithm.
func Preferred(local, remote map[Algorithm]string) (Algorithm, bool) {
	for _, algo := range preference {
		if _, lok := local[algo]; !lok {
			continue
		}
		if _, rok := remote[algo]; rok {
			return algo, true
		}
	}
	return "", false
}
