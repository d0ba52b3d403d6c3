package safety

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CleanAssetPath validates and normalizes a remote asset path before it is
// used to build a local filesystem path. Asset paths are always slash
// separated on the wire; the result uses the local separator.
// Absolute paths and parent traversal segments are rejected.
func CleanAssetPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("asset path is empty")
	}

	clean := filepath.Clean(filepath.FromSlash(p))
	if clean == "." {
		return "", fmt.Errorf("asset path resolves to current directory")
	}
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("absolute asset paths are not allowed: %q", p)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("parent traversal is not allowed: %q", p)
	}
	return clean, nil
}

// JoinUnderRoot joins a remote asset path under the download root and
// verifies the final path cannot escape it.
func JoinUnderRoot(root, assetPath string) (string, error) {
	rel, err := CleanAssetPath(assetPath)
	if err != nil {
		return "", err
	}
	return EnsureUnderRoot(root, filepath.Join(root, rel))
}

// EnsureUnderRoot verifies candidate resolves under root and returns
// an absolute normalized path.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes download root: %q", candidate)
	}
	return candAbs, nil
}
