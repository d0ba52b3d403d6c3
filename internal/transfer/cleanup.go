package transfer

import (
	"context"
	"log/slog"
	"sort"
)

// DeleteFunc removes one destination entry by path.
type DeleteFunc func(ctx context.Context, path string) error

// Cleanup deletes destination entries that are absent from the source set.
// The destination snapshot must be taken after the transfer completes so a
// freshly transferred entry is never deleted. Each deletion is independent:
// one failure is recorded and the rest proceed.
func Cleanup(ctx context.Context, sourcePaths map[string]bool, destPaths []string, del DeleteFunc, logger *slog.Logger) (deleted []string, failed []UnitError) {
	if logger == nil {
		logger = slog.Default()
	}

	var extra []string
	for _, path := range destPaths {
		if !sourcePaths[path] {
			extra = append(extra, path)
		}
	}
	sort.Strings(extra)

	for _, path := range extra {
		if ctx.Err() != nil {
			failed = append(failed, UnitError{Path: path, Err: ctx.Err()})
			continue
		}
		if err := del(ctx, path); err != nil {
			logger.Error("cleanup delete failed", "path", path, "error", err)
			failed = append(failed, UnitError{Path: path, Err: err})
			continue
		}
		logger.Info("deleted extraneous entry", "path", path)
		deleted = append(deleted, path)
	}
	return deleted, failed
}
