package main

import (
	"time"

	"github.com/dandi/dandi-cli-sub000/internal/store"
	"github.com/dandi/dandi-cli-sub000/internal/transfer"
)

// recordRun writes one run to the history store. Best-effort: failures are
// logged and never propagate to the command's exit status.
func recordRun(direction, dandisetID, version string, start time.Time, result *transfer.Result, deleted int) {
	if globalStore == nil || result == nil {
		return
	}

	status := "success"
	errMsg := ""
	if err := result.Err(); err != nil {
		status = "partial"
		errMsg = err.Error()
		if result.Succeeded == 0 && result.Skipped == 0 {
			status = "failed"
		}
	}

	run := &store.TransferRun{
		Direction:        direction,
		DandisetID:       dandisetID,
		Version:          version,
		StartTime:        start,
		EndTime:          time.Now(),
		UnitsSucceeded:   result.Succeeded,
		UnitsSkipped:     result.Skipped,
		UnitsFailed:      len(result.Failed),
		UnitsDeleted:     deleted,
		BytesTransferred: result.BytesTransferred,
		Status:           status,
		ErrorMessage:     errMsg,
	}
	if err := globalStore.CreateRun(run); err != nil {
		logger.Warn("failed to record run history", "error", err)
		return
	}

	now := time.Now()
	for _, fu := range result.Failed {
		rec := &store.FailedUnit{
			RunID:     run.ID,
			Path:      fu.Path,
			Error:     fu.Err.Error(),
			FirstSeen: now,
			LastSeen:  now,
		}
		if err := globalStore.AddFailedUnit(rec); err != nil {
			logger.Warn("failed to record failed unit", "path", fu.Path, "error", err)
		}
	}
}

// resolveHistory marks previously failed paths as resolved once a later run
// moves them successfully.
func resolveHistory(paths []string) {
	if globalStore == nil {
		return
	}
	for _, p := range paths {
		if err := globalStore.ResolveFailedUnits(p); err != nil {
			logger.Warn("failed to resolve history entry", "path", p, "error", err)
		}
	}
}
