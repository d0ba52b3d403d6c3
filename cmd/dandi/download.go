package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dandi/dandi-cli-sub000/internal/locator"
	"github.com/dandi/dandi-cli-sub000/internal/planner"
	"github.com/dandi/dandi-cli-sub000/internal/policy"
	"github.com/dandi/dandi-cli-sub000/internal/transfer"
)

var (
	downloadExisting  string
	downloadJobs      string
	downloadOutputDir string
	downloadSync      bool
	downloadDryRun    bool
	downloadFilters   []string
)

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <url|identifier>",
		Short: "Download a dandiset, folder or single asset",
		Long: `Download assets addressed by a DANDI URL or identifier. Accepted forms
include dandiset IDs (000123, DANDI:000123@0.240101.1234), dandi:// URIs,
archive web and API URLs, and redirector links.

Existing local files are handled according to --existing; the default
re-downloads only files whose remote copy is newer. Bytes are written to a
temporary file and renamed into place after checksum verification, so an
interrupted download never leaves a partial file at the target path.`,
		Example: `  dandi download DANDI:000123
  dandi download dandi://dandi/000123@draft/sub-01/
  dandi download --existing overwrite-different -o /data DANDI:000123`,
		Args: cobra.ExactArgs(1),
		RunE: downloadRun,
	}

	cmd.Flags().StringVar(&downloadExisting, "existing", "refresh", "what to do when the local file already exists (error, skip, overwrite, overwrite-different, refresh)")
	cmd.Flags().StringVar(&downloadJobs, "jobs", "", "files[:chunks] transferred concurrently (default from config)")
	cmd.Flags().StringVarP(&downloadOutputDir, "output-dir", "o", "", "directory to download into (default from config)")
	cmd.Flags().BoolVar(&downloadSync, "sync", false, "delete local files that have no remote counterpart")
	cmd.Flags().BoolVar(&downloadDryRun, "dry-run", false, "show the transfer plan without moving data")
	cmd.Flags().StringSliceVar(&downloadFilters, "path", nil, "restrict the download to matching asset paths")

	return cmd
}

func downloadRun(cmd *cobra.Command, args []string) error {
	existing, err := policy.Parse(downloadExisting)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ref, err := globalResolver.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	if ref.Kind == locator.KindLocalPath {
		return fmt.Errorf("%s is a local path, nothing to download", args[0])
	}

	outputDir := downloadOutputDir
	if outputDir == "" {
		outputDir = globalCfg.OutputDir
	}

	units, err := globalPlanner.PlanDownload(ctx, ref, planner.DownloadOptions{
		OutputDir:   outputDir,
		Policy:      existing,
		PathFilters: downloadFilters,
	})
	if err != nil {
		return err
	}
	if len(units) == 0 {
		logger.Info("nothing to download", "target", ref.String())
		return nil
	}

	if downloadDryRun {
		printPlan(units)
		return nil
	}

	coordinator, err := newCoordinator(downloadJobs)
	if err != nil {
		return err
	}

	tracker := newRunTracker(units)
	start := time.Now()
	result, err := coordinator.Download(ctx, units, tracker.Handle)
	if err != nil {
		return err
	}

	deleted := 0
	if downloadSync {
		// Cleanup only makes sense when the whole version was the scope;
		// a folder or single-asset download must not delete siblings.
		if ref.Kind == locator.KindDandiset || ref.Kind == locator.KindVersion {
			deleted, err = syncLocal(ctx, outputDir, units)
			if err != nil {
				logger.Error("local cleanup failed", "error", err)
			}
		} else {
			logger.Warn("--sync ignored for partial downloads")
		}
	}

	recordRun("download", ref.DandisetID, ref.VersionOrDraft(), start, result, deleted)
	resolveHistory(succeededPaths(units, result))
	fmt.Println(tracker.Snapshot().Summary())
	return result.Err()
}

// syncLocal deletes files under the output directory that no remote asset
// maps to. Only regular files are removed; hidden entries are left alone.
func syncLocal(ctx context.Context, outputDir string, units []planner.Unit) (int, error) {
	source := make(map[string]bool, len(units))
	for i := range units {
		source[units[i].LocalPath] = true
	}

	var destPaths []string
	err := filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		name := d.Name()
		if name != "." && name[0] == '.' {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			destPaths = append(destPaths, path)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	deleted, failed := transfer.Cleanup(ctx, source, destPaths, func(ctx context.Context, path string) error {
		return os.Remove(path)
	}, logger)

	if len(failed) > 0 {
		return len(deleted), fmt.Errorf("%d cleanup deletions failed", len(failed))
	}
	return len(deleted), nil
}
