package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dandi/dandi-cli-sub000/internal/dandiapi"
	"github.com/dandi/dandi-cli-sub000/internal/planner"
	"github.com/dandi/dandi-cli-sub000/internal/policy"
	"github.com/dandi/dandi-cli-sub000/internal/transfer"
)

var (
	uploadDandiset   string
	uploadExisting   string
	uploadValidation string
	uploadJobs       string
	uploadSync       bool
	uploadDryRun     bool
	uploadFilters    []string
)

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload [paths...]",
		Short: "Upload files to a dandiset's draft version",
		Long: `Upload files from a local directory tree to a dandiset. Hidden files and
directories are skipped. Files that already exist on the archive are handled
according to --existing; by default only files newer than their remote
counterpart are re-uploaded.

Each file is checksummed before transfer and verified against the digest the
archive computed after transfer. Large files are split into chunks uploaded
concurrently; a failed chunk is retried on its own without restarting the
file.`,
		Example: `  dandi upload --dandiset 000123 ./rawdata
  dandi upload --dandiset 000123 sub-01 sub-02
  dandi upload --dandiset 000123 --existing skip .
  dandi upload --dandiset 000123 --jobs 8:4 --sync ./rawdata`,
		Args: cobra.ArbitraryArgs,
		RunE: uploadRun,
	}

	cmd.Flags().StringVar(&uploadDandiset, "dandiset", "", "dandiset identifier to upload into (required)")
	cmd.Flags().StringVar(&uploadExisting, "existing", "refresh", "what to do when the asset already exists (error, skip, force, overwrite, refresh)")
	cmd.Flags().StringVar(&uploadValidation, "validation", "require", "pre-upload validation mode (require, skip, ignore)")
	cmd.Flags().StringVar(&uploadJobs, "jobs", "", "files[:chunks] transferred concurrently (default from config)")
	cmd.Flags().BoolVar(&uploadSync, "sync", false, "delete remote assets that have no local counterpart")
	cmd.Flags().BoolVar(&uploadDryRun, "dry-run", false, "show the transfer plan without moving data")
	cmd.Flags().StringSliceVar(&uploadFilters, "path", nil, "restrict the upload to matching relative paths")
	cmd.MarkFlagRequired("dandiset")

	return cmd
}

func uploadRun(cmd *cobra.Command, args []string) error {
	roots := args
	if len(roots) == 0 {
		roots = []string{"."}
	}

	existing, err := policy.Parse(uploadExisting)
	if err != nil {
		return err
	}
	validation, err := planner.ParseValidationMode(uploadValidation)
	if err != nil {
		return err
	}
	if msg := validationGap(validation); msg != "" {
		logger.Warn(msg)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	const version = "draft"
	var units []planner.Unit
	for _, root := range roots {
		rootUnits, err := globalPlanner.PlanUpload(ctx, root, planner.UploadOptions{
			DandisetID:  uploadDandiset,
			Version:     version,
			Policy:      existing,
			Validation:  validation,
			PathFilters: uploadFilters,
		})
		if err != nil {
			return err
		}
		units = append(units, rootUnits...)
	}
	if len(units) == 0 {
		logger.Info("nothing to upload", "paths", strings.Join(roots, ", "))
		return nil
	}

	if uploadDryRun {
		printPlan(units)
		return nil
	}

	coordinator, err := newCoordinator(uploadJobs)
	if err != nil {
		return err
	}

	tracker := newRunTracker(units)
	start := time.Now()
	result, err := coordinator.Upload(ctx, uploadDandiset, version, units, tracker.Handle)
	if err != nil {
		return err
	}

	deleted := 0
	if uploadSync {
		deleted, err = syncRemote(ctx, uploadDandiset, version, units)
		if err != nil {
			logger.Error("remote cleanup failed", "error", err)
		}
	}

	recordRun("upload", uploadDandiset, version, start, result, deleted)
	resolveHistory(succeededPaths(units, result))
	fmt.Println(tracker.Snapshot().Summary())
	return result.Err()
}

// syncRemote deletes archive assets that have no local counterpart. The
// listing is taken after the transfer so freshly uploaded assets survive.
func syncRemote(ctx context.Context, dandisetID, version string, units []planner.Unit) (int, error) {
	assets, err := globalClient.ListAssets(ctx, dandisetID, version, dandiapi.ListOptions{})
	if err != nil {
		return 0, err
	}

	source := make(map[string]bool, len(units))
	for i := range units {
		source[units[i].RemotePath] = true
	}
	idByPath := make(map[string]string, len(assets))
	destPaths := make([]string, 0, len(assets))
	for _, a := range assets {
		idByPath[a.Path] = a.AssetID
		destPaths = append(destPaths, a.Path)
	}

	deleted, failed := transfer.Cleanup(ctx, source, destPaths, func(ctx context.Context, path string) error {
		return globalClient.DeleteAsset(ctx, dandisetID, version, idByPath[path])
	}, logger)

	if len(failed) > 0 {
		return len(deleted), fmt.Errorf("%d cleanup deletions failed", len(failed))
	}
	return len(deleted), nil
}

// validationGap returns a warning when the requested validation mode needs
// a metadata extractor and none is wired, or "" when the mode needs nothing.
func validationGap(mode planner.ValidationMode) string {
	if mode == planner.ValidationSkip {
		return ""
	}
	return fmt.Sprintf("validation %q requested but no metadata extractor is configured; files upload unvalidated", mode)
}

// printPlan renders a dry-run plan, one unit per line.
func printPlan(units []planner.Unit) {
	for i := range units {
		u := &units[i]
		switch u.Decision {
		case policy.SkipUnit:
			fmt.Printf("  skip     %s\n", u.RemotePath)
		case policy.Fail:
			fmt.Printf("  ERROR    %s: %v\n", u.RemotePath, u.Err)
		default:
			fmt.Printf("  transfer %s (%d bytes)\n", u.RemotePath, u.Size)
		}
	}
}

// newRunTracker sizes a progress tracker from the planned units.
func newRunTracker(units []planner.Unit) *transfer.Tracker {
	var totalBytes int64
	for i := range units {
		if units[i].Decision == policy.Proceed {
			totalBytes += units[i].Size
		}
	}
	return transfer.NewTracker(len(units), totalBytes)
}

// succeededPaths lists units that went through without an error.
func succeededPaths(units []planner.Unit, result *transfer.Result) []string {
	failed := make(map[string]bool, len(result.Failed))
	for _, f := range result.Failed {
		failed[f.Path] = true
	}
	var paths []string
	for i := range units {
		if units[i].Decision == policy.Proceed && !failed[units[i].RemotePath] {
			paths = append(paths, units[i].RemotePath)
		}
	}
	return paths
}
