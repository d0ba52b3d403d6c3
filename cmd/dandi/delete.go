package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dandi/dandi-cli-sub000/internal/dandiapi"
	"github.com/dandi/dandi-cli-sub000/internal/locator"
)

var (
	deleteForce       bool
	deleteSkipMissing bool
)

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <url|identifier>...",
		Short: "Delete dandisets, folders or assets from the archive",
		Long: `Delete archive content addressed by DANDI URLs or identifiers. A dandiset
reference deletes the whole dandiset; an asset or folder reference deletes
the matching assets from the addressed version.

Deletion asks for confirmation unless --force is given.`,
		Example: `  dandi delete dandi://dandi/000123@draft/sub-01/scan.nwb
  dandi delete --force dandi://dandi/000123@draft/sub-01/
  dandi delete DANDI:000123`,
		Args: cobra.MinimumNArgs(1),
		RunE: deleteRun,
	}

	cmd.Flags().BoolVar(&deleteForce, "force", false, "delete without asking for confirmation")
	cmd.Flags().BoolVar(&deleteSkipMissing, "skip-missing", false, "ignore references that do not exist on the archive")

	return cmd
}

func deleteRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	refs := make([]locator.Ref, 0, len(args))
	for _, arg := range args {
		ref, err := globalResolver.Resolve(ctx, arg)
		if err != nil {
			return err
		}
		if ref.Kind == locator.KindLocalPath {
			return fmt.Errorf("%s is a local path; delete local files with your shell", arg)
		}
		refs = append(refs, ref)
	}

	if !deleteForce {
		fmt.Printf("About to delete %d target(s) from the archive:\n", len(refs))
		for _, ref := range refs {
			fmt.Printf("  %s\n", ref.String())
		}
		if !confirm("Proceed?") {
			fmt.Println("aborted")
			return nil
		}
	}

	failures := 0
	for _, ref := range refs {
		if err := deleteRef(ctx, ref); err != nil {
			if deleteSkipMissing && isNotFound(err) {
				logger.Info("target not found, skipping", "target", ref.String())
				continue
			}
			logger.Error("delete failed", "target", ref.String(), "error", err)
			failures++
			continue
		}
		logger.Info("deleted", "target", ref.String())
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d deletions failed", failures, len(refs))
	}
	return nil
}

// deleteRef removes whatever one reference addresses.
func deleteRef(ctx context.Context, ref locator.Ref) error {
	version := ref.VersionOrDraft()

	switch ref.Kind {
	case locator.KindDandiset:
		return globalClient.DeleteDandiset(ctx, ref.DandisetID)

	case locator.KindVersion:
		// Dandiset deletion takes every version with it, including
		// published ones the reference never named.
		return fmt.Errorf("refusing to delete dandiset %s through version reference %s; use the bare dandiset identifier, or delete individual assets", ref.DandisetID, ref.String())

	case locator.KindAssetID:
		return globalClient.DeleteAsset(ctx, ref.DandisetID, version, ref.AssetID)

	case locator.KindAssetItem:
		asset, err := globalClient.GetAssetByPath(ctx, ref.DandisetID, version, ref.Path)
		if err != nil {
			return err
		}
		if asset == nil {
			return &dandiapi.HTTPError{StatusCode: 404, Status: fmt.Sprintf("no asset at %s", ref.Path)}
		}
		return globalClient.DeleteAsset(ctx, ref.DandisetID, version, asset.AssetID)

	case locator.KindAssetFolder, locator.KindPathPrefix, locator.KindMultiAsset:
		opts := dandiapi.ListOptions{PathPrefix: ref.Path, Glob: ref.Glob}
		if ref.Kind == locator.KindAssetFolder {
			opts.PathPrefix = strings.TrimSuffix(ref.Path, "/") + "/"
		}
		assets, err := globalClient.ListAssets(ctx, ref.DandisetID, version, opts)
		if err != nil {
			return err
		}
		if len(assets) == 0 {
			return &dandiapi.HTTPError{StatusCode: 404, Status: "no assets match"}
		}
		for _, a := range assets {
			if err := globalClient.DeleteAsset(ctx, ref.DandisetID, version, a.AssetID); err != nil {
				return fmt.Errorf("deleting %s: %w", a.Path, err)
			}
		}
		return nil

	default:
		return fmt.Errorf("cannot delete %s", ref.String())
	}
}

func isNotFound(err error) bool {
	var httpErr *dandiapi.HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == 404
}

// confirm reads a yes/no answer from stdin.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
