package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cancelZarrDandiset string

func newServiceScriptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service-scripts",
		Short: "Maintenance commands for archive operators",
	}

	cancel := &cobra.Command{
		Use:   "cancel-zarr-upload <path>",
		Short: "Cancel an in-progress Zarr upload, discarding partial data",
		Long: `Cancel a Zarr upload that was interrupted before completion. The archive
discards any partially uploaded chunks for the Zarr at the given path so a
fresh upload can start cleanly.`,
		Example: `  dandi service-scripts cancel-zarr-upload --dandiset 000123 sub-01/image.zarr`,
		Args:    cobra.ExactArgs(1),
		RunE:    cancelZarrRun,
	}
	cancel.Flags().StringVar(&cancelZarrDandiset, "dandiset", "", "dandiset identifier (required)")
	cancel.MarkFlagRequired("dandiset")

	cmd.AddCommand(cancel)
	return cmd
}

func cancelZarrRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := globalClient.CancelZarrUpload(ctx, cancelZarrDandiset, args[0]); err != nil {
		return fmt.Errorf("failed to cancel zarr upload: %w", err)
	}
	logger.Info("zarr upload cancelled", "dandiset", cancelZarrDandiset, "path", args[0])
	return nil
}
