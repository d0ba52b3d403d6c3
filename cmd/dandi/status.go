package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	statusLimit    int
	statusDandiset string
	statusFailed   bool
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show transfer run history",
		Long: `Show the history of upload and download runs recorded on this machine,
including per-run unit counts and bytes moved. With --failed, list the
individual units that failed in past runs and have not succeeded since.`,
		Example: `  dandi status
  dandi status --dandiset 000123 --limit 5
  dandi status --failed`,
		RunE: statusRun,
	}

	cmd.Flags().IntVar(&statusLimit, "limit", 20, "maximum number of entries to show")
	cmd.Flags().StringVar(&statusDandiset, "dandiset", "", "only show runs for this dandiset")
	cmd.Flags().BoolVar(&statusFailed, "failed", false, "list unresolved failed units instead of runs")

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("run history store is unavailable")
	}

	if statusFailed {
		units, err := globalStore.ListFailedUnits(statusLimit)
		if err != nil {
			return err
		}
		if len(units) == 0 {
			fmt.Println("no unresolved failed units")
			return nil
		}
		fmt.Printf("%-40s %-8s %-20s %s\n", "PATH", "RETRIES", "LAST SEEN", "ERROR")
		for _, u := range units {
			fmt.Printf("%-40s %-8d %-20s %s\n",
				u.Path, u.RetryCount, u.LastSeen.Format(time.DateTime), u.Error)
		}
		return nil
	}

	runs, err := globalStore.ListRuns(statusDandiset, statusLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no transfer runs recorded")
		return nil
	}

	fmt.Printf("%-20s %-9s %-9s %-14s %5s %5s %5s %5s %10s %s\n",
		"START", "DIRECTION", "DANDISET", "VERSION", "OK", "SKIP", "FAIL", "DEL", "BYTES", "STATUS")
	for _, r := range runs {
		fmt.Printf("%-20s %-9s %-9s %-14s %5d %5d %5d %5d %10s %s\n",
			r.StartTime.Format(time.DateTime), r.Direction, r.DandisetID, r.Version,
			r.UnitsSucceeded, r.UnitsSkipped, r.UnitsFailed, r.UnitsDeleted,
			humanize.Bytes(uint64(r.BytesTransferred)), r.Status)
	}
	return nil
}
