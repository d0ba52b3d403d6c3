// Package transfer executes planned units against the archive: a bounded
// outer pool moves whole files while a bounded inner pool moves each file's
// chunks, with per-chunk retries, digest verification and cooperative
// cancellation.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dandi/dandi-cli-sub000/internal/dandiapi"
	"github.com/dandi/dandi-cli-sub000/internal/digest"
	"github.com/dandi/dandi-cli-sub000/internal/planner"
	"github.com/dandi/dandi-cli-sub000/internal/policy"
)

// Archive is the slice of the archive API the coordinator needs.
// *dandiapi.Client satisfies it.
type Archive interface {
	InitiateUpload(ctx context.Context, dandisetID string, size int64, digests map[string]string, partSizes []int64) (*dandiapi.UploadSession, error)
	UploadPart(ctx context.Context, slot dandiapi.PartSlot, body io.Reader) (string, error)
	CompleteUpload(ctx context.Context, uploadID string, parts []dandiapi.CompletedPart) (*dandiapi.UploadResult, error)
	RegisterAsset(ctx context.Context, dandisetID, version, assetPath, blobID string, metadata map[string]any) (*dandiapi.Asset, error)
	DownloadAsset(ctx context.Context, assetID string, offset, length int64) (io.ReadCloser, int64, error)
	AcquireLock(ctx context.Context, dandisetID, version, owner string) error
	ReleaseLock(ctx context.Context, dandisetID, version string) error
}

// Options configure a coordinator.
type Options struct {
	// Jobs bounds whole files in flight.
	Jobs int
	// ThreadsPerFile bounds chunks in flight per file.
	ThreadsPerFile int
	// Chunker computes per-file chunk layouts.
	Chunker Chunker
	// Retries bounds attempts per chunk; transient errors only.
	Retries int
	// FailFast aborts the whole run on the first error-decision unit
	// instead of recording it and continuing.
	FailFast bool
}

// Coordinator schedules transfer units across the worker pools.
type Coordinator struct {
	archive Archive
	digests *digest.Cache
	logger  *slog.Logger
	opts    Options

	// backoffFunc is swapped out in tests for zero-delay retries.
	backoffFunc func(attempt int) time.Duration
}

// NewCoordinator creates a coordinator. Zero option fields get defaults.
func NewCoordinator(archive Archive, digests *digest.Cache, opts Options, logger *slog.Logger) *Coordinator {
	if opts.Jobs <= 0 {
		opts.Jobs = 5
	}
	if opts.ThreadsPerFile <= 0 {
		opts.ThreadsPerFile = 5
	}
	if opts.Retries <= 0 {
		opts.Retries = 4
	}
	if opts.Chunker.SingleRequestThreshold <= 0 {
		opts.Chunker.SingleRequestThreshold = 16 * 1024 * 1024
	}
	if opts.Chunker.MinChunkSize <= 0 {
		opts.Chunker.MinChunkSize = 16 * 1024 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		archive:     archive,
		digests:     digests,
		logger:      logger,
		opts:        opts,
		backoffFunc: backoffDelay,
	}
}

// backoffDelay: 1s base, doubling per attempt.
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<(attempt-1)) * time.Second
}

// isLocalError reports whether an error came from the local filesystem
// rather than the transport. Local I/O failures are never retried.
func isLocalError(err error) bool {
	var pathErr *fs.PathError
	return errors.As(err, &pathErr)
}

// Upload transfers units into a dandiset version. The advisory lock for the
// version is acquired before any transfer starts; a LockedError aborts the
// run with zero units processed.
func (c *Coordinator) Upload(ctx context.Context, dandisetID, version string, units []planner.Unit, sink Sink) (*Result, error) {
	if sink == nil {
		sink = func(Event) {}
	}

	owner := uuid.NewString()
	if err := c.archive.AcquireLock(ctx, dandisetID, version, owner); err != nil {
		return nil, err
	}
	defer func() {
		// Release even when the run context was cancelled.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := c.archive.ReleaseLock(releaseCtx, dandisetID, version); err != nil {
			c.logger.Warn("failed to release lock", "dandiset", dandisetID, "version", version, "error", err)
		}
	}()
	c.logger.Info("acquired upload lock", "dandiset", dandisetID, "version", version, "session", owner)

	return c.run(ctx, units, sink, func(ctx context.Context, unit *planner.Unit) (int64, error) {
		return c.uploadOne(ctx, dandisetID, version, unit, sink)
	})
}

// Download transfers units to the local filesystem. No lock is involved;
// downloads never mutate the archive.
func (c *Coordinator) Download(ctx context.Context, units []planner.Unit, sink Sink) (*Result, error) {
	if sink == nil {
		sink = func(Event) {}
	}
	return c.run(ctx, units, sink, func(ctx context.Context, unit *planner.Unit) (int64, error) {
		return c.downloadOne(ctx, unit, sink)
	})
}

// outcome travels from a worker back to the collector.
type outcome struct {
	idx     int
	bytes   int64
	skipped bool
	notRun  bool
	err     error
}

// run is the shared pool machinery: an outer pool of Jobs workers pulls
// whole units from a channel, transferOne moves the bytes. Skip units are
// recorded without I/O; error units fail (or abort the run under FailFast).
func (c *Coordinator) run(ctx context.Context, units []planner.Unit, sink Sink, transferOne func(context.Context, *planner.Unit) (int64, error)) (*Result, error) {
	if c.opts.FailFast {
		for i := range units {
			if units[i].Decision == policy.Fail {
				return nil, fmt.Errorf("unit %s cannot proceed: %w", units[i].RemotePath, units[i].Err)
			}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	unitCh := make(chan int)
	outCh := make(chan outcome, len(units))

	var wg sync.WaitGroup
	for w := 0; w < c.opts.Jobs; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range unitCh {
				outCh <- c.processUnit(runCtx, &units[idx], idx, sink, transferOne)
			}
		}()
	}

	// Feed units; stop dequeuing on cancellation, letting in-flight units
	// finish naturally.
	go func() {
		defer close(unitCh)
		for i := range units {
			select {
			case unitCh <- i:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outCh)
	}()

	result := &Result{}
	for out := range outCh {
		switch {
		case out.notRun:
			// Cancelled before starting; not counted.
		case out.err != nil:
			result.Failed = append(result.Failed, UnitError{Path: units[out.idx].RemotePath, Err: out.err})
			if c.opts.FailFast {
				cancel()
			}
		case out.skipped:
			result.Skipped++
		default:
			result.Succeeded++
			result.BytesTransferred += out.bytes
		}
	}

	if err := ctx.Err(); err != nil {
		c.logger.Info("run cancelled", "succeeded", result.Succeeded, "skipped", result.Skipped, "failed", len(result.Failed))
		return result, err
	}
	c.logger.Info("run complete", "succeeded", result.Succeeded, "skipped", result.Skipped,
		"failed", len(result.Failed), "bytes", result.BytesTransferred)
	return result, nil
}

func (c *Coordinator) processUnit(ctx context.Context, unit *planner.Unit, idx int, sink Sink, transferOne func(context.Context, *planner.Unit) (int64, error)) outcome {
	select {
	case <-ctx.Done():
		return outcome{idx: idx, notRun: true}
	default:
	}

	switch unit.Decision {
	case policy.SkipUnit:
		sink(Event{Path: unit.RemotePath, Status: StatusSkipped})
		return outcome{idx: idx, skipped: true}
	case policy.Fail:
		err := unit.Err
		if err == nil {
			err = fmt.Errorf("unit cannot proceed")
		}
		sink(Event{Path: unit.RemotePath, Status: StatusFailed, Message: err.Error()})
		return outcome{idx: idx, err: err}
	}

	sink(Event{Path: unit.RemotePath, Status: StatusStarted, BytesTotal: unit.Size})
	bytes, err := transferOne(ctx, unit)
	if err != nil {
		c.logger.Error("unit failed", "path", unit.RemotePath, "error", err)
		sink(Event{Path: unit.RemotePath, Status: StatusFailed, Message: err.Error()})
		return outcome{idx: idx, err: err}
	}
	c.logger.Info("unit complete", "path", unit.RemotePath, "bytes", bytes)
	sink(Event{Path: unit.RemotePath, Status: StatusDone, BytesDone: bytes, BytesTotal: unit.Size})
	return outcome{idx: idx, bytes: bytes}
}
