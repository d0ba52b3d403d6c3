package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dandi/dandi-cli-sub000/internal/dandiapi"
	"github.com/dandi/dandi-cli-sub000/internal/digest"
	"github.com/dandi/dandi-cli-sub000/internal/planner"
)

// downloadOne moves one asset to the local filesystem. Bytes land in a
// temp file next to the target so the final rename is atomic; the target
// path never holds partial content.
func (c *Coordinator) downloadOne(ctx context.Context, unit *planner.Unit, sink Sink) (int64, error) {
	if unit.RemoteAsset == nil {
		return 0, fmt.Errorf("no remote asset for %s", unit.RemotePath)
	}

	dir := filepath.Dir(unit.LocalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(dir, ".dandi-download-*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		// No-op after a successful rename.
		os.Remove(tmpPath)
	}()

	if err := tmp.Truncate(unit.Size); err != nil {
		return 0, err
	}

	chunks := c.opts.Chunker.Split(unit.Size)
	var received int64
	sem := semaphore.NewWeighted(int64(c.opts.ThreadsPerFile))
	g, gctx := errgroup.WithContext(ctx)
	for i := range chunks {
		i := i
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			if err := c.downloadChunk(gctx, unit.RemoteAsset.AssetID, tmp, chunks[i], unit.Size, unit.RemotePath, sink); err != nil {
				return err
			}
			done := atomic.AddInt64(&received, chunks[i].Length)
			sink(Event{Path: unit.RemotePath, Status: StatusChunkDone, BytesDone: done, BytesTotal: unit.Size})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := c.verifyDownload(tmpPath, unit, sink); err != nil {
		return 0, err
	}

	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if !unit.RemoteMtime.IsZero() {
		if err := os.Chtimes(tmpPath, unit.RemoteMtime, unit.RemoteMtime); err != nil {
			c.logger.Warn("failed to set mtime", "path", unit.LocalPath, "error", err)
		}
	}
	if err := os.Rename(tmpPath, unit.LocalPath); err != nil {
		return 0, err
	}
	return unit.Size, nil
}

// downloadChunk fetches one byte range into the temp file, retrying
// transient failures. Each retry re-requests only this chunk's range;
// local write errors fail the chunk immediately.
func (c *Coordinator) downloadChunk(ctx context.Context, assetID string, f *os.File, chunk Chunk, fileSize int64, path string, sink Sink) error {
	// A chunk spanning the whole file is requested without a Range header.
	offset, length := chunk.Offset, chunk.Length
	if offset == 0 && length == fileSize {
		length = -1
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.Retries; attempt++ {
		err := func() error {
			body, _, err := c.archive.DownloadAsset(ctx, assetID, offset, length)
			if err != nil {
				return err
			}
			defer body.Close()

			n, err := io.Copy(io.NewOffsetWriter(f, chunk.Offset), body)
			if err != nil {
				return fmt.Errorf("reading chunk %d: %w", chunk.Index, err)
			}
			if n != chunk.Length {
				return fmt.Errorf("chunk %d truncated: got %d of %d bytes", chunk.Index, n, chunk.Length)
			}
			return nil
		}()
		if err == nil {
			return nil
		}
		lastErr = err
		if isLocalError(err) || !dandiapi.IsTransient(err) {
			return err
		}
		sink(Event{Path: path, Status: StatusRetrying, Message: err.Error()})
		c.logger.Warn("chunk download failed, retrying", "path", path, "chunk", chunk.Index,
			"attempt", attempt, "error", err)
		if attempt < c.opts.Retries {
			select {
			case <-time.After(c.backoffFunc(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("chunk %d of %s failed after %d attempts: %w", chunk.Index, path, c.opts.Retries, lastErr)
}

// verifyDownload checks the temp file against the asset's advertised
// digests before the rename. No shared algorithm means no verification.
func (c *Coordinator) verifyDownload(tmpPath string, unit *planner.Unit, sink Sink) error {
	algo, ok := digest.Preferred(unit.RemoteDigests, unit.RemoteDigests)
	if !ok {
		c.logger.Debug("asset has no verifiable digest", "path", unit.RemotePath)
		return nil
	}

	local, err := c.digests.DigestFile(tmpPath, []digest.Algorithm{algo})
	if err != nil {
		return fmt.Errorf("digesting download of %s: %w", unit.RemotePath, err)
	}
	if local[algo] != unit.RemoteDigests[algo] {
		return &IntegrityError{Path: unit.RemotePath, Algorithm: algo,
			Local: local[algo], Remote: unit.RemoteDigests[algo]}
	}
	sink(Event{Path: unit.RemotePath, Status: StatusVerified, BytesTotal: unit.Size})
	return nil
}
