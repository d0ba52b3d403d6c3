package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dandi/dandi-cli-sub000/internal/dandiapi"
	"github.com/dandi/dandi-cli-sub000/internal/digest"
	"github.com/dandi/dandi-cli-sub000/internal/planner"
)

// uploadAlgorithms are computed for every uploaded file; sha256 drives
// post-transfer verification, md5 is kept for archive-side dedup checks.
var uploadAlgorithms = []digest.Algorithm{digest.SHA256, digest.MD5}

// uploadOne moves one local file into the archive: digest, initiate a
// session, push chunks through the inner pool, complete, verify, register.
func (c *Coordinator) uploadOne(ctx context.Context, dandisetID, version string, unit *planner.Unit, sink Sink) (int64, error) {
	localDigests, err := c.digests.DigestFile(unit.LocalPath, uploadAlgorithms)
	if err != nil {
		return 0, fmt.Errorf("digesting %s: %w", unit.LocalPath, err)
	}
	unit.LocalDigests = localDigests

	wire := make(map[string]string, len(localDigests))
	for algo, value := range localDigests {
		wire[string(algo)] = value
	}

	chunks := c.opts.Chunker.Split(unit.Size)
	session, err := c.archive.InitiateUpload(ctx, dandisetID, unit.Size, wire, c.opts.Chunker.PartSizes(unit.Size))
	if err != nil {
		return 0, fmt.Errorf("initiating upload for %s: %w", unit.RemotePath, err)
	}

	f, err := os.Open(unit.LocalPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	completed := make([]dandiapi.CompletedPart, len(chunks))
	var sent int64
	sem := semaphore.NewWeighted(int64(c.opts.ThreadsPerFile))
	g, gctx := errgroup.WithContext(ctx)
	for i := range chunks {
		i := i
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			etag, err := c.uploadChunk(gctx, f, session.Parts[i], chunks[i], unit.RemotePath, sink)
			if err != nil {
				return err
			}
			completed[i] = dandiapi.CompletedPart{PartNumber: session.Parts[i].PartNumber, ETag: etag}
			done := atomic.AddInt64(&sent, chunks[i].Length)
			sink(Event{Path: unit.RemotePath, Status: StatusChunkDone, BytesDone: done, BytesTotal: unit.Size})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	result, err := c.archive.CompleteUpload(ctx, session.UploadID, completed)
	if err != nil {
		return 0, fmt.Errorf("completing upload for %s: %w", unit.RemotePath, err)
	}

	if algo, ok := digest.Preferred(localDigests, result.DigestMap()); ok {
		local, remote := localDigests[algo], result.DigestMap()[algo]
		if local != remote {
			return 0, &IntegrityError{Path: unit.RemotePath, Algorithm: algo, Local: local, Remote: remote}
		}
		sink(Event{Path: unit.RemotePath, Status: StatusVerified, BytesTotal: unit.Size})
	} else {
		c.logger.Warn("no shared digest algorithm, skipping verification", "path", unit.RemotePath)
	}

	if _, err := c.archive.RegisterAsset(ctx, dandisetID, version, unit.RemotePath, result.BlobID, unit.Metadata); err != nil {
		return 0, fmt.Errorf("registering asset %s: %w", unit.RemotePath, err)
	}
	return unit.Size, nil
}

// uploadChunk sends one chunk, retrying transient failures up to the retry
// limit. Each attempt re-reads the byte range from the start; a chunk
// failure never restarts sibling chunks.
func (c *Coordinator) uploadChunk(ctx context.Context, f *os.File, slot dandiapi.PartSlot, chunk Chunk, path string, sink Sink) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.Retries; attempt++ {
		etag, err := c.archive.UploadPart(ctx, slot, io.NewSectionReader(f, chunk.Offset, chunk.Length))
		if err == nil {
			return etag, nil
		}
		lastErr = err
		if isLocalError(err) || !dandiapi.IsTransient(err) {
			return "", err
		}
		sink(Event{Path: path, Status: StatusRetrying, Message: err.Error()})
		c.logger.Warn("chunk upload failed, retrying", "path", path, "chunk", chunk.Index,
			"attempt", attempt, "error", err)
		if attempt < c.opts.Retries {
			select {
			case <-time.After(c.backoffFunc(attempt)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("chunk %d of %s failed after %d attempts: %w", chunk.Index, path, c.opts.Retries, lastErr)
}
