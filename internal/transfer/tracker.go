package transfer

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Status labels one progress event.
type Status string

const (
	StatusStarted   Status = "started"
	StatusChunkDone Status = "chunk-done"
	StatusRetrying  Status = "retrying"
	StatusVerified  Status = "verified"
	StatusDone      Status = "done"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Event is a fire-and-forget progress value streamed to the sink.
type Event struct {
	Path       string
	Status     Status
	BytesDone  int64
	BytesTotal int64
	Message    string
}

// Sink receives progress events. Implementations must be safe for
// concurrent use; events arrive from many worker goroutines.
type Sink func(Event)

// Snapshot is a point-in-time view of a run's progress.
type Snapshot struct {
	TotalUnits     int
	CompletedUnits int
	SkippedUnits   int
	FailedUnits    int
	TotalBytes     int64
	BytesDone      int64
	Retries        int
	BytesPerSecond int64
	Elapsed        time.Duration
}

// Tracker aggregates events from pool workers behind one mutex; it is the
// standard Sink for CLI runs. Per-path byte counts are kept so out-of-order
// chunk completions never double-count.
type Tracker struct {
	mu sync.Mutex

	totalUnits int
	totalBytes int64
	completed  int
	skipped    int
	failed     int
	retries    int
	startTime  time.Time

	bytesByPath map[string]int64
}

// NewTracker creates a tracker expecting the given totals.
func NewTracker(totalUnits int, totalBytes int64) *Tracker {
	return &Tracker{
		totalUnits:  totalUnits,
		totalBytes:  totalBytes,
		startTime:   time.Now(),
		bytesByPath: make(map[string]int64),
	}
}

// Handle is the Sink for this tracker.
func (t *Tracker) Handle(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Status {
	case StatusChunkDone:
		if ev.BytesDone > t.bytesByPath[ev.Path] {
			t.bytesByPath[ev.Path] = ev.BytesDone
		}
	case StatusRetrying:
		t.retries++
	case StatusDone:
		t.completed++
		t.bytesByPath[ev.Path] = ev.BytesTotal
	case StatusSkipped:
		t.skipped++
	case StatusFailed:
		t.failed++
	}
}

// Snapshot returns a copy of the current progress state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	var done int64
	for _, b := range t.bytesByPath {
		done += b
	}

	elapsed := time.Since(t.startTime)
	var rate int64
	if elapsed > time.Second && done > 0 {
		rate = int64(float64(done) / elapsed.Seconds())
	}

	return Snapshot{
		TotalUnits:     t.totalUnits,
		CompletedUnits: t.completed,
		SkippedUnits:   t.skipped,
		FailedUnits:    t.failed,
		TotalBytes:     t.totalBytes,
		BytesDone:      done,
		Retries:        t.retries,
		BytesPerSecond: rate,
		Elapsed:        elapsed,
	}
}

// Summary renders a final human-readable line for the run.
func (s Snapshot) Summary() string {
	return fmt.Sprintf("%d done, %d skipped, %d failed (%s in %s)",
		s.CompletedUnits, s.SkippedUnits, s.FailedUnits,
		humanize.Bytes(uint64(s.BytesDone)), s.Elapsed.Truncate(time.Second))
}

// StatusLine renders an in-flight progress line.
func (s Snapshot) StatusLine() string {
	line := fmt.Sprintf("%d/%d units, %s", s.CompletedUnits+s.SkippedUnits+s.FailedUnits,
		s.TotalUnits, humanize.Bytes(uint64(s.BytesDone)))
	if s.TotalBytes > 0 {
		line += fmt.Sprintf("/%s", humanize.Bytes(uint64(s.TotalBytes)))
	}
	if s.BytesPerSecond > 0 {
		line += fmt.Sprintf(" at %s/s", humanize.Bytes(uint64(s.BytesPerSecond)))
	}
	return line
}
