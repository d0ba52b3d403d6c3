package transfer

import (
	"fmt"

	"github.com/dandi/dandi-cli-sub000/internal/digest"
)

// UnitError pairs a failed unit's path with the error that sank it.
type UnitError struct {
	Path string
	Err  error
}

// Result summarizes one coordinator run. It is the only mutable state
// shared with the caller and is fully built before being returned.
type Result struct {
	Succeeded        int
	Skipped          int
	Failed           []UnitError
	BytesTransferred int64
}

// Err returns a PartialRunError when any unit failed, otherwise nil.
// Callers use it to derive the process exit code.
func (r *Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &PartialRunError{Succeeded: r.Succeeded, Skipped: r.Skipped, Failed: r.Failed}
}

// PartialRunError aggregates per-unit failures: some units failed while
// sibling units completed.
type PartialRunError struct {
	Succeeded int
	Skipped   int
	Failed    []UnitError
}

func (e *PartialRunError) Error() string {
	return fmt.Sprintf("%d of %d transfer units failed",
		len(e.Failed), e.Succeeded+e.Skipped+len(e.Failed))
}

// IntegrityError reports a digest mismatch after a completed transfer.
// It is never retried silently; the unit fails and the run continues.
type IntegrityError struct {
	Path      string
	Algorithm digest.Algorithm
	Local     string
	Remote    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s digest mismatch for %s: local %s, remote %s",
		e.Algorithm, e.Path, e.Local, e.Remote)
}
