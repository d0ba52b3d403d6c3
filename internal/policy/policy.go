// Package policy decides what happens when source and destination both
// already have an object at the same path. Decisions are pure functions of
// the two sides' metadata so they are testable without any I/O.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/dandi/dandi-cli-sub000/internal/digest"
)

// ExistingPolicy selects the conflict rule for a whole invocation.
type ExistingPolicy int

const (
	// Error fails the unit whenever the destination already exists.
	Error ExistingPolicy = iota
	// Skip leaves an existing destination untouched.
	Skip
	// Force replaces the destination unconditionally.
	Force
	// Overwrite replaces the destination when size or mtime differ.
	Overwrite
	// OverwriteDifferent replaces the destination only when a digest
	// comparison confirms the content differs.
	OverwriteDifferent
	// Refresh replaces the destination only when the source is strictly
	// newer by mtime.
	Refresh
)

func (p ExistingPolicy) String() string {
	switch p {
	case Error:
		return "error"
	case Skip:
		return "skip"
	case Force:
		return "force"
	case Overwrite:
		return "overwrite"
	case OverwriteDifferent:
		return "overwrite-different"
	case Refresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// Parse converts an --existing flag value into a policy.
func Parse(s string) (ExistingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return Error, nil
	case "skip":
		return Skip, nil
	case "force":
		return Force, nil
	case "overwrite":
		return Overwrite, nil
	case "overwrite-different":
		return OverwriteDifferent, nil
	case "refresh":
		return Refresh, nil
	default:
		return Error, fmt.Errorf("invalid existing policy %q", s)
	}
}

// Decision is the outcome for one transfer unit.
type Decision int

const (
	Proceed Decision = iota
	SkipUnit
	Fail
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case SkipUnit:
		return "skip"
	case Fail:
		return "error"
	default:
		return "unknown"
	}
}

// Side describes one side of a potential conflict.
type Side struct {
	Size    int64
	Mtime   time.Time
	Digests map[digest.Algorithm]string
}

// Decide applies the policy given the source side and the destination side.
// A nil destination means no conflict: the transfer always proceeds.
// The source is the local file on upload and the remote asset on download;
// the rules are symmetric.
func Decide(p ExistingPolicy, source Side, dest *Side) (Decision, error) {
	if dest == nil {
		return Proceed, nil
	}

	switch p {
	case Error:
		return Fail, fmt.Errorf("destination already exists")
	case Skip:
		return SkipUnit, nil
	case Force:
		return Proceed, nil
	case Overwrite:
		if source.Size != dest.Size || !source.Mtime.Equal(dest.Mtime) {
			return Proceed, nil
		}
		return SkipUnit, nil
	case OverwriteDifferent:
		algo, ok := digest.Preferred(source.Digests, dest.Digests)
		if !ok {
			// No common digest: sizes are the only content signal left.
			if source.Size != dest.Size {
				return Proceed, nil
			}
			return SkipUnit, nil
		}
		if source.Digests[algo] != dest.Digests[algo] {
			return Proceed, nil
		}
		return SkipUnit, nil
	case Refresh:
		if source.Mtime.After(dest.Mtime) {
			return Proceed, nil
		}
		return SkipUnit, nil
	default:
		return Fail, fmt.Errorf("unhandled existing policy %d", p)
	}
}
