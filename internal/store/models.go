package store

import "time"

// TransferRun records one upload, download or delete invocation.
type TransferRun struct {
	ID               int64
	Direction        string // "upload", "download", "delete"
	DandisetID       string
	Version          string
	StartTime        time.Time
	EndTime          time.Time
	UnitsSucceeded   int
	UnitsSkipped     int
	UnitsFailed      int
	UnitsDeleted     int
	BytesTransferred int64
	Status           string // "running", "success", "partial", "failed"
	ErrorMessage     string
}

// FailedUnit is a dead letter entry: one unit that failed during a run,
// kept so a later invocation can be pointed at it.
type FailedUnit struct {
	ID         int64
	RunID      int64
	Path       string
	Error      string
	RetryCount int
	FirstSeen  time.Time
	LastSeen   time.Time
	Resolved   bool
}
