package domain

// Job status constants, as written to the record's status column
const (
	JobStatusRunning  = "running"
	JobStatusFinished = "finished"
	JobStatusFailed   = "failed"
	JobStatusTimeout  = "timeout"

	// JobStatusAssignFailed is logged only: no record exists to hold it
	JobStatusAssignFailed = "assign_failed"
)

// Result texts written alongside a terminal status
const (
	ResultTimedOut     = "Processing took too long and timed out"
	ResultFailedPrefix = "Buddy work failed: "
)

// Lifecycle event routing keys
const (
	EventJobDispatched = "job.dispatched"
	EventJobPrefix     = "job."
)
