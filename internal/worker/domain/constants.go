package domain

import "github.com/cuongbtq/helix-jobs/shared/helixapi"

// Job status constants
const (
	JobStatusPending    = helixapi.JobStatePending
	JobStatusExpanding  = helixapi.JobStateExpanding
	JobStatusDispatched = helixapi.JobStateDispatched
	JobStatusFailed     = helixapi.JobStateFailed
)

// Work item status constants
const (
	WorkItemStatusWaiting    = "WAITING"
	WorkItemStatusDispatched = "DISPATCHED"
)
