package domain

import (
	"errors"

	"github.com/cuongbtq/helix-jobs/shared/helixapi"
)

const (
	JobStatusPending    = helixapi.JobStatePending
	JobStatusExpanding  = helixapi.JobStateExpanding
	JobStatusDispatched = helixapi.JobStateDispatched
	JobStatusFailed     = helixapi.JobStateFailed
	JobStatusCanceled   = helixapi.JobStateCanceled
)

const (
	WorkItemStatusWaiting    = "WAITING"
	WorkItemStatusDispatched = "DISPATCHED"
)

var (
	ErrJobNotFound              = errors.New("job not found")
	ErrJobTerminal              = errors.New("job is already in a terminal state")
	ErrJobNotTerminal           = errors.New("job has not reached a terminal state")
	ErrInvalidCancellationToken = errors.New("cancellation token does not match")
)
