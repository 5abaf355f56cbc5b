package helixapi

import "time"

// Job states reported by the API
const (
	JobStatePending    = "PENDING"
	JobStateExpanding  = "EXPANDING"
	JobStateDispatched = "DISPATCHED"
	JobStateFailed     = "FAILED"
	JobStateCanceled   = "CANCELED"
)

// IsTerminalJobState reports whether a job in the given state will not change any more
func IsTerminalJobState(state string) bool {
	switch state {
	case JobStateDispatched, JobStateFailed, JobStateCanceled:
		return true
	default:
		return false
	}
}

// JobCreationRequest registers a job whose work items are described by the
// manifest at ListUri.
type JobCreationRequest struct {
	Source             string            `json:"Source" binding:"required"`
	Type               string            `json:"Type" binding:"required"`
	Build              string            `json:"Build" binding:"required"`
	Properties         map[string]string `json:"Properties"`
	ListUri            string            `json:"ListUri" binding:"required"`
	QueueId            string            `json:"QueueId" binding:"required"`
	ContainerUri       string            `json:"ContainerUri"`
	ReadSas            string            `json:"ReadSas"`
	WriteSas           string            `json:"WriteSas"`
	Creator            string            `json:"Creator,omitempty"`
	MaxRetryCount      int               `json:"MaxRetryCount"`
	JobStartIdentifier string            `json:"JobStartIdentifier,omitempty"`
}

// JobCreationResult identifies a newly created job
type JobCreationResult struct {
	Name              string `json:"Name"`
	CancellationToken string `json:"CancellationToken"`
}

// WorkItemCounts summarises the work items of a job
type WorkItemCounts struct {
	Total      int `json:"Total"`
	Waiting    int `json:"Waiting"`
	Dispatched int `json:"Dispatched"`
}

// JobDetails is the state of a job as seen by the API
type JobDetails struct {
	Name       string            `json:"Name"`
	Source     string            `json:"Source"`
	Type       string            `json:"Type"`
	Build      string            `json:"Build"`
	QueueId    string            `json:"QueueId"`
	Creator    string            `json:"Creator,omitempty"`
	State      string            `json:"State"`
	Error      string            `json:"Error,omitempty"`
	Properties map[string]string `json:"Properties"`
	ListUri    string            `json:"ListUri"`
	Created    time.Time         `json:"Created"`
	Finished   *time.Time        `json:"Finished,omitempty"`
	WorkItems  WorkItemCounts    `json:"WorkItems"`
}

// WorkItemSummary describes one work item of a job
type WorkItemSummary struct {
	Name    string `json:"Name"`
	State   string `json:"State"`
	QueueId string `json:"QueueId"`
}

// ContainerCreationRequest asks the API for a storage container
type ContainerCreationRequest struct {
	ContainerName    string `json:"ContainerName" binding:"required"`
	ExpirationInDays int    `json:"ExpirationInDays"`
}

// ContainerInformation carries a container and the SAS tokens issued for it
type ContainerInformation struct {
	StorageAccountName string    `json:"StorageAccountName"`
	ContainerName      string    `json:"ContainerName"`
	ContainerUri       string    `json:"ContainerUri"`
	ReadToken          string    `json:"ReadToken"`
	WriteToken         string    `json:"WriteToken"`
	ExpiresAt          time.Time `json:"ExpiresAt"`
}

// ErrorResponse is the body returned by the API for failed requests
type ErrorResponse struct {
	Error string `json:"error"`
}
