package jobsender

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SecondaryQueueSasValidHours is how long secondary queues may use the job's SAS tokens
const SecondaryQueueSasValidHours = 24.0

// ErrInvalidManifest is returned when a job list cannot be parsed or fails validation
var ErrInvalidManifest = errors.New("invalid job manifest")

// SecondaryQueueInfo is a secondary queue as the remote executor sees it
type SecondaryQueueInfo struct {
	QueueID       string  `json:"QueueId"`
	SasValidHours float64 `json:"SasValidHours"`
}

// JobListEntry is one work item in the job manifest. The JSON shape is read
// by the remote executor and must not change.
type JobListEntry struct {
	Command                string               `json:"Command"`
	CorrelationPayloadURIs []string             `json:"CorrelationPayloadUris"`
	PayloadURI             *string              `json:"PayloadUri"`
	WorkItemID             string               `json:"WorkItemId"`
	TimeoutInSeconds       int                  `json:"TimeoutInSeconds"`
	SecondaryQueues        []SecondaryQueueInfo `json:"SecondaryQueues"`
}

// MarshalManifest encodes entries as the JSON job list. Nil lists are written as empty arrays.
func MarshalManifest(entries []JobListEntry) ([]byte, error) {
	out := make([]JobListEntry, len(entries))
	for i, e := range entries {
		if e.CorrelationPayloadURIs == nil {
			e.CorrelationPayloadURIs = []string{}
		}
		if e.SecondaryQueues == nil {
			e.SecondaryQueues = []SecondaryQueueInfo{}
		}
		out[i] = e
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job list: %w", err)
	}
	return data, nil
}

// ParseManifest decodes a JSON job list. Every entry needs a work item id, and ids must be unique.
func ParseManifest(data []byte) ([]JobListEntry, error) {
	var entries []JobListEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if e.WorkItemID == "" {
			return nil, fmt.Errorf("%w: entry %d has no WorkItemId", ErrInvalidManifest, i)
		}
		if _, dup := seen[e.WorkItemID]; dup {
			return nil, fmt.Errorf("%w: duplicate work item %s", ErrInvalidManifest, e.WorkItemID)
		}
		seen[e.WorkItemID] = struct{}{}
	}
	return entries, nil
}
