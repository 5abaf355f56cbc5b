package dto

import "github.com/cuongbtq/helix-jobs/shared/helixapi"

type ListJobsRequest struct {
	State    string `form:"state"`
	Source   string `form:"source"`
	Type     string `form:"type"`
	Creator  string `form:"creator"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []helixapi.JobDetails `json:"jobs"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type CancelJobRequest struct {
	CancellationToken string `form:"cancellationToken"`
}

type JobPublishedMessage struct {
	JobID string `json:"job_id"`
}
