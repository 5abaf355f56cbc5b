package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/helix-jobs/internal/api/domain"
	"github.com/cuongbtq/helix-jobs/internal/api/dto"
	"github.com/cuongbtq/helix-jobs/internal/api/model"
	"github.com/cuongbtq/helix-jobs/internal/api/storage"
	"github.com/cuongbtq/helix-jobs/shared/helixapi"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/jobs
// Registers a job whose work items are listed in the manifest at ListUri
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req helixapi.JobCreationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if msg := validateCreateRequest(&req); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": msg,
		})
		return
	}

	now := time.Now().UTC()
	job := model.Job{
		JobID:             uuid.NewString(),
		Source:            req.Source,
		Type:              req.Type,
		Build:             req.Build,
		QueueID:           req.QueueId,
		Creator:           req.Creator,
		Properties:        model.Properties(req.Properties),
		ListURI:           req.ListUri,
		ContainerURI:      req.ContainerUri,
		ReadSAS:           req.ReadSas,
		WriteSAS:          req.WriteSas,
		MaxRetryCount:     req.MaxRetryCount,
		CancellationToken: uuid.NewString(),
		State:             domain.JobStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.JobStartIdentifier != "" {
		job.JobStartIdentifier = &req.JobStartIdentifier
	}

	stored, created, err := h.store.CreateJob(c.Request.Context(), &job)
	if err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	status := http.StatusCreated
	if created {
		jobsSubmitted.WithLabelValues("created").Inc()
	} else {
		status = http.StatusOK
		jobsSubmitted.WithLabelValues("duplicate").Inc()
		h.logger.Info("Job start repeated",
			slog.String("job_id", stored.JobID),
			slog.String("job_start_identifier", req.JobStartIdentifier),
			slog.String("state", stored.State),
		)
	}

	// A repeat of a job that never left PENDING may have lost its message.
	// The worker claims jobs atomically, so publishing twice is harmless.
	if stored.State == domain.JobStatusPending {
		if err := h.publish(c, stored.JobID); err != nil {
			h.logger.Error("Failed to publish job",
				slog.String("job_id", stored.JobID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Failed to queue job",
			})
			return
		}
	}

	h.logger.Info("Job accepted",
		slog.String("job_id", stored.JobID),
		slog.String("queue_id", stored.QueueID),
		slog.String("source", stored.Source),
	)

	c.JSON(status, helixapi.JobCreationResult{
		Name:              stored.JobID,
		CancellationToken: stored.CancellationToken,
	})
}

func (h *JobHandler) publish(c *gin.Context, jobID string) error {
	body, err := json.Marshal(dto.JobPublishedMessage{JobID: jobID})
	if err != nil {
		return err
	}
	return h.publisher.PublishWithRetry(c.Request.Context(), body, "application/json")
}

func validateCreateRequest(req *helixapi.JobCreationRequest) string {
	u, err := url.Parse(req.ListUri)
	if err != nil || !u.IsAbs() {
		return "ListUri must be an absolute URI"
	}
	if req.MaxRetryCount < 0 {
		return "MaxRetryCount must not be negative"
	}
	return ""
}

// GetJob handles GET /api/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.store.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		h.respondStoreError(c, jobID, "Failed to get job", err)
		return
	}

	c.JSON(http.StatusOK, toJobDetails(job))
}

// ListJobs handles GET /api/jobs
// Lists jobs with optional filtering and pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		State:    req.State,
		Source:   req.Source,
		Type:     req.Type,
		Creator:  req.Creator,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	// the store fetches one extra row to tell whether another page exists
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	details := make([]helixapi.JobDetails, len(jobs))
	for i := range jobs {
		details[i] = toJobDetails(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       details,
		NextCursor: nextCursor,
	})
}

// ListWorkItems handles GET /api/jobs/:job_id/workitems
func (h *JobHandler) ListWorkItems(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	items, err := h.store.ListWorkItems(c.Request.Context(), jobID)
	if err != nil {
		h.respondStoreError(c, jobID, "Failed to list work items", err)
		return
	}

	summaries := make([]helixapi.WorkItemSummary, len(items))
	for i, item := range items {
		summaries[i] = helixapi.WorkItemSummary{
			Name:    item.Name,
			State:   item.State,
			QueueId: item.QueueID,
		}
	}

	c.JSON(http.StatusOK, summaries)
}

// CancelJob handles POST /api/jobs/:job_id/cancel?cancellationToken=
// Cancels a job that has not been dispatched yet
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	var req dto.CancelJobRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if err := h.store.CancelJob(c.Request.Context(), jobID, req.CancellationToken); err != nil {
		h.respondStoreError(c, jobID, "Failed to cancel job", err)
		return
	}

	jobsCanceled.Inc()
	h.logger.Info("Job canceled", slog.String("job_id", jobID))

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"state":  domain.JobStatusCanceled,
	})
}

// DeleteJob handles DELETE /api/jobs/:job_id
// Permanently deletes a terminal job and its work items
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	if err := h.store.DeleteJob(c.Request.Context(), jobID); err != nil {
		h.respondStoreError(c, jobID, "Failed to delete job", err)
		return
	}

	h.logger.Info("Job deleted", slog.String("job_id", jobID))
	c.Status(http.StatusNoContent)
}

// jobID reads and validates the job_id path parameter, answering 400 when it is not a UUID
func (h *JobHandler) jobID(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

func (h *JobHandler) respondStoreError(c *gin.Context, jobID, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		status = http.StatusNotFound
		msg = err.Error()
	case errors.Is(err, domain.ErrInvalidCancellationToken):
		status = http.StatusForbidden
		msg = err.Error()
	case errors.Is(err, domain.ErrJobTerminal), errors.Is(err, domain.ErrJobNotTerminal):
		status = http.StatusConflict
		msg = err.Error()
	default:
		h.logger.Error(msg, slog.String("job_id", jobID), slog.String("error", err.Error()))
	}

	c.JSON(status, gin.H{
		"error": msg,
	})
}

func toJobDetails(job *model.Job) helixapi.JobDetails {
	properties := map[string]string(job.Properties)
	if properties == nil {
		properties = map[string]string{}
	}

	return helixapi.JobDetails{
		Name:       job.JobID,
		Source:     job.Source,
		Type:       job.Type,
		Build:      job.Build,
		QueueId:    job.QueueID,
		Creator:    job.Creator,
		State:      job.State,
		Error:      job.Error,
		Properties: properties,
		ListUri:    job.ListURI,
		Created:    job.CreatedAt,
		Finished:   job.FinishedAt,
		WorkItems: helixapi.WorkItemCounts{
			Total:      job.TotalWorkItems,
			Waiting:    job.WaitingWorkItems,
			Dispatched: job.DispatchedWorkItems,
		},
	}
}
