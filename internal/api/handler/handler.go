package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/helix-jobs/internal/api/model"
	"github.com/cuongbtq/helix-jobs/internal/api/storage"
	"github.com/cuongbtq/helix-jobs/shared/helixapi"
)

// JobStore persists jobs and exposes the work items the worker expanded
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) (*model.Job, bool, error)
	GetJobByID(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]model.Job, error)
	ListWorkItems(ctx context.Context, jobID string) ([]model.WorkItem, error)
	CancelJob(ctx context.Context, jobID, token string) error
	DeleteJob(ctx context.Context, jobID string) error
}

// Publisher hands new jobs to the worker service
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// ContainerIssuer creates storage containers and signs tokens for them
type ContainerIssuer interface {
	IssueContainer(ctx context.Context, name string, validity time.Duration) (*helixapi.ContainerInformation, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Store     JobStore
	Publisher Publisher
	// Containers is nil when the server has no storage account to issue from
	Containers             ContainerIssuer
	MaxContainerExpiryDays int
	AccessToken            string
	HealthChecks           []HealthCheck
}

// HealthCheck is a named readiness probe of a backing service
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	store     JobStore
	publisher Publisher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		publisher: deps.Publisher,
	}
}

// StorageHandler hands out job containers to senders without their own storage account
type StorageHandler struct {
	logger        *slog.Logger
	containers    ContainerIssuer
	maxExpiryDays int
}

// NewStorageHandler creates a new StorageHandler instance
func NewStorageHandler(deps *Dependencies) *StorageHandler {
	maxDays := deps.MaxContainerExpiryDays
	if maxDays <= 0 {
		maxDays = defaultMaxContainerExpiryDays
	}
	return &StorageHandler{
		logger:        deps.Logger,
		containers:    deps.Containers,
		maxExpiryDays: maxDays,
	}
}
