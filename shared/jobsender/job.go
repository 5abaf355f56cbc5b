// Package jobsender assembles jobs for the remote execution service.
//
// A JobDefinition collects job metadata, correlation payloads shared by every
// work item, and the work items themselves. Send stages all payloads in a
// blob container, uploads the job manifest and registers the job.
package jobsender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/helix-jobs/shared/blobstore"
	"github.com/cuongbtq/helix-jobs/shared/helixapi"
	"github.com/cuongbtq/helix-jobs/shared/retry"
)

var (
	ErrAlreadySent       = errors.New("job definition has already been sent")
	ErrInvalidDefinition = errors.New("invalid job definition")
)

// API is the part of the job service a JobDefinition talks to. *helixapi.Client implements it.
type API interface {
	blobstore.ContainerIssuer
	NewJob(ctx context.Context, req *helixapi.JobCreationRequest) (*helixapi.JobCreationResult, error)
	JobDetails(ctx context.Context, jobName string) (*helixapi.JobDetails, error)
	CancelJob(ctx context.Context, jobName, cancellationToken string) error
	RetryPolicy() retry.Policy
}

// DefaultContainerName returns a fresh helix-job-<uuid> container name
func DefaultContainerName() string {
	return "helix-job-" + uuid.NewString()
}

// JobDefinition accumulates everything needed to submit one job.
// It is not safe for concurrent use and can be sent only once.
type JobDefinition struct {
	api  API
	opts options

	source           string
	jobType          string
	build            string
	targetQueue      string
	creator          string
	properties       map[string]string
	correlation      []Payload
	secondaryQueues  []string
	maxRetryCount    *int
	containerName    string
	connectionString string
	workItems        []*WorkItemDefinition

	sent bool
}

// New starts a job definition that submits through api
func New(api API, opts ...Option) *JobDefinition {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &JobDefinition{
		api:           api,
		opts:          o,
		properties:    make(map[string]string),
		containerName: DefaultContainerName(),
	}
}

func (j *JobDefinition) Source() string           { return j.source }
func (j *JobDefinition) Type() string             { return j.jobType }
func (j *JobDefinition) Build() string            { return j.build }
func (j *JobDefinition) TargetQueue() string      { return j.targetQueue }
func (j *JobDefinition) Creator() string          { return j.creator }
func (j *JobDefinition) ContainerName() string    { return j.containerName }
func (j *JobDefinition) MaxRetryCount() *int      { return j.maxRetryCount }
func (j *JobDefinition) ConnectionString() string { return j.connectionString }

// Properties returns a copy of the job properties
func (j *JobDefinition) Properties() map[string]string { return maps.Clone(j.properties) }

func (j *JobDefinition) CorrelationPayloads() []Payload { return slices.Clone(j.correlation) }

func (j *JobDefinition) SecondaryQueues() []string { return slices.Clone(j.secondaryQueues) }

func (j *JobDefinition) WorkItems() []*WorkItemDefinition { return slices.Clone(j.workItems) }

func (j *JobDefinition) WithSource(source string) *JobDefinition {
	j.source = source
	return j
}

func (j *JobDefinition) WithType(jobType string) *JobDefinition {
	j.jobType = jobType
	return j
}

func (j *JobDefinition) WithBuild(build string) *JobDefinition {
	j.build = build
	return j
}

func (j *JobDefinition) WithTargetQueue(queueID string) *JobDefinition {
	j.targetQueue = queueID
	return j
}

func (j *JobDefinition) WithCreator(creator string) *JobDefinition {
	j.creator = creator
	return j
}

func (j *JobDefinition) WithContainerName(name string) *JobDefinition {
	j.containerName = name
	return j
}

// WithStorageAccountConnectionString makes Send upload with the given account
// credentials instead of asking the job API for a container.
func (j *JobDefinition) WithStorageAccountConnectionString(connectionString string) *JobDefinition {
	j.connectionString = connectionString
	return j
}

// WithMaxRetryCount sets how often the service retries failed work items. Nil means the default of 0.
func (j *JobDefinition) WithMaxRetryCount(count *int) *JobDefinition {
	j.maxRetryCount = count
	return j
}

// WithProperty sets a job property, replacing any previous value for key
func (j *JobDefinition) WithProperty(key, value string) *JobDefinition {
	j.properties[key] = value
	return j
}

func (j *JobDefinition) WithSecondaryQueue(queueID string) *JobDefinition {
	j.secondaryQueues = append(j.secondaryQueues, queueID)
	return j
}

// WithCorrelationPayloadURIs adds one correlation payload per uri, in order
func (j *JobDefinition) WithCorrelationPayloadURIs(uris ...string) *JobDefinition {
	for _, uri := range uris {
		j.correlation = append(j.correlation, URIPayload(uri))
	}
	return j
}

func (j *JobDefinition) WithCorrelationPayloadDirectory(dir, prefix string) *JobDefinition {
	j.correlation = append(j.correlation, DirectoryPayload(dir, prefix))
	return j
}

// WithCorrelationPayloadDirectoryName zips dir with its own name as the entry prefix
func (j *JobDefinition) WithCorrelationPayloadDirectoryName(dir string) *JobDefinition {
	return j.WithCorrelationPayloadDirectory(dir, filepath.Base(filepath.Clean(dir)))
}

func (j *JobDefinition) WithCorrelationPayloadFiles(files ...string) *JobDefinition {
	j.correlation = append(j.correlation, FilesPayload(files...))
	return j
}

func (j *JobDefinition) WithCorrelationPayloadArchive(path string) *JobDefinition {
	j.correlation = append(j.correlation, ArchivePayload(path))
	return j
}

// DefineWorkItem starts a work item. It joins the job once AttachToJob is called.
func (j *JobDefinition) DefineWorkItem(name string) *WorkItemBuilder {
	return &WorkItemBuilder{
		job:  j,
		item: &WorkItemDefinition{name: name, timeout: DefaultWorkItemTimeout},
	}
}

// Send uploads every payload and the manifest, then registers the job.
// Any upload failure aborts before the job is created. Only job creation is
// retried; each failed attempt is reported to log.
func (j *JobDefinition) Send(ctx context.Context, log LogFunc) (*SentJob, error) {
	if j.sent {
		return nil, ErrAlreadySent
	}
	if err := j.validate(); err != nil {
		return nil, err
	}
	j.sent = true

	logger := j.opts.logger.With(slog.String("container", j.containerName))

	store, err := j.opts.storeFactory(j.connectionString, j.api)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage: %w", err)
	}

	container, err := store.GetContainer(ctx, j.containerName)
	if err != nil {
		return nil, fmt.Errorf("failed to get container %s: %w", j.containerName, err)
	}
	logger.Debug("container ready", slog.String("container_uri", container.URI()))

	correlationURIs, err := j.uploadCorrelationPayloads(ctx, container, log)
	if err != nil {
		return nil, err
	}

	secondaryQueues := make([]SecondaryQueueInfo, len(j.secondaryQueues))
	for i, q := range j.secondaryQueues {
		secondaryQueues[i] = SecondaryQueueInfo{QueueID: q, SasValidHours: SecondaryQueueSasValidHours}
	}

	entries, err := j.uploadWorkItems(ctx, container, log)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].CorrelationPayloadURIs = correlationURIs
		entries[i].SecondaryQueues = secondaryQueues
	}

	manifest, err := MarshalManifest(entries)
	if err != nil {
		return nil, err
	}
	listURI, err := container.UploadText(ctx, "job-list-"+uuid.NewString()+".json", string(manifest))
	if err != nil {
		return nil, fmt.Errorf("failed to upload job list: %w", err)
	}
	logger.Debug("job list uploaded", slog.Int("work_items", len(entries)))

	maxRetryCount := 0
	if j.maxRetryCount != nil {
		maxRetryCount = *j.maxRetryCount
	}

	req := &helixapi.JobCreationRequest{
		Source:             j.source,
		Type:               j.jobType,
		Build:              j.build,
		Properties:         maps.Clone(j.properties),
		ListUri:            listURI,
		QueueId:            j.targetQueue,
		ContainerUri:       container.URI(),
		ReadSas:            container.ReadSAS(),
		WriteSas:           container.WriteSAS(),
		Creator:            j.creator,
		MaxRetryCount:      maxRetryCount,
		JobStartIdentifier: strings.ReplaceAll(uuid.NewString(), "-", ""),
	}

	result, err := retry.Do(ctx, j.api.RetryPolicy(), func(ctx context.Context) (*helixapi.JobCreationResult, error) {
		return j.api.NewJob(ctx, req)
	}, func(err error) {
		log.printf("Starting job failed with %v\nRetrying...", err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start job: %w", err)
	}

	logger.Info("job started",
		slog.String("job_name", result.Name),
		slog.String("job_start_identifier", req.JobStartIdentifier),
	)

	return &SentJob{api: j.api, result: *result}, nil
}

// validate reports every local problem that would make Send fail before any network call
func (j *JobDefinition) validate() error {
	var result *multierror.Error

	for _, p := range j.correlation {
		for _, err := range p.checkLocal(j.opts.fs) {
			result = multierror.Append(result, fmt.Errorf("correlation payload: %w", err))
		}
	}

	for _, w := range j.workItems {
		if w.name == "" {
			result = multierror.Append(result, errors.New("work item has no name"))
		}
		if w.command == "" {
			result = multierror.Append(result, fmt.Errorf("work item %s has no command", w.name))
		}
		for _, err := range w.payload.checkLocal(j.opts.fs) {
			result = multierror.Append(result, fmt.Errorf("work item %s: %w", w.name, err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	return nil
}

// uploadCorrelationPayloads uploads all correlation payloads at once. URIs
// are stored by declaration index, whatever order the uploads finish in.
func (j *JobDefinition) uploadCorrelationPayloads(ctx context.Context, c blobstore.Container, log LogFunc) ([]string, error) {
	uris := make([]string, len(j.correlation))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range j.correlation {
		g.Go(func() error {
			uri, err := p.Upload(gctx, j.opts.fs, c, log)
			if err != nil {
				return fmt.Errorf("failed to upload correlation payload %s: %w", p, err)
			}
			uris[i] = uri
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return uris, nil
}

// uploadWorkItems builds the manifest entries in declaration order. With an
// upload concurrency of 1 the work items upload one after another.
func (j *JobDefinition) uploadWorkItems(ctx context.Context, c blobstore.Container, log LogFunc) ([]JobListEntry, error) {
	entries := make([]JobListEntry, len(j.workItems))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.opts.uploadConcurrency)
	for i, w := range j.workItems {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entry, err := w.send(gctx, j.opts.fs, c, log)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}
