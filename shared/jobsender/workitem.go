package jobsender

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/cuongbtq/helix-jobs/shared/blobstore"
)

// DefaultWorkItemTimeout applies when a work item sets no timeout
const DefaultWorkItemTimeout = 5 * time.Minute

// WorkItemDefinition is one unit of remote execution within a job
type WorkItemDefinition struct {
	name    string
	command string
	payload Payload
	timeout time.Duration
}

func (w *WorkItemDefinition) Name() string           { return w.name }
func (w *WorkItemDefinition) Command() string        { return w.command }
func (w *WorkItemDefinition) Payload() Payload       { return w.payload }
func (w *WorkItemDefinition) Timeout() time.Duration { return w.timeout }

// send uploads the work item's payload and returns its manifest entry.
// Correlation payloads and secondary queues are job-level and filled in by the caller.
func (w *WorkItemDefinition) send(ctx context.Context, fs afero.Fs, c blobstore.Container, log LogFunc) (JobListEntry, error) {
	entry := JobListEntry{
		Command:          w.command,
		WorkItemID:       w.name,
		TimeoutInSeconds: int(w.timeout / time.Second),
	}

	if !w.payload.IsZero() {
		uri, err := w.payload.Upload(ctx, fs, c, log)
		if err != nil {
			return JobListEntry{}, fmt.Errorf("failed to upload payload for work item %s: %w", w.name, err)
		}
		entry.PayloadURI = &uri
	}

	return entry, nil
}

// WorkItemBuilder configures a work item until it is attached to its job
type WorkItemBuilder struct {
	job  *JobDefinition
	item *WorkItemDefinition
}

func (b *WorkItemBuilder) WithCommand(command string) *WorkItemBuilder {
	b.item.command = command
	return b
}

func (b *WorkItemBuilder) WithPayloadURI(uri string) *WorkItemBuilder {
	b.item.payload = URIPayload(uri)
	return b
}

func (b *WorkItemBuilder) WithDirectoryPayload(dir, prefix string) *WorkItemBuilder {
	b.item.payload = DirectoryPayload(dir, prefix)
	return b
}

func (b *WorkItemBuilder) WithFilesPayload(files ...string) *WorkItemBuilder {
	b.item.payload = FilesPayload(files...)
	return b
}

func (b *WorkItemBuilder) WithArchivePayload(path string) *WorkItemBuilder {
	b.item.payload = ArchivePayload(path)
	return b
}

// WithEmptyPayload clears the payload; the manifest entry then carries a null PayloadUri
func (b *WorkItemBuilder) WithEmptyPayload() *WorkItemBuilder {
	b.item.payload = Payload{}
	return b
}

func (b *WorkItemBuilder) WithTimeout(timeout time.Duration) *WorkItemBuilder {
	b.item.timeout = timeout
	return b
}

// AttachToJob appends the work item to its job and returns the job for further chaining
func (b *WorkItemBuilder) AttachToJob() *JobDefinition {
	b.job.workItems = append(b.job.workItems, b.item)
	return b.job
}
