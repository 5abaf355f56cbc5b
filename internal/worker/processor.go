package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/helix-jobs/internal/worker/domain"
	"github.com/cuongbtq/helix-jobs/shared/jobsender"
)

// processJob expands one job: claim it, read its manifest, record and publish
// every work item, then mark it DISPATCHED.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	w.logger.Info("Processing job",
		slog.String("job_id", msg.JobID),
		slog.String("worker_id", w.workerID),
	)

	// Step 1: Claim job from database (PENDING → EXPANDING)
	job, err := w.storage.ClaimJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			w.logger.Warn("Job already claimed, skipping",
				slog.String("job_id", msg.JobID),
			)
			return fmt.Errorf("job already claimed: %w", err)
		}
		// Database error - could be transient
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	// Step 2: Heartbeat while the job is held
	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, job.JobID, heartbeatDone)
	defer close(heartbeatDone)

	// Step 3: Expand and dispatch
	count, err := w.expandJob(jobCtx, job)
	if err != nil {
		return w.handleFailure(ctx, job, err)
	}

	if err := w.storage.CompleteJob(ctx, job.JobID, domain.JobStatusDispatched, ""); err != nil {
		if errors.Is(err, domain.ErrJobNotExpanding) {
			w.logger.Warn("Job changed state while expanding, leaving it as is",
				slog.String("job_id", job.JobID),
			)
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to mark job dispatched: %w", err))
	}

	w.logger.Info("Job dispatched",
		slog.String("job_id", job.JobID),
		slog.String("queue_id", job.QueueID),
		slog.Int("work_items", count),
	)
	return nil
}

func (w *Worker) expandJob(ctx context.Context, job *domain.Job) (int, error) {
	data, err := w.manifests.Fetch(ctx, manifestURI(job))
	if err != nil {
		return 0, err
	}

	entries, err := jobsender.ParseManifest(data)
	if err != nil {
		return 0, err
	}

	if err := w.storage.InsertWorkItems(ctx, job.JobID, job.QueueID, entries); err != nil {
		return 0, domain.NewRetryableError(err)
	}

	for _, entry := range entries {
		if err := w.publishWorkItem(ctx, job, entry); err != nil {
			return 0, domain.NewRetryableError(err)
		}
		if err := w.storage.MarkWorkItemDispatched(ctx, job.JobID, entry.WorkItemID); err != nil {
			return 0, domain.NewRetryableError(err)
		}
	}

	return len(entries), nil
}

// publishWorkItem sends the work item to the job's queue and to each of its secondary queues
func (w *Worker) publishWorkItem(ctx context.Context, job *domain.Job, entry jobsender.JobListEntry) error {
	msg := domain.WorkItemMessage{
		JobID:                  job.JobID,
		WorkItemID:             entry.WorkItemID,
		Command:                entry.Command,
		PayloadURI:             entry.PayloadURI,
		CorrelationPayloadURIs: entry.CorrelationPayloadURIs,
		TimeoutInSeconds:       entry.TimeoutInSeconds,
		QueueID:                job.QueueID,
		MaxRetryCount:          job.MaxRetryCount,
	}

	if err := w.publishTo(ctx, msg, "target"); err != nil {
		return err
	}

	for _, q := range entry.SecondaryQueues {
		secondary := msg
		secondary.QueueID = q.QueueID
		secondary.SasValidHours = q.SasValidHours
		if err := w.publishTo(ctx, secondary, "secondary"); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) publishTo(ctx context.Context, msg domain.WorkItemMessage, kind string) error {
	if err := w.broker.DeclareQueue(msg.QueueID); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal work item %s: %w", msg.WorkItemID, err)
	}

	if err := w.broker.PublishToWithRetry(ctx, msg.QueueID, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish work item %s to %s: %w", msg.WorkItemID, msg.QueueID, err)
	}

	workItemsPublished.WithLabelValues(kind).Inc()
	return nil
}

// handleFailure records a failed expansion and decides whether the message is retried
func (w *Worker) handleFailure(ctx context.Context, job *domain.Job, err error) error {
	w.logger.Error("Job expansion failed",
		slog.String("job_id", job.JobID),
		slog.String("error", err.Error()),
	)

	var retryable *domain.RetryableError
	if errors.As(err, &retryable) && job.RetryCount < w.maxRetries {
		w.logger.Info("Job will be retried",
			slog.String("job_id", job.JobID),
			slog.Int("retry_count", job.RetryCount),
			slog.Int("max_retries", w.maxRetries),
		)
		if releaseErr := w.storage.ReleaseJob(ctx, job.JobID, err.Error()); releaseErr != nil {
			// a job that stays EXPANDING could never be claimed again
			return fmt.Errorf("failed to release job after %v: %w", err, releaseErr)
		}
		return err
	}

	if updateErr := w.storage.CompleteJob(ctx, job.JobID, domain.JobStatusFailed, err.Error()); updateErr != nil {
		w.logger.Error("Failed to update job status to FAILED",
			slog.String("job_id", job.JobID),
			slog.String("error", updateErr.Error()),
		)
	}

	if errors.As(err, &retryable) {
		w.logger.Warn("Job exceeded max retries",
			slog.String("job_id", job.JobID),
			slog.Int("retry_count", job.RetryCount),
			slog.Int("max_retries", w.maxRetries),
		)
		return fmt.Errorf("%w: %w", domain.ErrMaxRetriesExceeded, err)
	}
	return err
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := w.storage.UpdateJobHeartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// manifestURI adds the job's read token to a list URI that carries none
func manifestURI(job *domain.Job) string {
	if job.ReadSAS == "" {
		return job.ListURI
	}
	u, err := url.Parse(job.ListURI)
	if err != nil || u.RawQuery != "" {
		return job.ListURI
	}
	u.RawQuery = strings.TrimPrefix(job.ReadSAS, "?")
	return u.String()
}
