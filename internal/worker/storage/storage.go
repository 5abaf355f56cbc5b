package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/helix-jobs/internal/worker/domain"
	"github.com/cuongbtq/helix-jobs/shared/jobsender"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimJob attempts to claim a job using optimistic locking (PENDING → EXPANDING)
// Returns the job on success, ErrJobAlreadyClaimed if it was claimed, canceled or doesn't exist
func (s *Storage) ClaimJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET state = $1,
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $2
		  AND state = $3
		RETURNING job_id, queue_id, list_uri, read_sas, container_uri, retry_count, max_retry_count
	`

	var job domain.Job
	err := s.db.QueryRowxContext(ctx, query, domain.JobStatusExpanding, jobID, domain.JobStatusPending).StructScan(&job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed or not found",
				slog.String("job_id", jobID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("queue_id", job.QueueID),
	)

	return &job, nil
}

// InsertWorkItems records the manifest entries of a job in manifest order.
// Entries already stored by an earlier attempt are kept as they are.
func (s *Storage) InsertWorkItems(ctx context.Context, jobID, queueID string, entries []jobsender.JobListEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO work_items (
			job_id, name, position, command, payload_uri,
			correlation_payload_uris, timeout_seconds, queue_id, secondary_queues, state
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::jsonb, $7, $8, $9::jsonb, $10
		)
		ON CONFLICT (job_id, name) DO NOTHING
	`

	for i, entry := range entries {
		correlation, err := json.Marshal(nonNil(entry.CorrelationPayloadURIs))
		if err != nil {
			return fmt.Errorf("failed to marshal correlation payloads: %w", err)
		}
		secondary, err := json.Marshal(nonNil(entry.SecondaryQueues))
		if err != nil {
			return fmt.Errorf("failed to marshal secondary queues: %w", err)
		}

		_, err = tx.ExecContext(ctx, query,
			jobID,
			entry.WorkItemID,
			i,
			entry.Command,
			entry.PayloadURI,
			string(correlation),
			entry.TimeoutInSeconds,
			queueID,
			string(secondary),
			domain.WorkItemStatusWaiting,
		)
		if err != nil {
			return fmt.Errorf("failed to insert work item %s: %w", entry.WorkItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit work items: %w", err)
	}
	return nil
}

// MarkWorkItemDispatched records that a work item was published to its queues
func (s *Storage) MarkWorkItemDispatched(ctx context.Context, jobID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE work_items SET state = $3
		WHERE job_id = $1 AND name = $2
	`, jobID, name, domain.WorkItemStatusDispatched)
	if err != nil {
		return fmt.Errorf("failed to mark work item %s dispatched: %w", name, err)
	}
	return nil
}

// CompleteJob moves an expanding job to a terminal status
func (s *Storage) CompleteJob(ctx context.Context, jobID, status, errorMsg string) error {
	query := `
		UPDATE jobs
		SET state = $1,
		    error = $2,
		    finished_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3 AND state = $4
	`

	result, err := s.db.ExecContext(ctx, query, status, errorMsg, jobID, domain.JobStatusExpanding)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	if err := expectRow(result); err != nil {
		return err
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)

	return nil
}

// ReleaseJob hands an expanding job back to PENDING so a requeued message can claim it again
func (s *Storage) ReleaseJob(ctx context.Context, jobID, errorMsg string) error {
	query := `
		UPDATE jobs
		SET state = $1,
		    error = $2,
		    retry_count = retry_count + 1,
		    updated_at = NOW()
		WHERE job_id = $3 AND state = $4
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusPending, errorMsg, jobID, domain.JobStatusExpanding)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	return expectRow(result)
}

// UpdateJobHeartbeat updates the last_heartbeat_at timestamp for an expanding job
func (s *Storage) UpdateJobHeartbeat(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND state = $2
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusExpanding)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be expanding)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

func expectRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobNotExpanding
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
