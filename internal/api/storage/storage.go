package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/helix-jobs/internal/api/domain"
	"github.com/cuongbtq/helix-jobs/internal/api/model"
	"github.com/cuongbtq/helix-jobs/shared/helixapi"
	"github.com/cuongbtq/helix-jobs/shared/postgresql"
)

const jobColumns = `
	j.job_id, j.job_start_identifier, j.source, j.type, j.build, j.queue_id,
	j.creator, j.properties, j.list_uri, j.container_uri, j.read_sas, j.write_sas,
	j.max_retry_count, j.cancellation_token, j.state, j.error,
	j.created_at, j.updated_at, j.finished_at,
	(SELECT COUNT(*) FROM work_items w WHERE w.job_id = j.job_id) AS total_work_items,
	(SELECT COUNT(*) FROM work_items w WHERE w.job_id = j.job_id AND w.state = 'WAITING') AS waiting_work_items,
	(SELECT COUNT(*) FROM work_items w WHERE w.job_id = j.job_id AND w.state = 'DISPATCHED') AS dispatched_work_items`

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// CreateJob inserts the job unless one with the same start identifier exists.
// It returns the stored job and whether it was created by this call.
func (s *Storage) CreateJob(ctx context.Context, job *model.Job) (*model.Job, bool, error) {
	query := `
		INSERT INTO jobs (
			job_id, job_start_identifier, source, type, build, queue_id,
			creator, properties, list_uri, container_uri, read_sas, write_sas,
			max_retry_count, cancellation_token, state, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17
		)
		ON CONFLICT (job_start_identifier) WHERE job_start_identifier IS NOT NULL DO NOTHING
		RETURNING job_id
	`

	var jobID string
	err := s.db.QueryRowxContext(
		ctx,
		query,
		job.JobID,
		job.JobStartIdentifier,
		job.Source,
		job.Type,
		job.Build,
		job.QueueID,
		job.Creator,
		job.Properties,
		job.ListURI,
		job.ContainerURI,
		job.ReadSAS,
		job.WriteSAS,
		job.MaxRetryCount,
		job.CancellationToken,
		job.State,
		job.CreatedAt,
		job.UpdatedAt,
	).Scan(&jobID)

	if err == nil {
		return job, true, nil
	}

	if !errors.Is(err, sql.ErrNoRows) || job.JobStartIdentifier == nil {
		return nil, false, fmt.Errorf("failed to create job: %w", err)
	}

	existing, err := s.getJob(ctx, "j.job_start_identifier = $1", *job.JobStartIdentifier)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing job: %w", err)
	}
	return existing, false, nil
}

func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*model.Job, error) {
	return s.getJob(ctx, "j.job_id = $1", jobID)
}

func (s *Storage) getJob(ctx context.Context, where string, arg any) (*model.Job, error) {
	var job model.Job
	query := `SELECT ` + jobColumns + ` FROM jobs j WHERE ` + where

	err := s.db.GetContext(ctx, &job, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

type JobFilter struct {
	State    string
	Source   string
	Type     string
	Creator  string
	PageSize int
	Cursor   *JobCursor
}

type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs j WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	// Filters
	for _, f := range []struct{ column, value string }{
		{"state", filter.State},
		{"source", filter.Source},
		{"type", filter.Type},
		{"creator", filter.Creator},
	} {
		if f.value == "" {
			continue
		}
		query += fmt.Sprintf(" AND j.%s = $%d", f.column, argIdx)
		args = append(args, f.value)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (j.created_at, j.job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY j.created_at DESC, j.job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []model.Job
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

func (s *Storage) ListWorkItems(ctx context.Context, jobID string) ([]model.WorkItem, error) {
	if _, err := s.GetJobByID(ctx, jobID); err != nil {
		return nil, err
	}

	var items []model.WorkItem
	query := `
		SELECT name, state, queue_id
		FROM work_items
		WHERE job_id = $1
		ORDER BY position
	`
	if err := s.db.SelectContext(ctx, &items, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}

	return items, nil
}

// CancelJob moves a non-terminal job to CANCELED after checking its token
func (s *Storage) CancelJob(ctx context.Context, jobID, token string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current struct {
		State             string `db:"state"`
		CancellationToken string `db:"cancellation_token"`
	}
	err = tx.GetContext(ctx, &current, `SELECT state, cancellation_token FROM jobs WHERE job_id = $1 FOR UPDATE`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock job: %w", err)
	}

	if current.CancellationToken != token {
		return domain.ErrInvalidCancellationToken
	}

	if helixapi.IsTerminalJobState(current.State) {
		return domain.ErrJobTerminal
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET state = $2, finished_at = NOW(), updated_at = NOW()
		WHERE job_id = $1
	`, jobID, domain.JobStatusCanceled)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cancellation: %w", err)
	}
	return nil
}

// DeleteJob removes a terminal job and its work items
func (s *Storage) DeleteJob(ctx context.Context, jobID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE job_id = $1 AND state IN ($2, $3, $4)
	`, jobID, domain.JobStatusDispatched, domain.JobStatusFailed, domain.JobStatusCanceled)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows > 0 {
		return nil
	}

	if _, err := s.GetJobByID(ctx, jobID); err != nil {
		return err
	}
	return domain.ErrJobNotTerminal
}
