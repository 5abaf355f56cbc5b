package jobsender

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/helix-jobs/shared/helixapi"
)

// SentJob is the handle for a job the service accepted
type SentJob struct {
	api    API
	result helixapi.JobCreationResult
}

func (s *SentJob) Name() string { return s.result.Name }

func (s *SentJob) CancellationToken() string { return s.result.CancellationToken }

func (s *SentJob) Details(ctx context.Context) (*helixapi.JobDetails, error) {
	details, err := s.api.JobDetails(ctx, s.result.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to get details of job %s: %w", s.result.Name, err)
	}
	return details, nil
}

func (s *SentJob) Cancel(ctx context.Context) error {
	if err := s.api.CancelJob(ctx, s.result.Name, s.result.CancellationToken); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", s.result.Name, err)
	}
	return nil
}

// Wait polls the job until it reaches a terminal state or ctx is done
func (s *SentJob) Wait(ctx context.Context, pollInterval time.Duration) (*helixapi.JobDetails, error) {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		details, err := s.Details(ctx)
		if err != nil {
			return nil, err
		}
		if helixapi.IsTerminalJobState(details.State) {
			return details, nil
		}

		select {
		case <-ctx.Done():
			return details, ctx.Err()
		case <-ticker.C:
		}
	}
}
