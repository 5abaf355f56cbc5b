package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/helix-jobs/internal/worker/domain"
	"github.com/cuongbtq/helix-jobs/shared/jobsender"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg := <-w.jobsChan:
			w.logger.Info("Worker received job",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
				slog.Uint64("delivery_tag", msg.DeliveryTag),
			)

			err := w.processJob(ctx, msg)
			w.settle(workerName, msg, err)
		}
	}
}

// settle acknowledges the delivery of a processed job, requeueing it when the failure is transient
func (w *Worker) settle(workerName string, msg *domain.JobMessage, err error) {
	if msg.Acknowledger == nil {
		w.logger.Error("Delivery has no acknowledger",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID),
		)
		return
	}

	if err == nil {
		jobsProcessed.WithLabelValues("dispatched").Inc()
		if ackErr := msg.Acknowledger.Ack(msg.DeliveryTag, false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	requeue := w.shouldRequeueJob(err)
	if requeue {
		jobsProcessed.WithLabelValues("requeued").Inc()
	} else {
		jobsProcessed.WithLabelValues("dropped").Inc()
	}

	w.logger.Error("Job processing failed",
		slog.String("worker_name", workerName),
		slog.String("job_id", msg.JobID),
		slog.String("error", err.Error()),
		slog.Bool("requeue", requeue),
	)

	if nackErr := msg.Acknowledger.Nack(msg.DeliveryTag, false, requeue); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID),
			slog.String("error", nackErr.Error()),
		)
	}
}

// shouldRequeueJob determines if a job should be requeued based on the error type
func (w *Worker) shouldRequeueJob(err error) bool {
	switch {
	case errors.Is(err, domain.ErrJobAlreadyClaimed),
		errors.Is(err, domain.ErrJobNotExpanding),
		errors.Is(err, domain.ErrMaxRetriesExceeded),
		errors.Is(err, domain.ErrManifestNotFound),
		errors.Is(err, jobsender.ErrInvalidManifest):
		return false
	}

	// Requeue for transient/retryable errors
	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
