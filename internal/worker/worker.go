package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/helix-jobs/internal/worker/domain"
	"github.com/cuongbtq/helix-jobs/shared/jobsender"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultJobTimeout        = 5 * time.Minute
)

// JobStore is the job state the worker reads and advances
type JobStore interface {
	ClaimJob(ctx context.Context, jobID string) (*domain.Job, error)
	InsertWorkItems(ctx context.Context, jobID, queueID string, entries []jobsender.JobListEntry) error
	MarkWorkItemDispatched(ctx context.Context, jobID, name string) error
	CompleteJob(ctx context.Context, jobID, status, errorMsg string) error
	ReleaseJob(ctx context.Context, jobID, errorMsg string) error
	UpdateJobHeartbeat(ctx context.Context, jobID string) error
}

// Broker consumes job messages and routes work items to their queues
type Broker interface {
	SetQos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	DeclareQueue(name string) error
	PublishToWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// ManifestFetcher downloads the work item manifest of a job
type ManifestFetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Store             JobStore
	Broker            Broker
	Manifests         ManifestFetcher
	WorkerID          string
	QueueName         string
	Concurrency       int
	PrefetchCount     int
	MaxRetries        int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
}

// Worker expands submitted jobs into work item messages
type Worker struct {
	logger            *slog.Logger
	storage           JobStore
	broker            Broker
	manifests         ManifestFetcher
	workerID          string
	queueName         string
	concurrency       int
	prefetchCount     int
	maxRetries        int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	jobsChan          chan *domain.JobMessage
	wg                sync.WaitGroup
	stopChan          chan struct{}
	stopOnce          sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := max(cfg.Concurrency, 1)
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	return &Worker{
		logger:            cfg.Logger,
		storage:           cfg.Store,
		broker:            cfg.Broker,
		manifests:         cfg.Manifests,
		workerID:          cfg.WorkerID,
		queueName:         cfg.QueueName,
		concurrency:       concurrency,
		prefetchCount:     prefetch,
		maxRetries:        cfg.MaxRetries,
		jobTimeout:        jobTimeout,
		heartbeatInterval: heartbeat,
		jobsChan:          make(chan *domain.JobMessage, concurrency),
		stopChan:          make(chan struct{}),
	}
}

// Start consumes job messages until ctx is canceled or the delivery channel closes
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	w.logger.Info("Worker dispatcher stopped",
		slog.String("worker_id", w.workerID),
	)
	return nil
}

// Stop gracefully stops the worker and waits for in-flight jobs
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
