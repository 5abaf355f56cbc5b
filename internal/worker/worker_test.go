package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/helix-jobs/internal/worker/domain"
	"github.com/cuongbtq/helix-jobs/shared/blobstore"
	"github.com/cuongbtq/helix-jobs/shared/jobsender"
)

type storedJob struct {
	job        domain.Job
	state      string
	errMsg     string
	workItems  []string
	dispatched map[string]bool
}

type fakeStore struct {
	mu       sync.Mutex
	jobs     map[string]*storedJob
	claimErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*storedJob)}
}

func (s *fakeStore) add(job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = &storedJob{job: job, state: domain.JobStatusPending, dispatched: map[string]bool{}}
}

func (s *fakeStore) get(jobID string) storedJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[jobID]
}

func (s *fakeStore) ClaimJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	j, ok := s.jobs[jobID]
	if !ok || j.state != domain.JobStatusPending {
		return nil, domain.ErrJobAlreadyClaimed
	}
	j.state = domain.JobStatusExpanding
	job := j.job
	return &job, nil
}

func (s *fakeStore) InsertWorkItems(_ context.Context, jobID, _ string, entries []jobsender.JobListEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[jobID]
	j.workItems = j.workItems[:0]
	for _, e := range entries {
		j.workItems = append(j.workItems, e.WorkItemID)
	}
	return nil
}

func (s *fakeStore) MarkWorkItemDispatched(_ context.Context, jobID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID].dispatched[name] = true
	return nil
}

func (s *fakeStore) CompleteJob(_ context.Context, jobID, status, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[jobID]
	if j.state != domain.JobStatusExpanding {
		return domain.ErrJobNotExpanding
	}
	j.state = status
	j.errMsg = errorMsg
	return nil
}

func (s *fakeStore) ReleaseJob(_ context.Context, jobID, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[jobID]
	if j.state != domain.JobStatusExpanding {
		return domain.ErrJobNotExpanding
	}
	j.state = domain.JobStatusPending
	j.errMsg = errorMsg
	j.job.RetryCount++
	return nil
}

func (s *fakeStore) UpdateJobHeartbeat(context.Context, string) error { return nil }

type publishedMessage struct {
	queue string
	msg   domain.WorkItemMessage
}

type fakeBroker struct {
	mu         sync.Mutex
	deliveries chan amqp.Delivery
	declared   map[string]bool
	published  []publishedMessage
	failQueue  string
	prefetch   int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		deliveries: make(chan amqp.Delivery, 8),
		declared:   make(map[string]bool),
	}
}

func (b *fakeBroker) SetQos(prefetchCount int) error {
	b.prefetch = prefetchCount
	return nil
}

func (b *fakeBroker) Consume(string) (<-chan amqp.Delivery, error) {
	return b.deliveries, nil
}

func (b *fakeBroker) DeclareQueue(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declared[name] = true
	return nil
}

func (b *fakeBroker) PublishToWithRetry(_ context.Context, routingKey string, body []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if routingKey == b.failQueue {
		return errors.New("channel closed")
	}
	var msg domain.WorkItemMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return err
	}
	b.published = append(b.published, publishedMessage{queue: routingKey, msg: msg})
	return nil
}

func (b *fakeBroker) queues() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.published))
	for i, p := range b.published {
		out[i] = p.queue
	}
	return out
}

type fakeFetcher struct {
	data []byte
	err  error
	uris []string
}

func (f *fakeFetcher) Fetch(_ context.Context, uri string) ([]byte, error) {
	f.uris = append(f.uris, uri)
	return f.data, f.err
}

type settlement struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcknowledger struct {
	settled chan settlement
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.settled <- settlement{tag: tag, ack: true}
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.settled <- settlement{tag: tag, requeue: requeue}
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(store JobStore, broker Broker, fetcher ManifestFetcher) *Worker {
	return NewWorker(&Config{
		Logger:            testLogger(),
		Store:             store,
		Broker:            broker,
		Manifests:         fetcher,
		WorkerID:          "worker-test",
		QueueName:         "jobs_queue",
		Concurrency:       2,
		MaxRetries:        3,
		JobTimeout:        5 * time.Second,
		HeartbeatInterval: time.Second,
	})
}

func testManifest(t *testing.T) []byte {
	t.Helper()
	payload := "https://store.example.com/c/payload.zip"
	data, err := jobsender.MarshalManifest([]jobsender.JobListEntry{
		{WorkItemID: "first", Command: "echo 1", PayloadURI: &payload, TimeoutInSeconds: 60},
		{
			WorkItemID:       "second",
			Command:          "echo 2",
			TimeoutInSeconds: 120,
			SecondaryQueues: []jobsender.SecondaryQueueInfo{
				{QueueID: "windows.10.amd64", SasValidHours: jobsender.SecondaryQueueSasValidHours},
			},
		},
	})
	require.NoError(t, err)
	return data
}

func testJob() domain.Job {
	return domain.Job{
		JobID:         uuid.NewString(),
		QueueID:       "ubuntu.2204.amd64",
		ListURI:       "https://store.example.com/c/list.json",
		ReadSAS:       "sv=1&sig=read",
		MaxRetryCount: 2,
	}
}

func TestProcessJob_Dispatches(t *testing.T) {
	store := newFakeStore()
	broker := newFakeBroker()
	fetcher := &fakeFetcher{data: testManifest(t)}
	job := testJob()
	store.add(job)

	w := newTestWorker(store, broker, fetcher)
	err := w.processJob(context.Background(), &domain.JobMessage{JobID: job.JobID})
	require.NoError(t, err)

	stored := store.get(job.JobID)
	assert.Equal(t, domain.JobStatusDispatched, stored.state)
	assert.Equal(t, []string{"first", "second"}, stored.workItems)
	assert.True(t, stored.dispatched["first"])
	assert.True(t, stored.dispatched["second"])

	assert.Equal(t, []string{job.ListURI + "?" + job.ReadSAS}, fetcher.uris)
	assert.Equal(t, []string{"ubuntu.2204.amd64", "ubuntu.2204.amd64", "windows.10.amd64"}, broker.queues())
	assert.True(t, broker.declared["windows.10.amd64"])

	first := broker.published[0].msg
	assert.Equal(t, job.JobID, first.JobID)
	assert.Equal(t, "echo 1", first.Command)
	require.NotNil(t, first.PayloadURI)
	assert.Equal(t, 2, first.MaxRetryCount)
	assert.Zero(t, first.SasValidHours)

	secondary := broker.published[2].msg
	assert.Equal(t, "second", secondary.WorkItemID)
	assert.Equal(t, "windows.10.amd64", secondary.QueueID)
	assert.Equal(t, jobsender.SecondaryQueueSasValidHours, secondary.SasValidHours)
}

func TestProcessJob_Failures(t *testing.T) {
	tests := []struct {
		name          string
		retryCount    int
		fetchErr      error
		manifest      []byte
		failQueue     string
		expectedState string
		expectedErr   error
		requeue       bool
	}{
		{
			name:          "transient fetch error is released for retry",
			fetchErr:      domain.NewRetryableError(errors.New("connection reset")),
			expectedState: domain.JobStatusPending,
			requeue:       true,
		},
		{
			name:          "transient fetch error at max retries fails the job",
			retryCount:    3,
			fetchErr:      domain.NewRetryableError(errors.New("connection reset")),
			expectedState: domain.JobStatusFailed,
			expectedErr:   domain.ErrMaxRetriesExceeded,
		},
		{
			name:          "missing manifest fails the job",
			fetchErr:      fmt.Errorf("%w: blob gone", domain.ErrManifestNotFound),
			expectedState: domain.JobStatusFailed,
			expectedErr:   domain.ErrManifestNotFound,
		},
		{
			name:          "invalid manifest fails the job",
			manifest:      []byte(`{"not":"a list"}`),
			expectedState: domain.JobStatusFailed,
			expectedErr:   jobsender.ErrInvalidManifest,
		},
		{
			name:          "publish failure is released for retry",
			failQueue:     "windows.10.amd64",
			expectedState: domain.JobStatusPending,
			requeue:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			broker := newFakeBroker()
			broker.failQueue = tt.failQueue

			manifest := tt.manifest
			if manifest == nil {
				manifest = testManifest(t)
			}
			fetcher := &fakeFetcher{data: manifest, err: tt.fetchErr}

			job := testJob()
			job.RetryCount = tt.retryCount
			store.add(job)

			w := newTestWorker(store, broker, fetcher)
			err := w.processJob(context.Background(), &domain.JobMessage{JobID: job.JobID})
			require.Error(t, err)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			}
			assert.Equal(t, tt.requeue, w.shouldRequeueJob(err))

			stored := store.get(job.JobID)
			assert.Equal(t, tt.expectedState, stored.state)
			assert.NotEmpty(t, stored.errMsg)
			if tt.requeue {
				assert.Equal(t, tt.retryCount+1, stored.job.RetryCount)
			}
		})
	}
}

func TestProcessJob_AlreadyClaimed(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{}
	w := newTestWorker(store, newFakeBroker(), fetcher)

	err := w.processJob(context.Background(), &domain.JobMessage{JobID: uuid.NewString()})
	require.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)
	assert.False(t, w.shouldRequeueJob(err))
	assert.Empty(t, fetcher.uris)
}

func TestProcessJob_ClaimDatabaseError(t *testing.T) {
	store := newFakeStore()
	store.claimErr = errors.New("connection refused")
	w := newTestWorker(store, newFakeBroker(), &fakeFetcher{})

	err := w.processJob(context.Background(), &domain.JobMessage{JobID: uuid.NewString()})
	require.Error(t, err)
	assert.True(t, w.shouldRequeueJob(err))
}

func TestShouldRequeueJob(t *testing.T) {
	w := newTestWorker(newFakeStore(), newFakeBroker(), &fakeFetcher{})

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"retryable", domain.NewRetryableError(errors.New("timeout")), true},
		{"wrapped retryable", fmt.Errorf("outer: %w", domain.NewRetryableError(errors.New("timeout"))), true},
		{"plain error", errors.New("boom"), false},
		{"already claimed", domain.ErrJobAlreadyClaimed, false},
		{"not expanding", domain.ErrJobNotExpanding, false},
		{"max retries", fmt.Errorf("%w: %w", domain.ErrMaxRetriesExceeded, domain.NewRetryableError(errors.New("x"))), false},
		{"manifest not found", domain.NewRetryableError(domain.ErrManifestNotFound), false},
		{"invalid manifest", jobsender.ErrInvalidManifest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, w.shouldRequeueJob(tt.err))
		})
	}
}

func TestManifestURI(t *testing.T) {
	tests := []struct {
		name     string
		listURI  string
		readSAS  string
		expected string
	}{
		{"no token", "https://a.blob.core.windows.net/c/list.json", "", "https://a.blob.core.windows.net/c/list.json"},
		{"token appended", "https://a.blob.core.windows.net/c/list.json", "sv=1&sig=x", "https://a.blob.core.windows.net/c/list.json?sv=1&sig=x"},
		{"leading question mark", "https://a.blob.core.windows.net/c/list.json", "?sv=1", "https://a.blob.core.windows.net/c/list.json?sv=1"},
		{"uri already signed", "https://a.blob.core.windows.net/c/list.json?sig=y", "sv=1", "https://a.blob.core.windows.net/c/list.json?sig=y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := manifestURI(&domain.Job{ListURI: tt.listURI, ReadSAS: tt.readSAS})
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestWorker_Start(t *testing.T) {
	store := newFakeStore()
	broker := newFakeBroker()
	fetcher := &fakeFetcher{data: testManifest(t)}
	job := testJob()
	store.add(job)

	ack := &fakeAcknowledger{settled: make(chan settlement, 8)}
	w := newTestWorker(store, broker, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	deliveries := []amqp.Delivery{
		{Acknowledger: ack, DeliveryTag: 1, Body: []byte(`not json`)},
		{Acknowledger: ack, DeliveryTag: 2, Body: []byte(`{"job_id":"not-a-uuid"}`)},
		{Acknowledger: ack, DeliveryTag: 3, Body: []byte(fmt.Sprintf(`{"job_id":%q}`, job.JobID))},
	}
	for _, d := range deliveries {
		broker.deliveries <- d
	}

	got := make(map[uint64]settlement)
	for range deliveries {
		select {
		case s := <-ack.settled:
			got[s.tag] = s
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for deliveries to settle")
		}
	}

	assert.Equal(t, settlement{tag: 1}, got[1])
	assert.Equal(t, settlement{tag: 2}, got[2])
	assert.Equal(t, settlement{tag: 3, ack: true}, got[3])
	assert.Equal(t, 2, broker.prefetch)
	assert.Equal(t, domain.JobStatusDispatched, store.get(job.JobID).state)

	cancel()
	require.NoError(t, <-done)
	w.Stop()
}

func TestBlobManifestFetcher_Bucket(t *testing.T) {
	ctx := context.Background()
	buckets, err := blobstore.OpenBucketStore("mem://")
	require.NoError(t, err)
	defer buckets.Close()

	container, err := buckets.GetContainer(ctx, "manifests")
	require.NoError(t, err)
	uri, err := container.UploadBytes(ctx, "list.json", []byte(`[]`))
	require.NoError(t, err)

	fetcher := NewManifestFetcher(buckets)

	data, err := fetcher.Fetch(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), data)

	_, err = fetcher.Fetch(ctx, "mem://manifests/missing.json")
	assert.ErrorIs(t, err, domain.ErrManifestNotFound)
}

func TestBlobManifestFetcher_Unsupported(t *testing.T) {
	fetcher := NewManifestFetcher(nil)

	tests := []string{
		"ftp://example.com/list.json",
		"mem://manifests/list.json",
		"::not a uri",
	}
	for _, uri := range tests {
		t.Run(uri, func(t *testing.T) {
			_, err := fetcher.Fetch(context.Background(), uri)
			assert.ErrorIs(t, err, domain.ErrManifestNotFound)
		})
	}
}
