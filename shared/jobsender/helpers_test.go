package jobsender

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/helix-jobs/shared/blobstore"
	"github.com/cuongbtq/helix-jobs/shared/helixapi"
	"github.com/cuongbtq/helix-jobs/shared/retry"
)

type fakeAPI struct {
	mu       sync.Mutex
	failures int
	requests []*helixapi.JobCreationRequest
	states   []string
	detailsN int
	canceled []string
}

func (f *fakeAPI) RetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 5, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}
}

func (f *fakeAPI) NewJob(_ context.Context, req *helixapi.JobCreationRequest) (*helixapi.JobCreationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("service unavailable")
	}
	return &helixapi.JobCreationResult{Name: "job-1", CancellationToken: "token-1"}, nil
}

func (f *fakeAPI) JobDetails(_ context.Context, jobName string) (*helixapi.JobDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state := helixapi.JobStateDispatched
	if f.detailsN < len(f.states) {
		state = f.states[f.detailsN]
	}
	f.detailsN++
	return &helixapi.JobDetails{Name: jobName, State: state}, nil
}

func (f *fakeAPI) CancelJob(_ context.Context, jobName, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, jobName+":"+token)
	return nil
}

func (f *fakeAPI) NewContainer(context.Context, *helixapi.ContainerCreationRequest) (*helixapi.ContainerInformation, error) {
	return nil, errors.New("container issuing is not used in tests")
}

func (f *fakeAPI) createCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// storeFunc adapts a function to blobstore.Store
type storeFunc func(ctx context.Context, name string) (blobstore.Container, error)

func (f storeFunc) GetContainer(ctx context.Context, name string) (blobstore.Container, error) {
	return f(ctx, name)
}

// hookedContainer lets tests slow down or fail individual uploads
type hookedContainer struct {
	blobstore.Container
	calls  atomic.Int32
	before func(call int) error
}

func (c *hookedContainer) hook() error {
	n := int(c.calls.Add(1))
	if c.before == nil {
		return nil
	}
	return c.before(n)
}

func (c *hookedContainer) UploadBytes(ctx context.Context, name string, data []byte) (string, error) {
	if err := c.hook(); err != nil {
		return "", err
	}
	return c.Container.UploadBytes(ctx, name, data)
}

func (c *hookedContainer) UploadStream(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := c.hook(); err != nil {
		return "", err
	}
	return c.Container.UploadStream(ctx, name, r)
}

func newMemStore(t *testing.T) *blobstore.BucketStore {
	t.Helper()
	store, err := blobstore.OpenBucketStore("mem://")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func memStoreOption(store blobstore.Store) Option {
	return WithStoreFactory(func(string, blobstore.ContainerIssuer) (blobstore.Store, error) {
		return store, nil
	})
}

func writeFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
}

// zipEntries returns name -> content for every file in a zip archive
func zipEntries(t *testing.T, data []byte) map[string]string {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = string(content)
	}
	return out
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type logRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *logRecorder) log(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}
