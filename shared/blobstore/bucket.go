package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
)

// BucketStore keeps one gocloud bucket per container, on local disk (file://<dir>)
// or in memory (mem://). No SAS tokens are involved, so blob URIs are only
// meaningful to a process that can open the same store.
type BucketStore struct {
	scheme string
	root   string

	mu      sync.Mutex
	buckets map[string]*blob.Bucket
}

// OpenBucketStore opens a store rooted at a file:// directory or in memory
func OpenBucketStore(storeURL string) (*BucketStore, error) {
	parsed, err := url.Parse(storeURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bucket url %s: %w", storeURL, err)
	}

	s := &BucketStore{
		scheme:  parsed.Scheme,
		buckets: make(map[string]*blob.Bucket),
	}

	switch parsed.Scheme {
	case "file":
		root := parsed.Path
		if root == "" {
			root = parsed.Host
		}
		if root == "" {
			return nil, errors.New("file bucket url needs a directory path")
		}
		s.root = filepath.Clean(root)
	case "mem":
	default:
		return nil, fmt.Errorf("unsupported bucket url %s", storeURL)
	}

	return s, nil
}

// GetContainer opens the bucket backing the named container, creating it on first use
func (s *BucketStore) GetContainer(_ context.Context, name string) (Container, error) {
	b, err := s.bucket(name)
	if err != nil {
		return nil, err
	}
	return &BucketContainer{bucket: b, uri: s.containerURI(name)}, nil
}

// ReadBlob reads a blob back through a URI previously returned by an upload
func (s *BucketStore) ReadBlob(ctx context.Context, uri string) ([]byte, error) {
	name, key, err := s.resolve(uri)
	if err != nil {
		return nil, err
	}

	b, err := s.bucket(name)
	if err != nil {
		return nil, err
	}

	data, err := b.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", uri, err)
	}
	return data, nil
}

// Close closes every bucket the store opened
func (s *BucketStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, b := range s.buckets {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close bucket %s: %w", name, err))
		}
		delete(s.buckets, name)
	}
	return errors.Join(errs...)
}

func (s *BucketStore) bucket(name string) (*blob.Bucket, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid container name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[name]; ok {
		return b, nil
	}

	var b *blob.Bucket
	switch s.scheme {
	case "file":
		var err error
		b, err = fileblob.OpenBucket(filepath.Join(s.root, name), &fileblob.Options{
			CreateDir: true,
			Metadata:  fileblob.MetadataDontWrite,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open file bucket %s: %w", name, err)
		}
	default:
		b = memblob.OpenBucket(nil)
	}

	s.buckets[name] = b
	return b, nil
}

func (s *BucketStore) containerURI(name string) string {
	if s.scheme == "file" {
		return "file://" + filepath.ToSlash(filepath.Join(s.root, name))
	}
	return "mem://" + name
}

// resolve splits a blob URI into container name and key
func (s *BucketStore) resolve(uri string) (string, string, error) {
	base := "mem://"
	if s.scheme == "file" {
		base = "file://" + filepath.ToSlash(s.root) + "/"
	}

	if i := strings.IndexByte(uri, '?'); i >= 0 {
		uri = uri[:i]
	}
	rest, ok := strings.CutPrefix(uri, base)
	if !ok {
		return "", "", fmt.Errorf("blob uri %s does not belong to this store", uri)
	}

	name, key, ok := strings.Cut(rest, "/")
	if !ok || name == "" || key == "" {
		return "", "", fmt.Errorf("blob uri %s has no container or key", uri)
	}
	return name, key, nil
}

// BucketContainer is a container backed by a gocloud bucket
type BucketContainer struct {
	bucket *blob.Bucket
	uri    string
}

func (c *BucketContainer) URI() string      { return c.uri }
func (c *BucketContainer) ReadSAS() string  { return "" }
func (c *BucketContainer) WriteSAS() string { return "" }

func (c *BucketContainer) UploadBytes(ctx context.Context, blobName string, data []byte) (string, error) {
	if err := c.bucket.WriteAll(ctx, blobName, data, &blob.WriterOptions{ContentType: contentType(blobName)}); err != nil {
		return "", fmt.Errorf("failed to upload blob %s: %w", blobName, err)
	}
	return c.uri + "/" + blobName, nil
}

func (c *BucketContainer) UploadText(ctx context.Context, blobName, text string) (string, error) {
	return c.UploadBytes(ctx, blobName, []byte(text))
}

func (c *BucketContainer) UploadStream(ctx context.Context, blobName string, r io.Reader) (string, error) {
	// canceling the writer's context before Close discards the partial blob
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := c.bucket.NewWriter(wctx, blobName, &blob.WriterOptions{ContentType: contentType(blobName)})
	if err != nil {
		return "", fmt.Errorf("failed to open writer for blob %s: %w", blobName, err)
	}

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("failed to upload blob %s: %w", blobName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to upload blob %s: %w", blobName, err)
	}
	return c.uri + "/" + blobName, nil
}
