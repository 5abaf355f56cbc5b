package worker

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"gocloud.dev/gcerrors"

	"github.com/cuongbtq/helix-jobs/internal/worker/domain"
	"github.com/cuongbtq/helix-jobs/shared/blobstore"
)

// BlobManifestFetcher reads manifests from Azure blob URIs carrying a SAS token,
// or from a local bucket store for file:// and mem:// URIs.
type BlobManifestFetcher struct {
	buckets *blobstore.BucketStore
}

// NewManifestFetcher creates a fetcher. buckets may be nil when only Azure URIs are expected.
func NewManifestFetcher(buckets *blobstore.BucketStore) *BlobManifestFetcher {
	return &BlobManifestFetcher{buckets: buckets}
}

// Fetch downloads the manifest. Missing or unreadable blobs wrap ErrManifestNotFound,
// other failures are retryable.
func (f *BlobManifestFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if blobstore.IsBucketURL(uri) {
		return f.fetchBucket(ctx, uri)
	}

	u, err := url.Parse(uri)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return nil, fmt.Errorf("%w: unsupported manifest uri %q", domain.ErrManifestNotFound, uri)
	}

	client, err := blob.NewClientWithNoCredential(uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create blob client: %v", domain.ErrManifestNotFound, err)
	}

	resp, err := client.DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err,
			bloberror.BlobNotFound,
			bloberror.ContainerNotFound,
			bloberror.AuthenticationFailed,
			bloberror.AuthorizationFailure,
		) {
			return nil, fmt.Errorf("%w: %v", domain.ErrManifestNotFound, err)
		}
		return nil, domain.NewRetryableError(fmt.Errorf("failed to download manifest: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewRetryableError(fmt.Errorf("failed to read manifest: %w", err))
	}
	return data, nil
}

func (f *BlobManifestFetcher) fetchBucket(ctx context.Context, uri string) ([]byte, error) {
	if f.buckets == nil {
		return nil, fmt.Errorf("%w: no bucket store configured for %s", domain.ErrManifestNotFound, uri)
	}

	data, err := f.buckets.ReadBlob(ctx, uri)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %v", domain.ErrManifestNotFound, err)
		}
		return nil, domain.NewRetryableError(err)
	}
	return data, nil
}
