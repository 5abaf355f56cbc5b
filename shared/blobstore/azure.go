package blobstore

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// AzureContainer uploads through an azblob container client. The client
// carries whatever credential the strategy obtained (shared key or SAS).
type AzureContainer struct {
	client    *container.Client
	uri       string
	readSAS   string
	writeSAS  string
	expiresAt time.Time
}

// URI returns the container URI without any SAS query
func (c *AzureContainer) URI() string { return c.uri }

// ReadSAS returns the read-only SAS token for the container
func (c *AzureContainer) ReadSAS() string { return c.readSAS }

// WriteSAS returns the read-write SAS token for the container
func (c *AzureContainer) WriteSAS() string { return c.writeSAS }

// ExpiresAt returns when the container's SAS tokens stop working
func (c *AzureContainer) ExpiresAt() time.Time { return c.expiresAt }

// AccountName returns the storage account hosting the container
func (c *AzureContainer) AccountName() string {
	u, err := url.Parse(c.uri)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	// emulator style: http://127.0.0.1:10000/<account>/<container>
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) > 1 {
			return parts[0]
		}
		return host
	}
	return host[:strings.IndexByte(host, '.')]
}

// Name returns the container name
func (c *AzureContainer) Name() string {
	u, err := url.Parse(c.uri)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	return parts[len(parts)-1]
}

// UploadBytes uploads data as a block blob
func (c *AzureContainer) UploadBytes(ctx context.Context, blobName string, data []byte) (string, error) {
	ct := contentType(blobName)
	_, err := c.client.NewBlockBlobClient(blobName).UploadBuffer(ctx, data, &blockblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &ct},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload blob %s: %w", blobName, err)
	}
	return c.blobURI(blobName)
}

// UploadText uploads text as a block blob
func (c *AzureContainer) UploadText(ctx context.Context, blobName, text string) (string, error) {
	return c.UploadBytes(ctx, blobName, []byte(text))
}

// UploadStream uploads everything read from r as a block blob
func (c *AzureContainer) UploadStream(ctx context.Context, blobName string, r io.Reader) (string, error) {
	ct := contentType(blobName)
	_, err := c.client.NewBlockBlobClient(blobName).UploadStream(ctx, r, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &ct},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload blob %s: %w", blobName, err)
	}
	return c.blobURI(blobName)
}

func (c *AzureContainer) blobURI(blobName string) (string, error) {
	resource, err := url.JoinPath(c.uri, blobName)
	if err != nil {
		return "", fmt.Errorf("failed to build uri for blob %s: %w", blobName, err)
	}
	return withSAS(resource, c.readSAS), nil
}
