// Package blobstore stages job data into blob containers.
//
// A Store hands out Containers by name. Two Azure strategies exist: one
// signs its own SAS tokens from a storage connection string, the other asks
// the job API for a container and pre-issued tokens. A third, bucket-backed
// strategy (file:// or mem://) serves local runs and tests.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cuongbtq/helix-jobs/shared/helixapi"
)

// DefaultSASValidity is how long SAS tokens signed from a connection string stay valid
const DefaultSASValidity = 30 * 24 * time.Hour

// Store resolves containers by name, creating them when they don't exist
type Store interface {
	GetContainer(ctx context.Context, name string) (Container, error)
}

// Container is a blob container that jobs upload their inputs to.
// Upload methods return a URI the remote executor can read the blob from.
// Implementations must be safe for concurrent uploads of distinct blobs.
type Container interface {
	URI() string
	ReadSAS() string
	WriteSAS() string
	UploadBytes(ctx context.Context, blobName string, data []byte) (string, error)
	UploadText(ctx context.Context, blobName, text string) (string, error)
	UploadStream(ctx context.Context, blobName string, r io.Reader) (string, error)
}

// ContainerIssuer hands out containers with pre-signed tokens. The job API client implements it.
type ContainerIssuer interface {
	NewContainer(ctx context.Context, req *helixapi.ContainerCreationRequest) (*helixapi.ContainerInformation, error)
}

// NewStore picks the storage strategy for a job: a connection string wins,
// otherwise containers are requested from the issuer.
func NewStore(connectionString string, issuer ContainerIssuer) (Store, error) {
	if connectionString == "" {
		if issuer == nil {
			return nil, errors.New("no storage connection string and no container issuer configured")
		}
		return NewAPIStore(issuer, DefaultContainerExpirationDays), nil
	}

	if IsBucketURL(connectionString) {
		return OpenBucketStore(connectionString)
	}

	store, err := NewConnectionStringStore(connectionString, DefaultSASValidity)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// IsBucketURL reports whether s addresses a local bucket store instead of an Azure account
func IsBucketURL(s string) bool {
	return strings.HasPrefix(s, "file://") || strings.HasPrefix(s, "mem://")
}

func contentType(blobName string) string {
	if ct := mime.TypeByExtension(path.Ext(blobName)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// splitSASURL separates a signed URL into its resource part and its SAS query
func splitSASURL(signed string) (string, string, error) {
	u, err := url.Parse(signed)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse signed url: %w", err)
	}
	query := u.RawQuery
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), query, nil
}

// withSAS appends a SAS query to a resource URI
func withSAS(resource, sas string) string {
	sas = strings.TrimPrefix(sas, "?")
	if sas == "" {
		return resource
	}
	return resource + "?" + sas
}
