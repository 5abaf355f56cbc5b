package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/cuongbtq/helix-jobs/shared/helixapi"
)

// DefaultContainerExpirationDays is the container lifetime requested from the job API
const DefaultContainerExpirationDays = 30

// APIStore obtains containers and their SAS tokens from the job API. The
// API decides scope and lifetime of the tokens.
type APIStore struct {
	issuer         ContainerIssuer
	expirationDays int
}

// NewAPIStore creates a store backed by a container issuer
func NewAPIStore(issuer ContainerIssuer, expirationDays int) *APIStore {
	if expirationDays <= 0 {
		expirationDays = DefaultContainerExpirationDays
	}
	return &APIStore{
		issuer:         issuer,
		expirationDays: expirationDays,
	}
}

// GetContainer asks the issuer for the named container
func (s *APIStore) GetContainer(ctx context.Context, name string) (Container, error) {
	info, err := s.issuer.NewContainer(ctx, &helixapi.ContainerCreationRequest{
		ContainerName:    name,
		ExpirationInDays: s.expirationDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to obtain container %s from job api: %w", name, err)
	}

	if info.ContainerUri == "" || info.WriteToken == "" {
		return nil, errors.New("job api returned a container without uri or write token")
	}

	uri, _, err := splitSASURL(info.ContainerUri)
	if err != nil {
		return nil, err
	}

	client, err := container.NewClientWithNoCredential(withSAS(uri, info.WriteToken), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create container client: %w", err)
	}

	return &AzureContainer{
		client:    client,
		uri:       uri,
		readSAS:   strings.TrimPrefix(info.ReadToken, "?"),
		writeSAS:  strings.TrimPrefix(info.WriteToken, "?"),
		expiresAt: info.ExpiresAt,
	}, nil
}
