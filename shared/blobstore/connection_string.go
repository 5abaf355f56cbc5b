package blobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/cuongbtq/helix-jobs/shared/helixapi"
)

// ConnectionStringStore talks to a storage account with full credentials
// and signs container SAS tokens itself so the remote executor can reach the data.
type ConnectionStringStore struct {
	client   *azblob.Client
	validity time.Duration
}

// NewConnectionStringStore creates a store from an Azure storage connection string.
// The connection string must carry an account key for SAS signing to work.
func NewConnectionStringStore(connectionString string, validity time.Duration) (*ConnectionStringStore, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client from connection string: %w", err)
	}

	if validity <= 0 {
		validity = DefaultSASValidity
	}

	return &ConnectionStringStore{
		client:   client,
		validity: validity,
	}, nil
}

// GetContainer creates the container if needed and signs tokens with the store's validity
func (s *ConnectionStringStore) GetContainer(ctx context.Context, name string) (Container, error) {
	c, err := s.ContainerWithValidity(ctx, name, s.validity)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ContainerWithValidity creates the container if needed and signs read and
// write tokens that expire after validity.
func (s *ConnectionStringStore) ContainerWithValidity(ctx context.Context, name string, validity time.Duration) (*AzureContainer, error) {
	containerClient := s.client.ServiceClient().NewContainerClient(name)

	if _, err := containerClient.Create(ctx, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, fmt.Errorf("failed to create container %s: %w", name, err)
	}

	startsOn := time.Now().Add(-5 * time.Minute)
	expiresOn := time.Now().Add(validity)

	readURL, err := containerClient.GetSASURL(sas.ContainerPermissions{
		Read: true,
		List: true,
	}, expiresOn, &container.GetSASURLOptions{StartTime: &startsOn})
	if err != nil {
		return nil, fmt.Errorf("failed to generate read SAS for container %s: %w", name, err)
	}

	writeURL, err := containerClient.GetSASURL(sas.ContainerPermissions{
		Read:   true,
		Add:    true,
		Create: true,
		Write:  true,
		List:   true,
	}, expiresOn, &container.GetSASURLOptions{StartTime: &startsOn})
	if err != nil {
		return nil, fmt.Errorf("failed to generate write SAS for container %s: %w", name, err)
	}

	uri, readSAS, err := splitSASURL(readURL)
	if err != nil {
		return nil, err
	}
	_, writeSAS, err := splitSASURL(writeURL)
	if err != nil {
		return nil, err
	}

	return &AzureContainer{
		client:    containerClient,
		uri:       uri,
		readSAS:   readSAS,
		writeSAS:  writeSAS,
		expiresAt: expiresOn,
	}, nil
}

// IssueContainer prepares a container for a remote sender and describes it
// the way the job API hands containers out.
func (s *ConnectionStringStore) IssueContainer(ctx context.Context, name string, validity time.Duration) (*helixapi.ContainerInformation, error) {
	c, err := s.ContainerWithValidity(ctx, name, validity)
	if err != nil {
		return nil, err
	}

	return &helixapi.ContainerInformation{
		StorageAccountName: c.AccountName(),
		ContainerName:      c.Name(),
		ContainerUri:       c.URI(),
		ReadToken:          c.ReadSAS(),
		WriteToken:         c.WriteSAS(),
		ExpiresAt:          c.ExpiresAt(),
	}, nil
}
