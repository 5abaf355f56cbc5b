package blobstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/helix-jobs/shared/helixapi"
)

// Azurite's well-known development account
const devConnectionString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;" +
	"AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;" +
	"BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"

type fakeIssuer struct {
	info *helixapi.ContainerInformation
	err  error
	got  *helixapi.ContainerCreationRequest
}

func (f *fakeIssuer) NewContainer(_ context.Context, req *helixapi.ContainerCreationRequest) (*helixapi.ContainerInformation, error) {
	f.got = req
	return f.info, f.err
}

func TestNewStore(t *testing.T) {
	issuer := &fakeIssuer{}

	t.Run("empty connection string uses the api", func(t *testing.T) {
		store, err := NewStore("", issuer)
		require.NoError(t, err)
		assert.IsType(t, &APIStore{}, store)
	})

	t.Run("empty connection string without issuer", func(t *testing.T) {
		_, err := NewStore("", nil)
		assert.Error(t, err)
	})

	t.Run("bucket url", func(t *testing.T) {
		store, err := NewStore("mem://", issuer)
		require.NoError(t, err)
		assert.IsType(t, &BucketStore{}, store)
	})

	t.Run("azure connection string", func(t *testing.T) {
		store, err := NewStore(devConnectionString, issuer)
		require.NoError(t, err)
		assert.IsType(t, &ConnectionStringStore{}, store)
	})

	t.Run("malformed connection string", func(t *testing.T) {
		_, err := NewStore("not-a-connection-string", issuer)
		assert.Error(t, err)
	})
}

func TestAPIStore_GetContainer(t *testing.T) {
	expires := time.Date(2026, 11, 17, 0, 0, 0, 0, time.UTC)
	issuer := &fakeIssuer{info: &helixapi.ContainerInformation{
		StorageAccountName: "acct",
		ContainerName:      "helix-job-1",
		ContainerUri:       "https://acct.blob.core.windows.net/helix-job-1",
		ReadToken:          "?sv=2021&sp=rl&sig=r",
		WriteToken:         "sv=2021&sp=racwl&sig=w",
		ExpiresAt:          expires,
	}}

	store := NewAPIStore(issuer, 0)
	c, err := store.GetContainer(context.Background(), "helix-job-1")
	require.NoError(t, err)

	require.NotNil(t, issuer.got)
	assert.Equal(t, "helix-job-1", issuer.got.ContainerName)
	assert.Equal(t, DefaultContainerExpirationDays, issuer.got.ExpirationInDays)

	assert.Equal(t, "https://acct.blob.core.windows.net/helix-job-1", c.URI())
	assert.Equal(t, "sv=2021&sp=rl&sig=r", c.ReadSAS())
	assert.Equal(t, "sv=2021&sp=racwl&sig=w", c.WriteSAS())

	azure, ok := c.(*AzureContainer)
	require.True(t, ok)
	assert.Equal(t, expires, azure.ExpiresAt())
	assert.Equal(t, "acct", azure.AccountName())
	assert.Equal(t, "helix-job-1", azure.Name())

	uri, err := azure.blobURI("abc.zip")
	require.NoError(t, err)
	assert.Equal(t, "https://acct.blob.core.windows.net/helix-job-1/abc.zip?sv=2021&sp=rl&sig=r", uri)
}

func TestAPIStore_GetContainerErrors(t *testing.T) {
	t.Run("issuer failure", func(t *testing.T) {
		store := NewAPIStore(&fakeIssuer{err: errors.New("boom")}, 7)
		_, err := store.GetContainer(context.Background(), "c")
		assert.ErrorContains(t, err, "boom")
	})

	t.Run("missing write token", func(t *testing.T) {
		store := NewAPIStore(&fakeIssuer{info: &helixapi.ContainerInformation{ContainerUri: "https://a.blob.core.windows.net/c"}}, 7)
		_, err := store.GetContainer(context.Background(), "c")
		assert.Error(t, err)
	})
}

func TestAzureContainer_AccountName(t *testing.T) {
	tests := []struct {
		uri         string
		wantAccount string
		wantName    string
	}{
		{uri: "https://acct.blob.core.windows.net/c1", wantAccount: "acct", wantName: "c1"},
		{uri: "http://127.0.0.1:10000/devstoreaccount1/c2", wantAccount: "devstoreaccount1", wantName: "c2"},
		{uri: "http://localhost:10000/devstoreaccount1/c3", wantAccount: "devstoreaccount1", wantName: "c3"},
		{uri: "http://[::1]:10000/devstoreaccount1/c4", wantAccount: "devstoreaccount1", wantName: "c4"},
		{uri: "https://acct.blob.core.windows.net/", wantAccount: "acct", wantName: ""},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			c := &AzureContainer{uri: tt.uri}
			assert.Equal(t, tt.wantAccount, c.AccountName())
			assert.Equal(t, tt.wantName, c.Name())
		})
	}
}

func TestSplitSASURL(t *testing.T) {
	resource, query, err := splitSASURL("https://acct.blob.core.windows.net/c?sv=1&sig=abc%2B")
	require.NoError(t, err)
	assert.Equal(t, "https://acct.blob.core.windows.net/c", resource)
	assert.Equal(t, "sv=1&sig=abc%2B", query)
}

func TestWithSAS(t *testing.T) {
	assert.Equal(t, "https://a/c/b?sig=1", withSAS("https://a/c/b", "sig=1"))
	assert.Equal(t, "https://a/c/b?sig=1", withSAS("https://a/c/b", "?sig=1"))
	assert.Equal(t, "https://a/c/b", withSAS("https://a/c/b", ""))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType("job-list-1.json"))
	assert.Equal(t, "application/octet-stream", contentType("payload.unknownext"))
}
