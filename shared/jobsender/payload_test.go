package jobsender

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_URIIsNoop(t *testing.T) {
	hooked := &hookedContainer{}

	uri, err := URIPayload("https://example.com/data.zip").Upload(context.Background(), afero.NewMemMapFs(), hooked, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/data.zip", uri)
	assert.Zero(t, hooked.calls.Load())
}

func TestPayload_Directory(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/src/tests/a.txt":       "a",
		"/src/tests/sub/b.txt":   "b",
		"/src/tests/sub/c/d.txt": "d",
	})

	store := newMemStore(t)
	c, err := store.GetContainer(ctx, "c")
	require.NoError(t, err)

	tests := []struct {
		name   string
		prefix string
		want   []string
	}{
		{name: "no prefix", want: []string{"a.txt", "sub/b.txt", "sub/c/d.txt"}},
		{name: "with prefix", prefix: "tests", want: []string{"tests/a.txt", "tests/sub/b.txt", "tests/sub/c/d.txt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec logRecorder
			uri, err := DirectoryPayload("/src/tests", tt.prefix).Upload(ctx, fs, c, rec.log)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(uri, "mem://c/"))
			assert.True(t, strings.HasSuffix(uri, ".zip"))
			assert.Len(t, rec.msgs, 1)

			data, err := store.ReadBlob(ctx, uri)
			require.NoError(t, err)
			entries := zipEntries(t, data)
			assert.Equal(t, tt.want, keys(entries))
		})
	}
}

func TestPayload_Files(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/a/one.dll": "1",
		"/b/two.pdb": "2",
	})

	store := newMemStore(t)
	c, err := store.GetContainer(ctx, "c")
	require.NoError(t, err)

	uri, err := FilesPayload("/a/one.dll", "/b/two.pdb").Upload(ctx, fs, c, nil)
	require.NoError(t, err)

	data, err := store.ReadBlob(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"one.dll": "1", "two.pdb": "2"}, zipEntries(t, data))
}

func TestPayload_Archive(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"/drop/bundle.zip": "raw-archive-bytes"})

	store := newMemStore(t)
	c, err := store.GetContainer(ctx, "c")
	require.NoError(t, err)

	uri, err := ArchivePayload("/drop/bundle.zip").Upload(ctx, fs, c, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(uri, "/bundle.zip"))

	data, err := store.ReadBlob(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, "raw-archive-bytes", string(data))
}

func TestPayload_DistinctBlobNames(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"/d/x.txt": "x", "/drop/a.zip": "a"})

	store := newMemStore(t)
	c, err := store.GetContainer(ctx, "c")
	require.NoError(t, err)

	for _, p := range []Payload{DirectoryPayload("/d", ""), FilesPayload("/d/x.txt"), ArchivePayload("/drop/a.zip")} {
		first, err := p.Upload(ctx, fs, c, nil)
		require.NoError(t, err)
		second, err := p.Upload(ctx, fs, c, nil)
		require.NoError(t, err)
		assert.NotEqual(t, first, second, p.Kind().String())
	}
}

func TestPayload_Empty(t *testing.T) {
	var p Payload
	assert.True(t, p.IsZero())
	assert.Equal(t, KindNone, p.Kind())

	_, err := p.Upload(context.Background(), afero.NewMemMapFs(), &hookedContainer{}, nil)
	assert.Error(t, err)
}

func TestPayload_CheckLocal(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"/d/x.txt": "x"})

	tests := []struct {
		name     string
		payload  Payload
		wantErrs int
	}{
		{name: "uri", payload: URIPayload("https://x")},
		{name: "empty uri", payload: URIPayload(""), wantErrs: 1},
		{name: "directory", payload: DirectoryPayload("/d", "")},
		{name: "missing directory", payload: DirectoryPayload("/nope", ""), wantErrs: 1},
		{name: "file as directory", payload: DirectoryPayload("/d/x.txt", ""), wantErrs: 1},
		{name: "files", payload: FilesPayload("/d/x.txt")},
		{name: "no files", payload: FilesPayload(), wantErrs: 1},
		{name: "two missing files", payload: FilesPayload("/a", "/d/x.txt", "/b"), wantErrs: 2},
		{name: "archive is a directory", payload: ArchivePayload("/d"), wantErrs: 1},
		{name: "empty payload", payload: Payload{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, tt.payload.checkLocal(fs), tt.wantErrs)
		})
	}
}
