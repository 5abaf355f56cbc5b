package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/helix-jobs/internal/api/storage"
)

func TestJobCursor(t *testing.T) {
	cursor := &storage.JobCursor{
		CreatedAt: time.Date(2026, 10, 18, 9, 30, 0, 123456789, time.UTC),
		JobID:     "5f0c3c4e-3b0f-4a39-9b1a-2f5d9f1c2e11",
	}

	encoded := EncodeJobCursor(cursor)
	assert.NotContains(t, encoded, "=")

	decoded, err := DecodeJobCursor(encoded)
	require.NoError(t, err)
	assert.True(t, cursor.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, cursor.JobID, decoded.JobID)
}

func TestDecodeJobCursor_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{name: "not base64", cursor: "***"},
		{name: "no separator", cursor: base64.RawURLEncoding.EncodeToString([]byte("12345"))},
		{name: "empty id", cursor: base64.RawURLEncoding.EncodeToString([]byte("12345|"))},
		{name: "bad timestamp", cursor: base64.RawURLEncoding.EncodeToString([]byte("yesterday|abc"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJobCursor(tt.cursor)
			assert.Error(t, err)
		})
	}

	c, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, c)
}
