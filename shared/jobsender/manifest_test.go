package jobsender

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestManifest_RoundTrip(t *testing.T) {
	entries := []JobListEntry{
		{
			Command:                "run.sh --filter unit",
			CorrelationPayloadURIs: []string{"https://a/c/1.zip?sig=r", "https://a/c/2.zip?sig=r"},
			PayloadURI:             strPtr("https://a/c/wi1.zip?sig=r"),
			WorkItemID:             "wi1",
			TimeoutInSeconds:       300,
			SecondaryQueues:        []SecondaryQueueInfo{{QueueID: "windows.10", SasValidHours: SecondaryQueueSasValidHours}},
		},
		{
			Command:                "echo hi",
			CorrelationPayloadURIs: []string{},
			WorkItemID:             "wi2",
			TimeoutInSeconds:       60,
			SecondaryQueues:        []SecondaryQueueInfo{},
		},
	}

	data, err := MarshalManifest(entries)
	require.NoError(t, err)

	parsed, err := ParseManifest(data)
	require.NoError(t, err)
	assert.Equal(t, entries, parsed)
}

func TestManifest_WireShape(t *testing.T) {
	data, err := MarshalManifest([]JobListEntry{{
		Command:          "cmd",
		WorkItemID:       "wi",
		TimeoutInSeconds: 5,
	}})
	require.NoError(t, err)

	assert.JSONEq(t, `[{
		"Command": "cmd",
		"CorrelationPayloadUris": [],
		"PayloadUri": null,
		"WorkItemId": "wi",
		"TimeoutInSeconds": 5,
		"SecondaryQueues": []
	}]`, string(data))

	var raw []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)
	assert.Len(t, raw[0], 6)
}

func TestManifest_SecondaryQueueShape(t *testing.T) {
	data, err := MarshalManifest([]JobListEntry{{
		Command:         "cmd",
		WorkItemID:      "wi",
		SecondaryQueues: []SecondaryQueueInfo{{QueueID: "q2", SasValidHours: 24}},
	}})
	require.NoError(t, err)

	var raw []struct {
		SecondaryQueues []map[string]any
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, []map[string]any{{"QueueId": "q2", "SasValidHours": float64(24)}}, raw[0].SecondaryQueues)
}

func TestManifest_Empty(t *testing.T) {
	data, err := MarshalManifest(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestParseManifest_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `{`},
		{name: "object instead of array", data: `{"Command":"x"}`},
		{name: "missing work item id", data: `[{"Command":"x"}]`},
		{name: "duplicate work item", data: `[{"Command":"x","WorkItemId":"a"},{"Command":"y","WorkItemId":"a"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}
