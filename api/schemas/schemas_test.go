package schemas_test

import (
	"reflect"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TestStructJSONTags pins the wire names the controller and UI depend on.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "Command",
			structRef: schemas.Command{},
			expectedTags: map[string]string{
				"ID":     "command_id",
				"Type":   "type",
				"Params": "params,omitempty",
			},
		},
		{
			name:      "Response",
			structRef: schemas.Response{},
			expectedTags: map[string]string{
				"CommandID": "command_id",
				"Success":   "success",
				"Result":    "result,omitempty",
				"Error":     "error,omitempty",
				"Kind":      "kind,omitempty",
				"Timestamp": "timestamp",
			},
		},
		{
			name:      "Task",
			structRef: schemas.Task{},
			expectedTags: map[string]string{
				"ID":         "id",
				"Type":       "type",
				"Status":     "status",
				"StartedAt":  "startedAt",
				"FinishedAt": "finishedAt,omitempty",
				"DurationMs": "durationMs,omitempty",
				"Error":      "error,omitempty",
			},
		},
		{
			name:      "ConnectionState",
			structRef: schemas.ConnectionState{},
			expectedTags: map[string]string{
				"Status":       "status",
				"Attempt":      "attempt",
				"LastError":    "lastError,omitempty",
				"URL":          "url,omitempty",
				"ConnectionID": "connectionId,omitempty",
				"UpdatedAt":    "updatedAt",
			},
		},
		{
			name:      "TabInfo",
			structRef: schemas.TabInfo{},
			expectedTags: map[string]string{
				"ID":     "tab_id",
				"URL":    "url",
				"Title":  "title",
				"Active": "active",
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			typ := reflect.TypeOf(tc.structRef)
			assert.Equal(t, len(tc.expectedTags), typ.NumField(), "unexpected field count on %s", tc.name)
			for fieldName, expected := range tc.expectedTags {
				field, ok := typ.FieldByName(fieldName)
				if assert.True(t, ok, "field %s not found", fieldName) {
					assert.Equal(t, expected, field.Tag.Get("json"), "json tag of %s.%s", tc.name, fieldName)
				}
			}
		})
	}
}

func TestResponses(t *testing.T) {
	t.Parallel()
	before := time.Now().UnixMilli()

	ok := schemas.NewSuccessResponse("c-1", map[string]interface{}{"clicked": true})
	assert.True(t, ok.Success)
	assert.Equal(t, "c-1", ok.CommandID)
	assert.GreaterOrEqual(t, ok.Timestamp, before)

	failed := schemas.NewErrorResponse("c-2", "ElementNotFound", "Element not found: #x")
	assert.False(t, failed.Success)
	assert.Nil(t, failed.Result)

	data, err := json.Marshal(failed)
	require.NoError(t, err)
	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "Element not found: #x", wire["error"])
	assert.Equal(t, "ElementNotFound", wire["kind"])
	assert.Equal(t, false, wire["success"])
	assert.NotContains(t, wire, "result")
}

func TestTaskStatusTerminal(t *testing.T) {
	t.Parallel()
	assert.False(t, schemas.TaskPending.Terminal())
	assert.False(t, schemas.TaskRunning.Terminal())
	assert.True(t, schemas.TaskSuccess.Terminal())
	assert.True(t, schemas.TaskFailed.Terminal())
	assert.True(t, schemas.TaskTimeout.Terminal())
}
