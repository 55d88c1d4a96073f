package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip mimics what the store does when it scans a row: the typed
// payload is marshaled to JSON then unmarshaled back into an any, which
// decodes as map[string]any rather than the original struct.
func roundTrip(t *testing.T, data any) any {
	t.Helper()

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var out any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestEvent_Rehydrate_RestoresTypedPayload(t *testing.T) {
	t.Parallel()

	e := &Event{
		Category: CategoryGit,
		Data: roundTrip(t, &GitPayload{
			Action: GitActionCommit,
			Hash:   "abc123",
			Stats:  &GitStats{Adds: 10, Dels: 2, Files: 1},
		}),
	}

	require.NoError(t, e.Rehydrate())

	payload, ok := e.Data.(*GitPayload)
	require.True(t, ok, "expected *GitPayload, got %T", e.Data)
	assert.Equal(t, GitActionCommit, payload.Action)
	assert.Equal(t, "abc123", payload.Hash)
	assert.Equal(t, 10, payload.Stats.Adds)
}

func TestEvent_Rehydrate_EachCategory(t *testing.T) {
	t.Parallel()

	cases := []struct {
		category Category
		data     any
		want     any
	}{
		{CategoryFile, &FilePayload{Action: FileActionAdd, Extension: ".go"}, &FilePayload{}},
		{CategoryTest, &RunPayload{Status: RunStatusPassed}, &RunPayload{}},
		{CategoryBuild, &RunPayload{Status: RunStatusFailed}, &RunPayload{}},
		{CategoryAI, &AIPayload{Tool: "assistant"}, &AIPayload{}},
		{CategoryStage, &StagePayload{ToStage: "coding"}, &StagePayload{}},
	}

	for _, tc := range cases {
		e := &Event{Category: tc.category, Data: roundTrip(t, tc.data)}
		require.NoError(t, e.Rehydrate())
		assert.IsType(t, tc.want, e.Data)
	}
}

func TestEvent_Rehydrate_UnknownCategoryLeftAsIs(t *testing.T) {
	t.Parallel()

	raw := roundTrip(t, map[string]string{"foo": "bar"})
	e := &Event{Category: CategorySystem, Data: raw}

	require.NoError(t, e.Rehydrate())
	assert.Equal(t, raw, e.Data)
}

func TestEvent_Rehydrate_AlreadyTypedIsNoop(t *testing.T) {
	t.Parallel()

	payload := &FilePayload{Action: FileActionModify}
	e := &Event{Category: CategoryFile, Data: payload}

	require.NoError(t, e.Rehydrate())
	assert.Same(t, payload, e.Data)
}
