package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeedsAttention(t *testing.T) {
	cases := []struct {
		name string
		view InstanceToSolve
		want bool
	}{
		{"never engaged", InstanceToSolve{}, false},
		{"engaged, nothing new", InstanceToSolve{StartedSolving: true}, true},
		{"engaged, pr feedback", InstanceToSolve{StartedSolving: true, PRComments: "DIFF"}, false},
		{"engaged, chat", InstanceToSolve{StartedSolving: true, MessagesWithRequester: "requester: hi"}, false},
		{"not engaged, chat", InstanceToSolve{MessagesWithRequester: "requester: hi"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.view.NeedsAttention())
		})
	}
}

func TestTimestampLayouts(t *testing.T) {
	var msgs []ChatMessage
	raw := `[
		{"sender":"requester","message":"a","timestamp":"2024-05-01T10:00:00Z"},
		{"sender":"provider","message":"b","timestamp":"2024-05-01T10:00:01.123456"},
		{"sender":"provider","message":"c","timestamp":""}
	]`
	require.NoError(t, json.Unmarshal([]byte(raw), &msgs))
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), msgs[0].Timestamp.Time)
	assert.True(t, msgs[1].Timestamp.After(msgs[0].Timestamp.Time))
	assert.True(t, msgs[2].Timestamp.IsZero())

	var bad ChatMessage
	assert.Error(t, json.Unmarshal([]byte(`{"timestamp":"yesterday"}`), &bad))
}

func TestAttemptStateTerminal(t *testing.T) {
	assert.False(t, StatePending.IsTerminal())
	assert.False(t, StateContainerRunning.IsTerminal())
	assert.False(t, StateSucceeded.IsTerminal())
	assert.True(t, StateClosedNoOp.IsTerminal())
	assert.True(t, StateSkipped.IsTerminal())
	assert.True(t, StateTimedOut.IsTerminal())
}
