package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandIsValid(t *testing.T) {
	for _, c := range Commands() {
		assert.True(t, c.IsValid(), string(c))
	}
	assert.False(t, Command("rm_rf").IsValid())
	assert.False(t, Command("").IsValid())
	assert.False(t, Command("TASK_LIST").IsValid(), "commands are case sensitive")
}

func TestNewCommandEnvelope(t *testing.T) {
	env := NewCommandEnvelope("uas", CommandTaskList, nil)

	assert.Equal(t, Version, env.Version)
	assert.Equal(t, "uas", env.Target)
	assert.Equal(t, CommandTaskList, env.Command)
	assert.NotEmpty(t, env.RequestID)
	assert.JSONEq(t, "{}", string(env.Payload))

	_, err := time.Parse(time.RFC3339, env.Timestamp)
	assert.NoError(t, err)
}

func TestNewCommandEnvelopeUniqueRequestIDs(t *testing.T) {
	a := NewCommandEnvelope("uas", CommandTaskList, nil)
	b := NewCommandEnvelope("uas", CommandTaskList, nil)
	assert.NotEqual(t, a.RequestID, b.RequestID)
}

func TestNewCommandEnvelopeKeepsPayload(t *testing.T) {
	payload := json.RawMessage(`{"task_id": "t-1"}`)
	env := NewCommandEnvelope("uac", CommandTaskDelete, payload)
	assert.JSONEq(t, `{"task_id": "t-1"}`, string(env.Payload))
}

func TestResponseEnvelopeIsError(t *testing.T) {
	ok := ResponseEnvelope{Result: json.RawMessage(`{"tasks":[]}`)}
	assert.False(t, ok.IsError())

	failed := ResponseEnvelope{Error: "task not found"}
	assert.True(t, failed.IsError())
}

func TestResponseEnvelopeWireShape(t *testing.T) {
	raw := `{
		"version": "v1",
		"source": "uas",
		"command": "task_list",
		"request_id": "req-1",
		"timestamp": "2024-01-01T00:00:00Z",
		"result": {"tasks": []}
	}`
	var resp ResponseEnvelope
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))

	assert.Equal(t, "v1", resp.Version)
	assert.Equal(t, "uas", resp.Source)
	assert.Equal(t, CommandTaskList, resp.Command)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.False(t, resp.IsError())
	assert.Zero(t, resp.ReceivedAt, "receipt time is stamped locally, never parsed")
}

func TestPacketRecordOmitsEmptySections(t *testing.T) {
	data, err := json.Marshal(PacketRecord{Channel: "uas", Timestamp: 1, ReceivedAt: 2})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.NotContains(t, out, "labels")
	assert.NotContains(t, out, "_envelope")
	assert.NotContains(t, out, "payload")
	assert.Contains(t, out, "_received_at")
}
