package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent_Progress(t *testing.T) {
	ev, err := DecodeEvent(EventTypeProgress, []byte(`{"documentId":"doc1","status":"RUNNING","phase":"WAIT","progress":40}`))
	require.NoError(t, err)

	update, ok := ev.(ProgressUpdate)
	require.True(t, ok, "expected ProgressUpdate, got %T", ev)
	assert.Equal(t, "doc1", update.DocID())
	assert.Equal(t, 40, update.Progress)

	msg := update.Message()
	assert.Equal(t, MessageProgressUpdate, msg.Type)
	assert.Equal(t, StatusRunning, msg.Status)
	require.NotNil(t, msg.Progress)
	assert.Equal(t, 40, *msg.Progress)
}

func TestMessage_ProgressKey(t *testing.T) {
	raw, err := json.Marshal(ProgressUpdate{DocumentID: "doc1", Status: StatusRunning, Progress: 0}.Message())
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Contains(t, fields, "progress", "zero progress is still sent")
	assert.Equal(t, float64(0), fields["progress"])

	raw, err = json.Marshal(Failure{DocumentID: "doc1", Error: "boom"}.Message())
	require.NoError(t, err)
	fields = map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.NotContains(t, fields, "progress")
	assert.Equal(t, "boom", fields["error"])
}

func TestDecodeEvent_Failure(t *testing.T) {
	ev, err := DecodeEvent(EventTypeFailure, []byte(`{"documentId":"doc1","error":"boom"}`))
	require.NoError(t, err)

	msg := ev.Message()
	assert.Nil(t, msg.Progress)
	assert.Equal(t, MessageFailure, msg.Type)
	assert.Equal(t, StatusFailed, msg.Status)
	assert.Equal(t, "boom", msg.Error)
}

func TestDecodeEvent_Rejects(t *testing.T) {
	_, err := DecodeEvent("something.else", []byte(`{}`))
	assert.Error(t, err)

	_, err = DecodeEvent(EventTypeProgress, []byte(`{"progress":10}`))
	assert.Error(t, err, "documentId is required")

	_, err = DecodeEvent(EventTypeFailure, []byte(`not json`))
	assert.Error(t, err)
}

func TestPlanClone_IsIndependent(t *testing.T) {
	p := Plan{
		WorkBatches: []WorkBatch{{BatchIndex: 0, Workers: []WorkRange{{Start: 0, End: 10}}}},
	}
	c := p.Clone()
	c.WorkBatches[0].Workers[0].End = 99

	assert.Equal(t, 10, p.WorkBatches[0].Workers[0].End)
	assert.Equal(t, "chunk-0-10", p.WorkBatches[0].Workers[0].ChunkID())
}

func TestPlanJSON_WaitUntil(t *testing.T) {
	at := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	raw, err := json.Marshal(Plan{DocumentID: "doc1", Phase: PhaseWait, WaitUntil: at})
	require.NoError(t, err)

	var back Plan
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, at, back.WaitUntil)

	raw, err = json.Marshal(Plan{DocumentID: "doc1"})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"waitUntil":"0001-01-01T00:00:00Z"`)
}
