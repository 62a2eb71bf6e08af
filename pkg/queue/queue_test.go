package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trainPayload struct {
	Version string `json:"version"`
	Seed    uint64 `json:"seed"`
}

func TestParsePayloadShapes(t *testing.T) {
	want := trainPayload{Version: "v2", Seed: 7}

	got, err := ParsePayload[trainPayload](json.RawMessage(`{"version":"v2","seed":7}`))
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	got, err = ParsePayload[trainPayload](map[string]interface{}{"version": "v2", "seed": 7})
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	got, err = ParsePayload[trainPayload](want)
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	_, err = ParsePayload[trainPayload](42)
	assert.Error(t, err)
}

func TestMessageSurvivesJSON(t *testing.T) {
	in := Message{ID: "id", Type: "train", Payload: trainPayload{Version: "v1"}}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out Message
	require.NoError(t, json.Unmarshal(b, &out))
	p, err := ParsePayload[trainPayload](out.Payload)
	require.NoError(t, err)
	assert.Equal(t, "v1", p.Version)
}

func TestParsePayloadBytes(t *testing.T) {
	got, err := ParsePayload[trainPayload]([]byte(`{"version":"v3"}`))
	require.NoError(t, err)
	assert.Equal(t, "v3", got.Version)

	_, err = ParsePayload[trainPayload](json.RawMessage(`{"version":`))
	assert.Error(t, err)
}

func TestQueueConfigDefaults(t *testing.T) {
	c := QueueConfig{RetryLimit: -3}.withDefaults()
	assert.Equal(t, 1, c.Workers)
	assert.Equal(t, 0, c.RetryLimit)
	assert.Equal(t, 10*time.Second, c.RetryDelay)
	assert.Equal(t, 5*time.Second, c.RetryTick)
	assert.Equal(t, time.Second, c.PollWait)
}

func TestRawPayloadWrapsObjects(t *testing.T) {
	p := rawPayload(map[string]interface{}{"version": "v1"})
	_, ok := p.(json.RawMessage)
	assert.True(t, ok)
	assert.Equal(t, "plain", rawPayload("plain"))
}

func TestEnqueueRequiresRunningQueue(t *testing.T) {
	q := NewRedisQueue(nil, QueueConfig{}, nil)
	_, err := q.Enqueue(context.Background(), "train", trainPayload{})
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, "omni:queue:messages", q.key("messages"))
	assert.NoError(t, q.Stop(context.Background()))
}
