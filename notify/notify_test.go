package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelName(t *testing.T) {
	assert.Equal(t, "task:abc-123:progress", Channel("abc-123"))
}

func TestProgressUpdateJSONKeys(t *testing.T) {
	payload, err := json.Marshal(ProgressUpdate{
		TaskID:  "t1",
		Status:  "processing",
		Message: "Loading AI model...",
		Percent: 20,
	})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "t1", decoded["task_id"])
	assert.Equal(t, "processing", decoded["status"])
	assert.Equal(t, "Loading AI model...", decoded["message"])
	assert.Equal(t, float64(20), decoded["percent"])
}

func TestMemoryNotifierDropsWhenFull(t *testing.T) {
	n := NewMemoryNotifier(2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, n.Publish(ctx, ProgressUpdate{TaskID: "t", Percent: i}))
	}

	updates := n.Drain()
	require.Len(t, updates, 2, "overflow is dropped, publish never blocks")
	assert.Equal(t, 0, updates[0].Percent)
	assert.Equal(t, 1, updates[1].Percent)
}
