package redis

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/overwasher/sensor-node/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { Close(client) })
	return mr, client
}

func TestPing(t *testing.T) {
	mr, client := newTestClient(t)
	require.NoError(t, Ping(context.Background(), client))

	mr.Close()
	assert.Error(t, Ping(context.Background(), client))
}

func TestPublishToStream_FieldTypes(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	_, err := PublishToStream(ctx, client, "s", 10, map[string]interface{}{
		"raw":   []byte{0x00, 0xff},
		"count": 3,
		"ok":    true,
		"doc":   map[string]string{"state": "active"},
	})
	require.NoError(t, err)

	msgs, err := client.XRange(ctx, "s", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, string([]byte{0x00, 0xff}), msgs[0].Values["raw"])
	assert.Equal(t, "3", msgs[0].Values["count"])
	assert.Equal(t, "true", msgs[0].Values["ok"])
	assert.JSONEq(t, `{"state":"active"}`, msgs[0].Values["doc"].(string))
}

func TestPublishJSONToStream(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	id, err := PublishJSONToStream(ctx, client, "events", 0, map[string]int{"metric": 42})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := client.XRange(ctx, "events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var got map[string]int
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &got))
	assert.Equal(t, 42, got["metric"])
	assert.NotEmpty(t, msgs[0].Values["timestamp"])
}
