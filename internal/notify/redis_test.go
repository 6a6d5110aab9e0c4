package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSink_Publishes(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	rdb, err := NewRedisClient(ctx, RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer rdb.Close()

	sub := rdb.Subscribe(ctx, "arbwatch:alerts")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	sink := NewRedisSink(rdb, "arbwatch:alerts")
	require.NoError(t, sink.Deliver(ctx, testAlert()))
	assert.Equal(t, "redis", sink.Name())

	select {
	case msg := <-sub.Channel():
		var p Payload
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &p))
		assert.Equal(t, "a-1", p.AlertID)
		assert.Equal(t, EventType, p.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), RedisConfig{Addr: addr})
	assert.Error(t, err)
}

func TestRedisSink_PublishFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	rdb, err := NewRedisClient(ctx, RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer rdb.Close()

	mr.SetError("server down")
	err = NewRedisSink(rdb, "arbwatch:alerts").Deliver(ctx, testAlert())
	assert.ErrorContains(t, err, "publish arbwatch:alerts")
}
