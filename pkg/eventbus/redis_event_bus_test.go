package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/devicegroups/pkg/eventbus"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRedisEventBus_UnreachableServer(t *testing.T) {
	t.Parallel()

	bus := eventbus.NewRedisEventBus(unreachableRedis(), discardLogger())
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.Error(t, bus.Ping(ctx))
	assert.False(t, bus.IsConnected())
}

func TestRedisEventBus_CloseStopsHealthCheck(t *testing.T) {
	t.Parallel()

	bus := eventbus.NewRedisEventBus(unreachableRedis(), discardLogger())
	bus.StartHealthCheck(context.Background(), 50*time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- bus.Close() }()

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	assert.False(t, bus.IsConnected())
	require.ErrorIs(t, bus.Publish(context.Background(), "e", []byte("x")), eventbus.ErrClosed)
	require.ErrorIs(t, bus.Subscribe(context.Background(), "e", func(context.Context, []byte) error { return nil }), eventbus.ErrClosed)
}
