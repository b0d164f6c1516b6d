package cmd_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/devicegroups/pkg/cmd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBus_GoChannel(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus, err := cmd.NewBus(context.Background(), cmd.ProviderGoChannel, cmd.BusSettings{}, logger)
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan []byte, 1)
	require.NoError(t, bus.Subscribe(ctx, "G52ES20Q_DeviceGroup", func(_ context.Context, payload []byte) error {
		received <- payload

		return nil
	}))
	require.NoError(t, bus.Publish(ctx, "G52ES20Q_DeviceGroup", []byte(`{"device_id":"d"}`)))

	select {
	case payload := <-received:
		assert.JSONEq(t, `{"device_id":"d"}`, string(payload))
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func TestNewBus_Unsupported(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := cmd.NewBus(context.Background(), "rabbitmq", cmd.BusSettings{}, logger)
	require.ErrorIs(t, err, cmd.ErrUnsupportedProvider)
}

func TestNewBus_RedisStartsDisconnected(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus, err := cmd.NewBus(context.Background(), cmd.ProviderRedis, cmd.BusSettings{
		RedisAddr:      "127.0.0.1:1",
		ConnectTimeout: 500 * time.Millisecond,
	}, logger)
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	assert.False(t, bus.IsConnected())
}
