//go:build integration
// +build integration

package kafka_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/devicegroups/pkg/channels/kafka"
	"github.com/dukex/devicegroups/pkg/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func setupKafkaContainer(t *testing.T) []string {
	t.Helper()

	ctx := context.Background()

	container, err := tckafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("test-cluster"),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, testcontainers.TerminateContainer(container))
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	return brokers
}

func createTopic(t *testing.T, brokers []string, topic string) {
	t.Helper()

	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0

	admin, err := sarama.NewClusterAdmin(brokers, config)
	require.NoError(t, err)
	defer admin.Close()

	err = admin.CreateTopic(topic, &sarama.TopicDetail{NumPartitions: 1, ReplicationFactor: 1}, false)
	require.NoError(t, err)
}

func TestCreateChannel_DeliversOverKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Kafka integration test in short mode")
	}

	brokers := setupKafkaContainer(t)
	topic := "device-1/hook-response/G52ES20Q_DeviceGroup"
	createTopic(t, brokers, eventbus.KafkaTopic(topic))

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), brokers, "device-1")
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub,
		eventbus.WithTopicMapper(eventbus.KafkaTopic),
		eventbus.WithLogger(logger),
	)
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	received := make(chan []byte, 16)
	require.NoError(t, bus.Subscribe(ctx, topic, func(_ context.Context, payload []byte) error {
		received <- payload

		return nil
	}))

	// The subscriber starts at the newest offset, so keep publishing until the
	// consumer group has its partition assigned.
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		require.NoError(t, bus.Publish(ctx, topic, []byte(`{"groups":["a"]}`)))

		select {
		case payload := <-received:
			assert.JSONEq(t, `{"groups":["a"]}`, string(payload))

			return
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("message not delivered")
		}
	}
}
