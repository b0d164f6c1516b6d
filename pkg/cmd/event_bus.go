// Package cmd holds constructors shared by the command line programs.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/devicegroups/pkg/channels/gochannel"
	"github.com/dukex/devicegroups/pkg/channels/kafka"
	"github.com/dukex/devicegroups/pkg/channels/mqtt"
	"github.com/dukex/devicegroups/pkg/channels/redis"
	"github.com/dukex/devicegroups/pkg/eventbus"
)

var ErrUnsupportedProvider = errors.New("unsupported event bus provider")

const (
	ProviderGoChannel = "gochannel"
	ProviderKafka     = "kafka"
	ProviderMQTT      = "mqtt"
	ProviderRedis     = "redis"
)

// BusSettings carries the connection settings of every provider; only the
// fields of the selected provider are read.
type BusSettings struct {
	ClientID string

	KafkaBrokers []string

	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
	MQTTQoS      byte

	RedisAddr     string
	RedisPassword string
	RedisDB       string

	ConnectTimeout      time.Duration
	HealthCheckInterval time.Duration
}

func (s BusSettings) withDefaults() BusSettings {
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = 10 * time.Second
	}

	if s.HealthCheckInterval <= 0 {
		s.HealthCheckInterval = 5 * time.Second
	}

	return s
}

// NewBus creates the event bus for provider.
func NewBus(ctx context.Context, provider string, settings BusSettings, logger *slog.Logger) (eventbus.Bus, error) {
	settings = settings.withDefaults()

	switch provider {
	case ProviderGoChannel, "":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, eventbus.WithLogger(logger)), nil
	case ProviderKafka:
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), settings.KafkaBrokers, settings.ClientID)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub,
			eventbus.WithTopicMapper(eventbus.KafkaTopic),
			eventbus.WithLogger(logger),
		), nil
	case ProviderMQTT:
		opts := mqtt.NewClientOptions(mqtt.Config{
			BrokerURL: settings.MQTTBroker,
			ClientID:  settings.ClientID,
			Username:  settings.MQTTUsername,
			Password:  settings.MQTTPassword,
		})

		bus, err := eventbus.NewMQTTEventBus(opts, settings.MQTTQoS, settings.ConnectTimeout, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create MQTT event bus: %w", err)
		}

		return bus, nil
	case ProviderRedis:
		client, err := redis.CreateClient(redis.Config{
			Addr:     settings.RedisAddr,
			Password: settings.RedisPassword,
			DB:       settings.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis client: %w", err)
		}

		bus := eventbus.NewRedisEventBus(client, logger)

		pingCtx, cancel := context.WithTimeout(ctx, settings.ConnectTimeout)
		if err := bus.Ping(pingCtx); err != nil {
			logger.WarnContext(ctx, "Redis not reachable yet", "addr", settings.RedisAddr, "error", err)
		}
		cancel()

		bus.StartHealthCheck(ctx, settings.HealthCheckInterval)

		return bus, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
}
