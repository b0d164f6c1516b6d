package main

import (
	"fmt"

	"github.com/dukex/devicegroups/pkg/cmd"
	"github.com/dukex/devicegroups/pkg/config"
	cli "github.com/urfave/cli/v3"
)

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML configuration file",
			Sources: cli.EnvVars("DEVICEGROUPS_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "device-id",
			Aliases: []string{"id"},
			Usage:   "Device ID (auto-generated if not provided)",
			Sources: cli.EnvVars("DEVICE_ID"),
		},
		&cli.StringFlag{
			Name:    "event-name",
			Usage:   "Event name of the group request",
			Value:   config.Default().EventName,
			Sources: cli.EnvVars("EVENT_NAME"),
		},
		&cli.StringFlag{
			Name:    "transport",
			Usage:   "Event bus provider (gochannel, kafka, mqtt, redis)",
			Value:   cmd.ProviderGoChannel,
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka brokers (host:port)",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "mqtt-broker",
			Usage:   "MQTT broker URL, e.g. tcp://localhost:1883",
			Sources: cli.EnvVars("MQTT_BROKER"),
		},
		&cli.StringFlag{
			Name:    "mqtt-username",
			Sources: cli.EnvVars("MQTT_USERNAME"),
		},
		&cli.StringFlag{
			Name:    "mqtt-password",
			Sources: cli.EnvVars("MQTT_PASSWORD"),
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address (host:port)",
			Sources: cli.EnvVars("REDIS_ADDR"),
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Sources: cli.EnvVars("REDIS_PASSWORD"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
	}
}

// loadConfig reads the config file, if any, and applies the flags the user
// set on top of it.
func loadConfig(command *cli.Command) (config.Config, error) {
	cfg := config.Default()

	if path := command.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}

	setString := func(name string, target *string) {
		if command.IsSet(name) {
			*target = command.String(name)
		}
	}

	setString("device-id", &cfg.DeviceID)
	setString("event-name", &cfg.EventName)
	setString("transport", &cfg.Transport.Provider)
	setString("mqtt-broker", &cfg.Transport.MQTTBroker)
	setString("mqtt-username", &cfg.Transport.MQTTUsername)
	setString("mqtt-password", &cfg.Transport.MQTTPassword)
	setString("redis-addr", &cfg.Transport.RedisAddr)
	setString("redis-password", &cfg.Transport.RedisPassword)
	setString("log-level", &cfg.LogLevel)

	if command.IsSet("kafka-brokers") {
		cfg.Transport.KafkaBrokers = command.StringSlice("kafka-brokers")
	}

	if command.IsSet("tracing") {
		cfg.Tracing = command.Bool("tracing")
	}

	if command.IsSet("mode") {
		cfg.Retrieval.Mode = command.String("mode")
	}

	if command.IsSet("interval") {
		cfg.Retrieval.Interval = command.Duration("interval")
	}

	if command.IsSet("response-timeout") {
		cfg.Retrieval.ResponseTimeout = command.Duration("response-timeout")
	}

	if command.IsSet("retry-timeout") {
		cfg.Retrieval.RetryTimeout = command.Duration("retry-timeout")
	}

	if command.IsSet("tick") {
		cfg.Tick = command.Duration("tick")
	}

	if command.IsSet("http-port") {
		cfg.HTTP.Port = command.Int("http-port")
	}

	if command.IsSet("no-http") {
		cfg.HTTP.Enabled = !command.Bool("no-http")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func busSettings(cfg config.Config, clientID string) cmd.BusSettings {
	return cmd.BusSettings{
		ClientID:      clientID,
		KafkaBrokers:  cfg.Transport.KafkaBrokers,
		MQTTBroker:    cfg.Transport.MQTTBroker,
		MQTTUsername:  cfg.Transport.MQTTUsername,
		MQTTPassword:  cfg.Transport.MQTTPassword,
		MQTTQoS:       cfg.Transport.MQTTQoS,
		RedisAddr:     cfg.Transport.RedisAddr,
		RedisPassword: cfg.Transport.RedisPassword,
		RedisDB:       cfg.Transport.RedisDB,
	}
}
