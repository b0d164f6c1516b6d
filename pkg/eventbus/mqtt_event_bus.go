package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

const mqttSubscribeTimeout = 10 * time.Second

type mqttSubscription struct {
	ctx     context.Context
	handler Handler
}

// MQTTEventBus publishes and subscribes on an MQTT broker. Subscriptions are
// restored every time the client reconnects.
type MQTTEventBus struct {
	client MQTT.Client
	qos    byte
	logger *slog.Logger

	mu            sync.Mutex
	subscriptions map[string]mqttSubscription
	closed        atomic.Bool
}

// NewMQTTEventBus connects to the broker configured in opts.
func NewMQTTEventBus(opts *MQTT.ClientOptions, qos byte, connectTimeout time.Duration, logger *slog.Logger) (*MQTTEventBus, error) {
	eb := &MQTTEventBus{
		qos:           qos,
		logger:        logger.With("module", "mqtt_event_bus"),
		subscriptions: make(map[string]mqttSubscription),
	}

	opts.SetOnConnectHandler(eb.onConnect)
	opts.SetConnectionLostHandler(eb.onConnectionLost)

	eb.client = MQTT.NewClient(opts)

	token := eb.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// AutoReconnect keeps trying in the background.
		eb.logger.Warn("MQTT broker not reachable yet", "timeout", connectTimeout)

		return eb, nil
	}

	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return eb, nil
}

// NewMQTTEventBusWithClient wraps an existing client. Resubscription on
// reconnect is the caller's responsibility.
func NewMQTTEventBusWithClient(client MQTT.Client, qos byte, logger *slog.Logger) *MQTTEventBus {
	return &MQTTEventBus{
		client:        client,
		qos:           qos,
		logger:        logger.With("module", "mqtt_event_bus"),
		subscriptions: make(map[string]mqttSubscription),
	}
}

func (eb *MQTTEventBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if eb.closed.Load() {
		return ErrClosed
	}

	token := eb.client.Publish(topic, eb.qos, false, payload)

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (eb *MQTTEventBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if eb.closed.Load() {
		return ErrClosed
	}

	eb.mu.Lock()
	eb.subscriptions[topic] = mqttSubscription{ctx: ctx, handler: handler}
	eb.mu.Unlock()

	if !eb.client.IsConnectionOpen() {
		eb.logger.InfoContext(ctx, "Subscription deferred until connected", "topic", topic)

		return nil
	}

	return eb.subscribe(topic, mqttSubscription{ctx: ctx, handler: handler})
}

func (eb *MQTTEventBus) subscribe(topic string, sub mqttSubscription) error {
	token := eb.client.Subscribe(topic, eb.qos, func(_ MQTT.Client, msg MQTT.Message) {
		if err := sub.handler(sub.ctx, msg.Payload()); err != nil {
			eb.logger.WarnContext(sub.ctx, "Handler rejected message", "topic", msg.Topic(), "error", err)
		}
	})

	if !token.WaitTimeout(mqttSubscribeTimeout) {
		return fmt.Errorf("timed out subscribing to %s", topic)
	}

	return token.Error()
}

func (eb *MQTTEventBus) onConnect(client MQTT.Client) {
	optionsReader := client.OptionsReader()
	eb.logger.Info("Connected to MQTT broker", "client_id", optionsReader.ClientID())

	eb.mu.Lock()
	subs := make(map[string]mqttSubscription, len(eb.subscriptions))
	for topic, sub := range eb.subscriptions {
		subs[topic] = sub
	}
	eb.mu.Unlock()

	for topic, sub := range subs {
		if err := eb.subscribe(topic, sub); err != nil {
			eb.logger.Error("Failed to restore subscription", "topic", topic, "error", err)
		}
	}
}

func (eb *MQTTEventBus) onConnectionLost(_ MQTT.Client, err error) {
	eb.logger.Warn("Connection to MQTT broker lost", "error", err)
}

func (eb *MQTTEventBus) IsConnected() bool {
	return !eb.closed.Load() && eb.client.IsConnectionOpen()
}

func (eb *MQTTEventBus) Close() error {
	if eb.closed.Swap(true) {
		return nil
	}

	eb.mu.Lock()
	topics := make([]string, 0, len(eb.subscriptions))
	for topic := range eb.subscriptions {
		topics = append(topics, topic)
	}
	eb.mu.Unlock()

	var errs []error

	if len(topics) > 0 && eb.client.IsConnectionOpen() {
		token := eb.client.Unsubscribe(topics...)
		if token.WaitTimeout(mqttSubscribeTimeout) && token.Error() != nil {
			errs = append(errs, token.Error())
		}
	}

	eb.client.Disconnect(250)

	return errors.Join(errs...)
}
