package eventbus

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// TopicMetadataKey carries the unmapped topic name on every published message.
const TopicMetadataKey = "topic"

// TopicMapper converts a logical topic name into one the broker accepts.
type TopicMapper func(topic string) string

// KafkaTopic maps a logical topic to a valid Kafka topic name.
func KafkaTopic(topic string) string {
	return strings.NewReplacer("/", ".", " ", "_").Replace(topic)
}

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	mapTopic   TopicMapper
	logger     *slog.Logger
	closed     atomic.Bool
}

type WatermillOption func(*WatermillEventBus)

func WithTopicMapper(mapper TopicMapper) WatermillOption {
	return func(eb *WatermillEventBus) {
		eb.mapTopic = mapper
	}
}

func WithLogger(logger *slog.Logger) WatermillOption {
	return func(eb *WatermillEventBus) {
		eb.logger = logger.With("module", "watermill_event_bus")
	}
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, opts ...WatermillOption) Bus {
	eb := &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
		mapTopic:   func(topic string) string { return topic },
		logger:     slog.Default().With("module", "watermill_event_bus"),
	}

	for _, opt := range opts {
		opt(eb)
	}

	return eb
}

func (eb *WatermillEventBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if eb.closed.Load() {
		return ErrClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+watermill.NewULID(), payload)
	msg.Metadata.Set(TopicMetadataKey, topic)
	msg.SetContext(ctx)

	return eb.publisher.Publish(eb.mapTopic(topic), msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if eb.closed.Load() {
		return ErrClosed
	}

	messages, err := eb.subscriber.Subscribe(ctx, eb.mapTopic(topic))
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			err := handler(ctx, msg.Payload)
			if err != nil {
				eb.logger.WarnContext(ctx, "Handler rejected message", "topic", topic, "message_id", msg.UUID, "error", err)
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

// IsConnected reports whether the bus is open. Watermill reconnects to the
// broker on its own, so an open bus is treated as connected.
func (eb *WatermillEventBus) IsConnected() bool {
	return !eb.closed.Load()
}

func (eb *WatermillEventBus) Close() error {
	if eb.closed.Swap(true) {
		return nil
	}

	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	// gochannel uses the same instance for both sides.
	if closer, ok := eb.subscriber.(message.Publisher); ok && closer == eb.publisher {
		return nil
	}

	return eb.subscriber.Close()
}
