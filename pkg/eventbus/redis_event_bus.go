package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisEventBus uses Redis Pub/Sub channels as topics. Messages published while
// nobody is subscribed are dropped, matching the fire-and-forget contract.
type RedisEventBus struct {
	client redis.UniversalClient
	logger *slog.Logger

	mu        sync.Mutex
	pubsubs   []*redis.PubSub
	connected atomic.Bool
	closed    atomic.Bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewRedisEventBus(client redis.UniversalClient, logger *slog.Logger) *RedisEventBus {
	return &RedisEventBus{
		client: client,
		logger: logger.With("module", "redis_event_bus"),
		stopCh: make(chan struct{}),
	}
}

// Ping checks the server and records the result for IsConnected.
func (eb *RedisEventBus) Ping(ctx context.Context) error {
	err := eb.client.Ping(ctx).Err()
	eb.connected.Store(err == nil)

	return err
}

// StartHealthCheck pings the server every interval until ctx is done.
func (eb *RedisEventBus) StartHealthCheck(ctx context.Context, interval time.Duration) {
	eb.wg.Add(1)

	go func() {
		defer eb.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-eb.stopCh:
				return
			case <-ticker.C:
				wasConnected := eb.connected.Load()

				pingCtx, cancel := context.WithTimeout(ctx, interval)
				err := eb.Ping(pingCtx)
				cancel()

				if err != nil && wasConnected {
					eb.logger.WarnContext(ctx, "Lost connection to Redis", "error", err)
				} else if err == nil && !wasConnected {
					eb.logger.InfoContext(ctx, "Connected to Redis")
				}
			}
		}
	}()
}

func (eb *RedisEventBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if eb.closed.Load() {
		return ErrClosed
	}

	return eb.client.Publish(ctx, topic, payload).Err()
}

func (eb *RedisEventBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if eb.closed.Load() {
		return ErrClosed
	}

	pubsub := eb.client.Subscribe(ctx, topic)

	// Wait for the subscription confirmation so no reply published right
	// after this call is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()

		return err
	}

	eb.mu.Lock()
	eb.pubsubs = append(eb.pubsubs, pubsub)
	eb.mu.Unlock()

	eb.wg.Add(1)

	go func() {
		defer eb.wg.Done()

		for msg := range pubsub.Channel() {
			if err := handler(ctx, []byte(msg.Payload)); err != nil {
				eb.logger.WarnContext(ctx, "Handler rejected message", "topic", msg.Channel, "error", err)
			}
		}
	}()

	return nil
}

func (eb *RedisEventBus) IsConnected() bool {
	return !eb.closed.Load() && eb.connected.Load()
}

func (eb *RedisEventBus) Close() error {
	if eb.closed.Swap(true) {
		return nil
	}

	close(eb.stopCh)

	eb.mu.Lock()
	pubsubs := eb.pubsubs
	eb.pubsubs = nil
	eb.mu.Unlock()

	var errs []error

	for _, pubsub := range pubsubs {
		if err := pubsub.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := eb.client.Close(); err != nil {
		errs = append(errs, err)
	}

	eb.wg.Wait()

	return errors.Join(errs...)
}
