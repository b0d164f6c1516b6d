// Package eventbus provides the publish/subscribe transports used to exchange
// group requests and responses.
package eventbus

import (
	"context"
	"errors"
)

// ErrClosed is returned when publishing or subscribing on a closed bus.
var ErrClosed = errors.New("event bus closed")

// Handler is called for every payload delivered on a subscribed topic. A
// returned error asks the transport to redeliver when it supports it.
type Handler = func(ctx context.Context, payload []byte) error

type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler Handler) error
}

type Bus interface {
	Publisher
	Subscriber
	IsConnected() bool
	Close() error
}
