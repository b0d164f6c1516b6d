// Package testutil provides test doubles and payload builders.
package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
)

// ManualClock is a clock moved by the test.
type ManualClock struct {
	now atomic.Uint64
}

func NewManualClock(start uint64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(start)

	return c
}

func (c *ManualClock) NowMillis() uint64 {
	return c.now.Load()
}

func (c *ManualClock) Set(now uint64) {
	c.now.Store(now)
}

// Advance moves the clock forward; the counter wraps on overflow.
func (c *ManualClock) Advance(ms uint64) uint64 {
	return c.now.Add(ms)
}

type Published struct {
	Topic   string
	Payload []byte
}

// Transport is an in-memory transport. Published messages are recorded and
// delivered synchronously to handlers subscribed to the same topic.
type Transport struct {
	mu         sync.Mutex
	connected  bool
	publishErr error
	published  []Published
	handlers   map[string][]func(ctx context.Context, payload []byte) error
}

func NewTransport(connected bool) *Transport {
	return &Transport{
		connected: connected,
		handlers:  make(map[string][]func(ctx context.Context, payload []byte) error),
	}
}

func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mu.Lock()
	if t.publishErr != nil {
		err := t.publishErr
		t.mu.Unlock()

		return err
	}

	t.published = append(t.published, Published{Topic: topic, Payload: payload})
	handlers := append([]func(ctx context.Context, payload []byte) error(nil), t.handlers[topic]...)
	t.mu.Unlock()

	for _, handler := range handlers {
		_ = handler(ctx, payload)
	}

	return nil
}

func (t *Transport) Subscribe(_ context.Context, topic string, handler func(ctx context.Context, payload []byte) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handlers[topic] = append(t.handlers[topic], handler)

	return nil
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.connected
}

func (t *Transport) SetConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connected = connected
}

func (t *Transport) FailPublish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.publishErr = err
}

func (t *Transport) Published() []Published {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]Published(nil), t.published...)
}

// Deliver hands payload to the handlers subscribed to topic and returns the
// first handler error.
func (t *Transport) Deliver(ctx context.Context, topic string, payload []byte) error {
	t.mu.Lock()
	handlers := append([]func(ctx context.Context, payload []byte) error(nil), t.handlers[topic]...)
	t.mu.Unlock()

	var firstErr error

	for _, handler := range handlers {
		if err := handler(ctx, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// ResponsePayload builds a group response containing groups and the fields set
// by overrides.
func ResponsePayload(groups []string, overrides ...func(map[string]any)) []byte {
	body := map[string]any{"groups": groups}

	for _, override := range overrides {
		override(body)
	}

	data, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}

	return data
}

func WithName(name string) func(map[string]any) {
	return func(body map[string]any) {
		body["name"] = name
	}
}

func WithProductID(id int) func(map[string]any) {
	return func(body map[string]any) {
		body["product_id"] = id
	}
}

func WithNotes(notes string) func(map[string]any) {
	return func(body map[string]any) {
		body["notes"] = notes
	}
}

func WithDevelopment(development bool) func(map[string]any) {
	return func(body map[string]any) {
		body["development"] = development
	}
}

// WithoutGroups removes the groups key.
func WithoutGroups() func(map[string]any) {
	return func(body map[string]any) {
		delete(body, "groups")
	}
}
