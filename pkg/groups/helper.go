package groups

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/devicegroups/pkg/metrics"
	"github.com/dukex/devicegroups/pkg/models"
	"github.com/dukex/devicegroups/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultEventName is the request event name expected by the backend integration.
	DefaultEventName = "G52ES20Q_DeviceGroup"

	DefaultPublishTimeout = 5 * time.Second
)

// Transport is the publish/subscribe connection used to exchange group
// requests and responses.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler func(ctx context.Context, payload []byte) error) error
	IsConnected() bool
}

// ParseFunc decodes a response payload.
type ParseFunc func(payload []byte) (*models.ParsedRecord, error)

// Clock returns monotonic milliseconds. The counter may wrap.
type Clock interface {
	NowMillis() uint64
}

// Sink receives membership notifications.
type Sink interface {
	OnEvent(event models.NotificationEvent)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(event models.NotificationEvent)

func (f SinkFunc) OnEvent(event models.NotificationEvent) {
	f(event)
}

// ResponseTopic is the channel on which the backend answers a device's request.
func ResponseTopic(deviceID, eventName string) string {
	return deviceID + "/hook-response/" + eventName
}

type Options struct {
	DeviceID       string
	EventName      string
	Config         Config
	PublishTimeout time.Duration
}

// Helper keeps the device group list of one device. Every method is safe for
// concurrent use; scheduler and cached state are guarded by a single mutex.
// Applied payloads are additionally serialized by dispatchMu, held from the
// commit through the sink calls, so each payload's notifications reach the
// sink as one block in commit order. A sink may query the helper but must not
// apply payloads itself.
type Helper struct {
	deviceID       string
	eventName      string
	publishTimeout time.Duration

	transport Transport
	parse     ParseFunc
	clock     Clock
	logger    *slog.Logger

	dispatchMu sync.Mutex

	mu           sync.Mutex
	scheduler    *Scheduler
	groups       MembershipSet
	device       models.DeviceInfo
	lastUpdate   uint64
	retrieved    bool
	sink         Sink
	disconnected bool
}

// NewHelper creates a helper for opts.DeviceID. Call Setup before the first Tick.
func NewHelper(opts Options, transport Transport, parse ParseFunc, clock Clock, logger *slog.Logger) (*Helper, error) {
	if opts.DeviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidConfig)
	}

	if opts.EventName == "" {
		opts.EventName = DefaultEventName
	}

	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}

	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	if transport == nil || parse == nil || clock == nil {
		return nil, fmt.Errorf("%w: transport, parser and clock are required", ErrInvalidConfig)
	}

	return &Helper{
		deviceID:       opts.DeviceID,
		eventName:      opts.EventName,
		publishTimeout: opts.PublishTimeout,
		transport:      transport,
		parse:          parse,
		clock:          clock,
		logger: logger.With(
			"module", "groups",
			"device_id", opts.DeviceID,
			"event", opts.EventName,
		),
		scheduler: NewScheduler(opts.Config),
		groups:    NewMembershipSet(),
	}, nil
}

// Setup subscribes to the response topic.
func (h *Helper) Setup(ctx context.Context) error {
	topic := h.ResponseTopic()

	err := h.transport.Subscribe(ctx, topic, func(ctx context.Context, payload []byte) error {
		if err := h.HandleResponse(ctx, payload); err != nil && !IsParseError(err) {
			return err
		}

		// Malformed payloads are acknowledged; redelivery cannot fix them.
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	h.logger.InfoContext(ctx, "Subscribed to group responses", "topic", topic, "mode", h.Config().Mode)

	return nil
}

func (h *Helper) ResponseTopic() string {
	return ResponseTopic(h.deviceID, h.eventName)
}

func (h *Helper) EventName() string {
	return h.eventName
}

func (h *Helper) DeviceID() string {
	return h.deviceID
}

// Configure changes the retrieval policy. See Scheduler.Configure.
func (h *Helper) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.scheduler.Configure(cfg)

	return nil
}

// Config returns the active retrieval policy.
func (h *Helper) Config() Config {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.scheduler.Config()
}

// Tick advances the scheduler using the helper's clock and the transport's
// connection state, publishing a request when the scheduler asks for one.
func (h *Helper) Tick(ctx context.Context) {
	h.TickAt(ctx, h.clock.NowMillis(), h.transport.IsConnected())
}

// TickAt is Tick with an explicit clock value and connection state.
func (h *Helper) TickAt(ctx context.Context, now uint64, connected bool) {
	metrics.SetConnected(connected)

	h.mu.Lock()
	before := h.scheduler.State()
	action := h.scheduler.Tick(now, connected)
	after := h.scheduler.State()

	logDisconnect := before == StateWaitConnected && !connected && !h.disconnected
	if before == StateWaitConnected {
		h.disconnected = !connected
	}
	h.mu.Unlock()

	if logDisconnect {
		h.logger.DebugContext(ctx, "Waiting for transport", "error", ErrTransportUnavailable)
	}

	if before != after {
		h.logger.DebugContext(ctx, "Scheduler state changed", "from", before, "to", after)
	}

	if before == StateWaitResponse && after == StateWaitRetry {
		metrics.ResponseTimeouts.Inc()
		h.logger.WarnContext(ctx, "No group response received, will retry",
			"error", ErrResponseTimeout,
			"retry_in", h.Config().RetryTimeout)
	}

	if action == ActionSendRequest {
		h.publishRequest(ctx)
	}
}

// Update requests a retrieval now. It returns false when a retrieval is
// already in progress.
func (h *Helper) Update(ctx context.Context) bool {
	h.mu.Lock()
	accepted := h.scheduler.RequestImmediateUpdate(h.clock.NowMillis())
	h.mu.Unlock()

	if accepted {
		h.logger.InfoContext(ctx, "Group update requested")
	} else {
		h.logger.DebugContext(ctx, "Group update already in progress")
	}

	return accepted
}

// HandleResponse applies a payload delivered on the response topic. Payloads
// arriving while no response is expected are ignored. A malformed payload
// leaves everything unchanged; the pending request then times out and is
// retried.
func (h *Helper) HandleResponse(ctx context.Context, payload []byte) error {
	return h.applyPayload(ctx, payload, "response")
}

// InjectPayload applies a payload pushed by an external command regardless of
// the scheduler state. If a response was pending, the cycle completes.
func (h *Helper) InjectPayload(ctx context.Context, payload []byte) error {
	return h.applyPayload(ctx, payload, "push")
}

func (h *Helper) applyPayload(ctx context.Context, payload []byte, source string) error {
	ctx, span := otelhelper.StartSpan(ctx, otelhelper.Tracer(), "groups.apply_payload",
		otelhelper.DeviceAttributes(h.deviceID, h.eventName,
			attribute.String(otelhelper.PayloadSourceKey, source))...,
	)
	defer span.End()

	if source == "response" && h.State() != StateWaitResponse {
		metrics.ResponsesIgnored.Inc()
		h.logger.DebugContext(ctx, "Ignoring unexpected group response", "state", h.State())

		return nil
	}

	record, err := h.parse(payload)
	if err != nil {
		metrics.ParseFailures.Inc()
		otelhelper.SetError(span, err)
		h.logger.WarnContext(ctx, "Failed to parse group payload", "source", source, "error", err)

		if !errors.Is(err, ErrParse) {
			err = fmt.Errorf("%w: %w", ErrParse, err)
		}

		return err
	}

	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()

	h.mu.Lock()
	if source == "response" && h.scheduler.State() != StateWaitResponse {
		// The response timed out, or another payload completed the cycle,
		// while this one was being decoded.
		h.mu.Unlock()
		metrics.ResponsesIgnored.Inc()

		return nil
	}

	now := h.clock.NowMillis()
	h.device.Merge(record)

	var notifications []models.NotificationEvent
	h.groups, notifications = ApplyUpdate(h.groups, NewMembershipSet(record.Groups...))
	h.lastUpdate = now
	h.retrieved = true
	h.scheduler.NotifyResponseReceived(now)

	sink := h.sink
	count := h.groups.Len()
	state := h.scheduler.State()
	h.mu.Unlock()

	metrics.ResponsesApplied.Inc()
	metrics.GroupCount.Set(float64(count))
	span.SetAttributes(
		attribute.Int(otelhelper.GroupCountKey, count),
		attribute.String(otelhelper.SchedulerStateKey, state.String()),
	)

	h.logger.InfoContext(ctx, "Updated groups", "source", source, "groups", count, "state", state)

	for _, event := range notifications {
		metrics.Notifications.WithLabelValues(string(event.Type)).Inc()

		if sink != nil {
			sink.OnEvent(event)
		}
	}

	return nil
}

func (h *Helper) publishRequest(ctx context.Context) {
	ctx, span := otelhelper.StartSpan(ctx, otelhelper.Tracer(), "groups.publish_request",
		otelhelper.DeviceAttributes(h.deviceID, h.eventName,
			attribute.String(otelhelper.TopicKey, h.eventName))...,
	)
	defer span.End()

	body, err := json.Marshal(models.RetrievalRequest{DeviceID: h.deviceID, Event: h.eventName})
	if err != nil {
		otelhelper.SetError(span, err)
		h.logger.ErrorContext(ctx, "Failed to encode group request", "error", err)

		return
	}

	publishCtx, cancel := context.WithTimeout(ctx, h.publishTimeout)
	defer cancel()

	if err := h.transport.Publish(publishCtx, h.eventName, body); err != nil {
		// The response timeout drives the retry.
		metrics.PublishFailures.Inc()
		otelhelper.SetError(span, err)
		h.logger.ErrorContext(ctx, "Failed to publish group request", "error", err)

		return
	}

	metrics.RequestsSent.Inc()
	h.logger.InfoContext(ctx, "Requested device groups")
}

// SetNotificationSink replaces the notification sink; nil removes it.
func (h *Helper) SetNotificationSink(sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sink = sink
}

// Groups returns a sorted copy of the cached group names.
func (h *Helper) Groups() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.groups.Sorted()
}

func (h *Helper) IsInGroup(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.groups.Contains(name)
}

// RetrievedGroups reports whether a group payload has been applied at least once.
func (h *Helper) RetrievedGroups() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.retrieved
}

// LastUpdate returns the clock value of the last applied payload, 0 if none.
func (h *Helper) LastUpdate() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.lastUpdate
}

func (h *Helper) Device() models.DeviceInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.device
}

func (h *Helper) DeviceName() string {
	return h.Device().Name
}

func (h *Helper) ProductID() int {
	return h.Device().ProductID
}

func (h *Helper) DeviceNotes() string {
	return h.Device().Notes
}

func (h *Helper) IsDevelopment() bool {
	return h.Device().Development
}

func (h *Helper) State() SchedulerState {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.scheduler.State()
}

func (h *Helper) IsIdle() bool {
	return h.State() == StateIdle
}
