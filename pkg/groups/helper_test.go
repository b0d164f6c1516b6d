package groups_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/devicegroups/pkg/groups"
	"github.com/dukex/devicegroups/pkg/mocks"
	"github.com/dukex/devicegroups/pkg/models"
	"github.com/dukex/devicegroups/pkg/payload"
	"github.com/dukex/devicegroups/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testDeviceID = "device-1234"

type recordingSink struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func (s *recordingSink) OnEvent(event models.NotificationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
}

func (s *recordingSink) Events() []models.NotificationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.NotificationEvent(nil), s.events...)
}

func createTestHelper(t *testing.T, cfg groups.Config) (*groups.Helper, *testutil.Transport, *testutil.ManualClock) {
	t.Helper()

	transport := testutil.NewTransport(true)
	clock := testutil.NewManualClock(1000)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	helper, err := groups.NewHelper(groups.Options{
		DeviceID: testDeviceID,
		Config:   cfg,
	}, transport, payload.Parse, clock, logger)
	require.NoError(t, err)
	require.NoError(t, helper.Setup(context.Background()))

	return helper, transport, clock
}

func atStart() groups.Config {
	return groups.Config{Mode: models.RetrievalModeAtStart}
}

func respond(t *testing.T, helper *groups.Helper, transport *testutil.Transport, body []byte) {
	t.Helper()

	require.NoError(t, transport.Deliver(context.Background(), helper.ResponseTopic(), body))
}

func TestNewHelper_Validation(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transport := testutil.NewTransport(true)
	clock := testutil.NewManualClock(0)

	_, err := groups.NewHelper(groups.Options{}, transport, payload.Parse, clock, logger)
	require.ErrorIs(t, err, groups.ErrInvalidConfig)

	_, err = groups.NewHelper(groups.Options{DeviceID: "d", Config: groups.Config{Mode: "sometimes"}}, transport, payload.Parse, clock, logger)
	require.ErrorIs(t, err, groups.ErrInvalidConfig)

	_, err = groups.NewHelper(groups.Options{DeviceID: "d"}, nil, payload.Parse, clock, logger)
	require.ErrorIs(t, err, groups.ErrInvalidConfig)

	helper, err := groups.NewHelper(groups.Options{DeviceID: "d"}, transport, payload.Parse, clock, logger)
	require.NoError(t, err)
	assert.Equal(t, groups.DefaultEventName, helper.EventName())
	assert.Equal(t, "d/hook-response/G52ES20Q_DeviceGroup", helper.ResponseTopic())
	assert.True(t, helper.IsIdle())
}

func TestHelper_RetrievesAtStart(t *testing.T) {
	t.Parallel()

	helper, transport, clock := createTestHelper(t, atStart())
	sink := &recordingSink{}
	helper.SetNotificationSink(sink)

	helper.Tick(context.Background())

	published := transport.Published()
	require.Len(t, published, 1)
	assert.Equal(t, groups.DefaultEventName, published[0].Topic)

	var request models.RetrievalRequest
	require.NoError(t, json.Unmarshal(published[0].Payload, &request))
	assert.Equal(t, testDeviceID, request.DeviceID)
	assert.Equal(t, groups.DefaultEventName, request.Event)
	assert.Equal(t, groups.StateWaitResponse, helper.State())
	assert.False(t, helper.RetrievedGroups())

	clock.Advance(250)
	respond(t, helper, transport, testutil.ResponsePayload(
		[]string{"west", "beta"},
		testutil.WithName("pump-7"),
		testutil.WithProductID(42),
		testutil.WithNotes("basement"),
		testutil.WithDevelopment(true),
	))

	assert.True(t, helper.IsIdle())
	assert.True(t, helper.RetrievedGroups())
	assert.Equal(t, uint64(1250), helper.LastUpdate())
	assert.Equal(t, []string{"beta", "west"}, helper.Groups())
	assert.True(t, helper.IsInGroup("west"))
	assert.False(t, helper.IsInGroup("east"))
	assert.Equal(t, "pump-7", helper.DeviceName())
	assert.Equal(t, 42, helper.ProductID())
	assert.Equal(t, "basement", helper.DeviceNotes())
	assert.True(t, helper.IsDevelopment())

	assert.Equal(t, []models.NotificationEvent{
		models.Added("beta"),
		models.Added("west"),
		models.Updated(),
	}, sink.Events())

	// At-start mode does not retrieve again on its own.
	clock.Advance(uint64(time.Hour.Milliseconds()))
	helper.Tick(context.Background())
	assert.Len(t, transport.Published(), 1)
}

func TestHelper_SparsePayloadKeepsMetadata(t *testing.T) {
	t.Parallel()

	helper, transport, _ := createTestHelper(t, atStart())

	helper.Tick(context.Background())
	respond(t, helper, transport, testutil.ResponsePayload(
		[]string{"a"},
		testutil.WithName("pump-7"),
		testutil.WithProductID(42),
		testutil.WithNotes("basement"),
		testutil.WithDevelopment(true),
	))

	require.True(t, helper.Update(context.Background()))
	helper.Tick(context.Background())
	respond(t, helper, transport, testutil.ResponsePayload([]string{"b"}, testutil.WithNotes("roof")))

	device := helper.Device()
	assert.Equal(t, "pump-7", device.Name)
	assert.Equal(t, 42, device.ProductID)
	assert.Equal(t, "roof", device.Notes)
	assert.True(t, device.Development)
	assert.Equal(t, []string{"b"}, helper.Groups())
}

func TestHelper_MissingGroupsClearsMembership(t *testing.T) {
	t.Parallel()

	helper, transport, _ := createTestHelper(t, atStart())
	sink := &recordingSink{}
	helper.SetNotificationSink(sink)

	helper.Tick(context.Background())
	respond(t, helper, transport, testutil.ResponsePayload([]string{"a"}))

	require.True(t, helper.Update(context.Background()))
	helper.Tick(context.Background())
	respond(t, helper, transport, testutil.ResponsePayload(nil, testutil.WithoutGroups(), testutil.WithName("x")))

	assert.Empty(t, helper.Groups())
	assert.Equal(t, []models.NotificationEvent{
		models.Added("a"),
		models.Updated(),
		models.Removed("a"),
		models.Updated(),
	}, sink.Events())
}

func TestHelper_IgnoresUnexpectedResponse(t *testing.T) {
	t.Parallel()

	helper, transport, _ := createTestHelper(t, groups.DefaultConfig())
	sink := &recordingSink{}
	helper.SetNotificationSink(sink)

	respond(t, helper, transport, testutil.ResponsePayload([]string{"a"}))

	assert.Empty(t, helper.Groups())
	assert.False(t, helper.RetrievedGroups())
	assert.Empty(t, sink.Events())
	assert.True(t, helper.IsIdle())
}

func TestHelper_MalformedPayloadWaitsForTimeout(t *testing.T) {
	t.Parallel()

	helper, transport, clock := createTestHelper(t, atStart())

	helper.Tick(context.Background())
	require.Equal(t, groups.StateWaitResponse, helper.State())

	// The subscription acknowledges malformed payloads.
	respond(t, helper, transport, []byte("{not json"))

	err := helper.HandleResponse(context.Background(), []byte(`{"groups": "a"}`))
	require.Error(t, err)
	assert.True(t, groups.IsParseError(err))

	assert.Equal(t, groups.StateWaitResponse, helper.State())
	assert.False(t, helper.RetrievedGroups())

	clock.Advance(uint64(groups.DefaultResponseTimeout.Milliseconds()))
	helper.Tick(context.Background())
	assert.Equal(t, groups.StateWaitRetry, helper.State())

	clock.Advance(uint64(groups.DefaultRetryTimeout.Milliseconds()))
	helper.Tick(context.Background())
	helper.Tick(context.Background())
	assert.Len(t, transport.Published(), 2)
	assert.Equal(t, groups.StateWaitResponse, helper.State())
}

func TestHelper_WaitsForConnection(t *testing.T) {
	t.Parallel()

	helper, transport, clock := createTestHelper(t, atStart())
	transport.SetConnected(false)

	for range 10 {
		clock.Advance(1000)
		helper.Tick(context.Background())
	}

	assert.Empty(t, transport.Published())
	assert.Equal(t, groups.StateWaitConnected, helper.State())

	transport.SetConnected(true)
	helper.Tick(context.Background())
	assert.Len(t, transport.Published(), 1)
}

func TestHelper_PublishFailureRetriesAfterTimeout(t *testing.T) {
	t.Parallel()

	helper, transport, clock := createTestHelper(t, atStart())
	transport.FailPublish(errors.New("broker down"))

	helper.Tick(context.Background())
	assert.Equal(t, groups.StateWaitResponse, helper.State())

	transport.FailPublish(nil)
	clock.Advance(uint64(groups.DefaultResponseTimeout.Milliseconds()))
	helper.Tick(context.Background())
	assert.Equal(t, groups.StateWaitRetry, helper.State())
}

func TestHelper_UpdateIgnoredMidCycle(t *testing.T) {
	t.Parallel()

	helper, transport, _ := createTestHelper(t, groups.DefaultConfig())

	require.True(t, helper.Update(context.Background()))
	assert.False(t, helper.Update(context.Background()))

	helper.Tick(context.Background())
	assert.False(t, helper.Update(context.Background()))
	helper.Tick(context.Background())

	assert.Len(t, transport.Published(), 1)
}

func TestHelper_InjectPayload(t *testing.T) {
	t.Parallel()

	helper, _, _ := createTestHelper(t, groups.DefaultConfig())

	require.NoError(t, helper.InjectPayload(context.Background(), testutil.ResponsePayload([]string{"pushed"})))
	assert.Equal(t, []string{"pushed"}, helper.Groups())
	assert.True(t, helper.RetrievedGroups())
	assert.True(t, helper.IsIdle())

	err := helper.InjectPayload(context.Background(), []byte(""))
	require.ErrorIs(t, err, groups.ErrParse)
	assert.Equal(t, []string{"pushed"}, helper.Groups())
}

func TestHelper_InjectPayloadCompletesPendingCycle(t *testing.T) {
	t.Parallel()

	helper, _, _ := createTestHelper(t, atStart())

	helper.Tick(context.Background())
	require.Equal(t, groups.StateWaitResponse, helper.State())

	require.NoError(t, helper.InjectPayload(context.Background(), testutil.ResponsePayload([]string{"a"})))
	assert.True(t, helper.IsIdle())
}

func TestHelper_SinkMayQueryHelper(t *testing.T) {
	t.Parallel()

	helper, transport, _ := createTestHelper(t, atStart())

	var seen [][]string

	helper.SetNotificationSink(groups.SinkFunc(func(event models.NotificationEvent) {
		if event.Type == models.NotificationUpdated {
			seen = append(seen, helper.Groups())
		}
	}))

	helper.Tick(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = transport.Deliver(context.Background(), helper.ResponseTopic(), testutil.ResponsePayload([]string{"x"}))
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("notification sink deadlocked")
	}

	assert.Equal(t, [][]string{{"x"}}, seen)
}

func TestHelper_ConcurrentPayloadsNotifyInCommitOrder(t *testing.T) {
	t.Parallel()

	helper, _, _ := createTestHelper(t, groups.DefaultConfig())

	var (
		mu     sync.Mutex
		events []models.NotificationEvent
	)

	blocked := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once

	helper.SetNotificationSink(groups.SinkFunc(func(event models.NotificationEvent) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()

		if event == models.Added("y") {
			once.Do(func() {
				close(blocked)
				<-release
			})
		}
	}))

	first := make(chan error, 1)
	go func() {
		first <- helper.InjectPayload(context.Background(), testutil.ResponsePayload([]string{"y"}))
	}()

	select {
	case <-blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("first payload was not dispatched")
	}

	second := make(chan error, 1)
	go func() {
		second <- helper.InjectPayload(context.Background(), testutil.ResponsePayload([]string{}))
	}()

	// The second payload must not commit while the first is still notifying.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"y"}, helper.Groups())

	close(release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []models.NotificationEvent{
		models.Added("y"),
		models.Updated(),
		models.Removed("y"),
		models.Updated(),
	}, events)
	assert.Empty(t, helper.Groups())
}

func TestHelper_ReplacingSink(t *testing.T) {
	t.Parallel()

	helper, _, _ := createTestHelper(t, groups.DefaultConfig())
	first := &recordingSink{}
	second := &recordingSink{}

	helper.SetNotificationSink(first)
	helper.SetNotificationSink(second)
	require.NoError(t, helper.InjectPayload(context.Background(), testutil.ResponsePayload([]string{"a"})))

	helper.SetNotificationSink(nil)
	require.NoError(t, helper.InjectPayload(context.Background(), testutil.ResponsePayload([]string{"b"})))

	assert.Empty(t, first.Events())
	assert.Len(t, second.Events(), 2)
}

func TestHelper_Configure(t *testing.T) {
	t.Parallel()

	helper, transport, clock := createTestHelper(t, atStart())

	require.ErrorIs(t, helper.Configure(groups.Config{Mode: "never"}), groups.ErrInvalidConfig)

	helper.Tick(context.Background())
	require.NoError(t, helper.Configure(groups.Config{Mode: models.RetrievalModePeriodic, Interval: time.Minute}))
	assert.Equal(t, models.RetrievalModeAtStart, helper.Config().Mode)

	respond(t, helper, transport, testutil.ResponsePayload([]string{"a"}))
	assert.Equal(t, models.RetrievalModePeriodic, helper.Config().Mode)
	assert.Equal(t, groups.StateWaitPeriodic, helper.State())

	clock.Advance(uint64(time.Minute.Milliseconds()))
	helper.Tick(context.Background())
	helper.Tick(context.Background())
	assert.Len(t, transport.Published(), 2)
}

func TestHelper_SetupFailsWhenSubscribeFails(t *testing.T) {
	t.Parallel()

	bus := &mocks.MockBus{}
	bus.On("Subscribe", mock.Anything, testDeviceID+"/hook-response/"+groups.DefaultEventName, mock.Anything).
		Return(errors.New("broker unavailable"))

	helper, err := groups.NewHelper(groups.Options{DeviceID: testDeviceID}, bus, payload.Parse,
		testutil.NewManualClock(0), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	err = helper.Setup(context.Background())
	require.ErrorContains(t, err, "broker unavailable")
	bus.AssertExpectations(t)
}

func TestHelper_PublishesThroughBus(t *testing.T) {
	t.Parallel()

	bus := &mocks.MockBus{}
	bus.On("IsConnected").Return(true)
	bus.On("Publish", mock.Anything, groups.DefaultEventName, mock.MatchedBy(func(body []byte) bool {
		var request models.RetrievalRequest

		return json.Unmarshal(body, &request) == nil && request.DeviceID == testDeviceID
	})).Return(nil).Once()

	helper, err := groups.NewHelper(groups.Options{DeviceID: testDeviceID, Config: atStart()}, bus, payload.Parse,
		testutil.NewManualClock(0), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	helper.Tick(context.Background())
	helper.Tick(context.Background())

	bus.AssertExpectations(t)
	assert.Equal(t, groups.StateWaitResponse, helper.State())
}
