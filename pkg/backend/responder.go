// Package backend simulates the integration that answers group requests.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/devicegroups/pkg/groups"
	"github.com/dukex/devicegroups/pkg/models"
	json "github.com/goccy/go-json"
)

// Record is what the backend knows about one device. Nil metadata fields are
// left out of the reply.
type Record struct {
	Groups      []string `json:"groups"`
	Name        *string  `json:"name,omitempty"`
	ProductID   *int     `json:"product_id,omitempty"`
	Notes       *string  `json:"notes,omitempty"`
	Development *bool    `json:"development,omitempty"`
}

// Directory maps device ids to their records.
type Directory struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewDirectory() *Directory {
	return &Directory{records: make(map[string]Record)}
}

func (d *Directory) Put(deviceID string, record Record) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.records[deviceID] = record
}

func (d *Directory) Get(deviceID string) (Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	record, ok := d.records[deviceID]

	return record, ok
}

// Responder answers requests published on the event topic with the device's
// record on the device's response topic.
type Responder struct {
	transport groups.Transport
	directory *Directory
	eventName string
	logger    *slog.Logger
}

func NewResponder(transport groups.Transport, directory *Directory, eventName string, logger *slog.Logger) *Responder {
	if eventName == "" {
		eventName = groups.DefaultEventName
	}

	return &Responder{
		transport: transport,
		directory: directory,
		eventName: eventName,
		logger:    logger.With("module", "backend", "event", eventName),
	}
}

func (r *Responder) Start(ctx context.Context) error {
	if err := r.transport.Subscribe(ctx, r.eventName, r.handle); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.eventName, err)
	}

	r.logger.InfoContext(ctx, "Answering group requests")

	return nil
}

func (r *Responder) handle(ctx context.Context, payload []byte) error {
	var request models.RetrievalRequest
	if err := json.Unmarshal(payload, &request); err != nil {
		r.logger.WarnContext(ctx, "Dropping malformed request", "error", err)

		return nil
	}

	if request.DeviceID == "" {
		r.logger.WarnContext(ctx, "Dropping request without device id")

		return nil
	}

	record, ok := r.directory.Get(request.DeviceID)
	if !ok {
		r.logger.WarnContext(ctx, "Unknown device, answering with no groups", "device_id", request.DeviceID)
	}

	if record.Groups == nil {
		record.Groups = []string{}
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}

	topic := groups.ResponseTopic(request.DeviceID, r.eventName)
	if err := r.transport.Publish(ctx, topic, body); err != nil {
		return fmt.Errorf("failed to publish reply on %s: %w", topic, err)
	}

	r.logger.DebugContext(ctx, "Answered group request", "device_id", request.DeviceID, "groups", len(record.Groups))

	return nil
}
