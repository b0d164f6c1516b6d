package models

import (
	"fmt"
	"strings"
)

// RetrievalMode controls when the device group list is refreshed automatically.
type RetrievalMode string

const (
	// RetrievalModeManual only retrieves when an update is requested explicitly.
	RetrievalModeManual RetrievalMode = "manual"
	// RetrievalModeAtStart retrieves once after the first connected tick.
	RetrievalModeAtStart RetrievalMode = "at_start"
	// RetrievalModePeriodic retrieves at start and then again every interval.
	RetrievalModePeriodic RetrievalMode = "periodic"
)

// ParseRetrievalMode converts a user supplied mode name into a RetrievalMode.
func ParseRetrievalMode(s string) (RetrievalMode, error) {
	switch RetrievalMode(strings.ToLower(strings.TrimSpace(s))) {
	case RetrievalModeManual, "":
		return RetrievalModeManual, nil
	case RetrievalModeAtStart, "at-start", "atstart":
		return RetrievalModeAtStart, nil
	case RetrievalModePeriodic:
		return RetrievalModePeriodic, nil
	default:
		return "", fmt.Errorf("unknown retrieval mode %q", s)
	}
}

// AutoStarts reports whether the mode begins a retrieval without an explicit request.
func (m RetrievalMode) AutoStarts() bool {
	return m == RetrievalModeAtStart || m == RetrievalModePeriodic
}

type NotificationType string

const (
	NotificationAdded   NotificationType = "added"
	NotificationRemoved NotificationType = "removed"
	NotificationUpdated NotificationType = "updated"
)

// NotificationEvent describes one change in group membership. Group is empty for
// NotificationUpdated, which is always the last event of a retrieval.
type NotificationEvent struct {
	Type  NotificationType `json:"type"`
	Group string           `json:"group,omitempty"`
}

func Added(group string) NotificationEvent {
	return NotificationEvent{Type: NotificationAdded, Group: group}
}

func Removed(group string) NotificationEvent {
	return NotificationEvent{Type: NotificationRemoved, Group: group}
}

func Updated() NotificationEvent {
	return NotificationEvent{Type: NotificationUpdated}
}

// ParsedRecord is a decoded response payload. Nil metadata fields were absent
// from the payload and must not overwrite cached values.
type ParsedRecord struct {
	Groups      []string `json:"groups"`
	Name        *string  `json:"name,omitempty"`
	ProductID   *int     `json:"product_id,omitempty"`
	Notes       *string  `json:"notes,omitempty"`
	Development *bool    `json:"development,omitempty"`
}

// DeviceInfo is the cached device metadata returned alongside the group list.
type DeviceInfo struct {
	Name        string `json:"name"`
	ProductID   int    `json:"product_id"`
	Notes       string `json:"notes"`
	Development bool   `json:"development"`
}

// Merge copies the fields present in record into the device info.
func (d *DeviceInfo) Merge(record *ParsedRecord) {
	if record.Name != nil {
		d.Name = *record.Name
	}

	if record.ProductID != nil {
		d.ProductID = *record.ProductID
	}

	if record.Notes != nil {
		d.Notes = *record.Notes
	}

	if record.Development != nil {
		d.Development = *record.Development
	}
}

// RetrievalRequest is the body published on the request event.
type RetrievalRequest struct {
	DeviceID string `json:"device_id"`
	Event    string `json:"event"`
}
