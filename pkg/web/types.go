package web

import (
	"time"

	"github.com/dukex/devicegroups/pkg/models"
)

// UpdateResponse tells whether an update command started a retrieval.
type UpdateResponse struct {
	Accepted bool   `json:"accepted"`
	State    string `json:"state"`
}

type GroupsResponse struct {
	Groups    []string `json:"groups"`
	Retrieved bool     `json:"retrieved"`
}

type MembershipResponse struct {
	Group  string `json:"group"`
	Member bool   `json:"member"`
}

type DeviceResponse struct {
	DeviceID   string            `json:"device_id"`
	EventName  string            `json:"event_name"`
	Device     models.DeviceInfo `json:"device"`
	Retrieved  bool              `json:"retrieved"`
	LastUpdate uint64            `json:"last_update"`
	State      string            `json:"state"`
	Config     ConfigResponse    `json:"config"`
}

type ConfigResponse struct {
	Mode            string `json:"mode"`
	Interval        string `json:"interval"`
	ResponseTimeout string `json:"response_timeout"`
	RetryTimeout    string `json:"retry_timeout"`
}

// ConfigureRequest changes the retrieval policy. Durations use Go duration
// syntax ("30s", "2m"); empty values fall back to the defaults.
type ConfigureRequest struct {
	Mode            string `json:"mode" validate:"required,oneof=manual at_start at-start periodic"`
	Interval        string `json:"interval" validate:"omitempty"`
	ResponseTimeout string `json:"response_timeout" validate:"omitempty"`
	RetryTimeout    string `json:"retry_timeout" validate:"omitempty"`
}

func parseOptionalDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	return time.ParseDuration(value)
}
