// Package web exposes the group helper's commands and queries over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/devicegroups/pkg/groups"
	"github.com/dukex/devicegroups/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// GroupService is the part of groups.Helper served over HTTP.
type GroupService interface {
	DeviceID() string
	EventName() string
	Update(ctx context.Context) bool
	InjectPayload(ctx context.Context, payload []byte) error
	Configure(cfg groups.Config) error
	Config() groups.Config
	Groups() []string
	IsInGroup(name string) bool
	RetrievedGroups() bool
	LastUpdate() uint64
	Device() models.DeviceInfo
	State() groups.SchedulerState
}

type APIHandlers struct {
	service   GroupService
	validator *validator.Validate
}

func NewAPIHandlers(service GroupService, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		service:   service,
		validator: validator,
	}
}

// RequestUpdate starts a retrieval. A retrieval already in progress is not
// interrupted and the response reports accepted=false.
func (h *APIHandlers) RequestUpdate(c fiber.Ctx) error {
	accepted := h.service.Update(c.Context())

	status := fiber.StatusAccepted
	if !accepted {
		status = fiber.StatusOK
	}

	return c.Status(status).JSON(UpdateResponse{
		Accepted: accepted,
		State:    h.service.State().String(),
	})
}

// PushPayload applies the request body as if the backend had answered.
func (h *APIHandlers) PushPayload(c fiber.Ctx) error {
	err := h.service.InjectPayload(c.Context(), c.Body())
	if err != nil {
		if groups.IsParseError(err) {
			return malformedPayload(c, err)
		}

		return internalError(c, err)
	}

	return c.JSON(GroupsResponse{
		Groups:    h.service.Groups(),
		Retrieved: h.service.RetrievedGroups(),
	})
}

func (h *APIHandlers) Configure(c fiber.Ctx) error {
	var req ConfigureRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	cfg, err := req.toConfig()
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.service.Configure(cfg); err != nil {
		if errors.Is(err, groups.ErrInvalidConfig) {
			return badRequest(c, err.Error())
		}

		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(configResponse(h.service.Config()))
}

func (h *APIHandlers) GetGroups(c fiber.Ctx) error {
	return c.JSON(GroupsResponse{
		Groups:    h.service.Groups(),
		Retrieved: h.service.RetrievedGroups(),
	})
}

func (h *APIHandlers) GetGroup(c fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return badRequest(c, "Group name is required")
	}

	if !h.service.IsInGroup(name) {
		return notFound(c, "Device is not a member of group "+name)
	}

	return c.JSON(MembershipResponse{Group: name, Member: true})
}

func (h *APIHandlers) GetDevice(c fiber.Ctx) error {
	return c.JSON(DeviceResponse{
		DeviceID:   h.service.DeviceID(),
		EventName:  h.service.EventName(),
		Device:     h.service.Device(),
		Retrieved:  h.service.RetrievedGroups(),
		LastUpdate: h.service.LastUpdate(),
		State:      h.service.State().String(),
		Config:     configResponse(h.service.Config()),
	})
}

func (r ConfigureRequest) toConfig() (groups.Config, error) {
	mode, err := models.ParseRetrievalMode(r.Mode)
	if err != nil {
		return groups.Config{}, err
	}

	interval, err := parseOptionalDuration(r.Interval)
	if err != nil {
		return groups.Config{}, fmt.Errorf("invalid interval: %w", err)
	}

	responseTimeout, err := parseOptionalDuration(r.ResponseTimeout)
	if err != nil {
		return groups.Config{}, fmt.Errorf("invalid response_timeout: %w", err)
	}

	retryTimeout, err := parseOptionalDuration(r.RetryTimeout)
	if err != nil {
		return groups.Config{}, fmt.Errorf("invalid retry_timeout: %w", err)
	}

	return groups.Config{
		Mode:            mode,
		Interval:        interval,
		ResponseTimeout: responseTimeout,
		RetryTimeout:    retryTimeout,
	}.WithDefaults(), nil
}

func configResponse(cfg groups.Config) ConfigResponse {
	return ConfigResponse{
		Mode:            string(cfg.Mode),
		Interval:        cfg.Interval.String(),
		ResponseTimeout: cfg.ResponseTimeout.String(),
		RetryTimeout:    cfg.RetryTimeout.String(),
	}
}
