package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gopkg.in/yaml.v3"

	"github.com/open-rov/rovbridge/pkg/link"
	customlog "github.com/open-rov/rovbridge/pkg/log"
	"github.com/open-rov/rovbridge/pkg/vehicle"
)

// ConfigHandler holds dependencies for the REST endpoints.
type ConfigHandler struct {
	bridge Bridge
	logger customlog.Logger
}

// NewConfigHandler creates a new handler for configuration and link endpoints.
func NewConfigHandler(bridge Bridge, logger customlog.Logger) *ConfigHandler {
	if bridge == nil {
		panic("Bridge cannot be nil in NewConfigHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewConfigHandler")
	}
	return &ConfigHandler{
		bridge: bridge,
		logger: logger,
	}
}

// RegisterConfigRoutes registers the REST endpoints with the Fiber app.
func RegisterConfigRoutes(app *fiber.App, bridge Bridge, logger customlog.Logger) {
	h := NewConfigHandler(bridge, logger)

	v1 := app.Group("/api/v1")

	v1.Get("/config/vehicle", h.handleGetVehicleConfig)
	v1.Put("/config/vehicle", h.handleUpdateVehicleConfig)

	v1.Get("/ports", h.handleListPorts)

	v1.Get("/links", h.handleListLinks)
	v1.Get("/links/:name", h.handleGetLink)
	v1.Post("/links/:name/connect", h.handleConnectLink)
	v1.Post("/links/:name/disconnect", h.handleDisconnectLink)

	logger.Infof("Registered REST API endpoints under /api/v1")
}

// handleGetVehicleConfig returns the vehicle configuration as JSON, or YAML
// with ?format=yaml.
func (h *ConfigHandler) handleGetVehicleConfig(c *fiber.Ctx) error {
	cfg := h.bridge.GetConfiguration()
	if c.Query("format") != "yaml" {
		return c.JSON(cfg)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		h.logger.Errorf("Failed to encode vehicle config as YAML: %v", err)
		return fiber.NewError(http.StatusInternalServerError, "Failed to encode configuration")
	}
	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(data)
}

// handleUpdateVehicleConfig merges a partial configuration sent as JSON or YAML.
func (h *ConfigHandler) handleUpdateVehicleConfig(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Request body cannot be empty.",
		})
	}

	u, err := decodeUpdate(c.Get(fiber.HeaderContentType), body)
	if err != nil {
		h.logger.Warnf("Rejected vehicle config update: %v", err)
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("Configuration update failed: %v", err),
		})
	}

	next := h.bridge.UpdateConfiguration(u)
	return c.JSON(ConfigUpdatedPayload{Success: true, NewConfig: next})
}

// decodeUpdate parses the body by content type. YAML keys match the JSON ones.
func decodeUpdate(contentType string, body []byte) (vehicle.Update, error) {
	var u vehicle.Update
	if strings.Contains(contentType, "yaml") {
		// Round-trip through a generic map so the JSON tags drive field names.
		var generic map[string]any
		if err := yaml.Unmarshal(body, &generic); err != nil {
			return u, fmt.Errorf("invalid YAML: %w", err)
		}
		converted, err := json.Marshal(generic)
		if err != nil {
			return u, fmt.Errorf("invalid YAML: %w", err)
		}
		body = converted
	}
	if err := json.Unmarshal(body, &u); err != nil {
		return u, fmt.Errorf("invalid JSON: %w", err)
	}
	return u, nil
}

func (h *ConfigHandler) handleListPorts(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	ports, err := h.bridge.FindComPorts(ctx)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(ports)
}

func (h *ConfigHandler) handleListLinks(c *fiber.Ctx) error {
	names := h.bridge.LinkNames()
	out := make([]LinkStatusPayload, 0, len(names))
	for _, name := range names {
		st, err := h.bridge.QueryLinkStatus(name)
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		out = append(out, statusPayload(name, st))
	}
	return c.JSON(out)
}

func (h *ConfigHandler) handleGetLink(c *fiber.Ctx) error {
	name := c.Params("name")
	st, err := h.bridge.QueryLinkStatus(name)
	if err != nil {
		return linkError(err)
	}
	return c.JSON(statusPayload(name, st))
}

func (h *ConfigHandler) handleConnectLink(c *fiber.Ctx) error {
	name := c.Params("name")
	var req LinkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	if err := h.bridge.ConnectLink(ctx, name, req.Path); err != nil {
		return linkError(err)
	}
	st, _ := h.bridge.QueryLinkStatus(name)
	return c.JSON(statusPayload(name, st))
}

func (h *ConfigHandler) handleDisconnectLink(c *fiber.Ctx) error {
	name := c.Params("name")
	if err := h.bridge.DisconnectLink(name); err != nil {
		return linkError(err)
	}
	st, _ := h.bridge.QueryLinkStatus(name)
	return c.JSON(statusPayload(name, st))
}

func statusPayload(name string, st link.Status) LinkStatusPayload {
	return LinkStatusPayload{Link: name, State: string(st.State), Message: st.Message, Path: st.Path}
}

// linkError maps link errors onto HTTP status codes.
func linkError(err error) error {
	switch {
	case errors.Is(err, link.ErrUnknownLink):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, link.ErrEmptyPath):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, link.ErrOpenInProgress), errors.Is(err, link.ErrAlreadyConnected),
		errors.Is(err, link.ErrPathInUse):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}
}
