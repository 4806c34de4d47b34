package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"aitrios-ingest/internal/config"
	"aitrios-ingest/internal/endpoint"
	"aitrios-ingest/internal/flow"
	"aitrios-ingest/internal/router"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg      *config.Config
	version  Version
	endpoint *endpoint.Endpoint
	registry *router.Registry
	sender   *flow.Sender
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, ep *endpoint.Endpoint, reg *router.Registry, sender *flow.Sender) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, endpoint: ep, registry: reg, sender: sender}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type endpointStatus struct {
	Path        string   `json:"path"`
	Active      bool     `json:"active"`
	SwaggerDoc  string   `json:"swagger_doc,omitempty"`
	MaxBodySize string   `json:"max_body_size"`
	Stages      []string `json:"stages,omitempty"`
}

type statusResponse struct {
	Status   string         `json:"status"`
	Version  string         `json:"version"`
	Endpoint endpointStatus `json:"endpoint"`
	Routes   []router.Route `json:"routes"`
	Nodes    []string       `json:"nodes"`
}

// Status reports the endpoint state, the mounted routes and the wired nodes.
func (h *HealthHandler) Status(c echo.Context) error {
	path := h.endpoint.Path()
	if path == "" {
		path = h.cfg.Endpoint.URL
	}
	return c.JSON(http.StatusOK, statusResponse{
		Status:  "ok",
		Version: string(h.version),
		Endpoint: endpointStatus{
			Path:        path,
			Active:      h.endpoint.Active(),
			SwaggerDoc:  h.endpoint.SwaggerDoc(),
			MaxBodySize: h.cfg.Endpoint.MaxBodySize.String(),
			Stages:      h.endpoint.Stages(),
		},
		Routes: h.registry.Routes(),
		Nodes:  h.sender.Nodes(),
	})
}
