package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"aitrios-ingest/internal/config"
	"aitrios-ingest/internal/endpoint"
	"aitrios-ingest/internal/flow"
	"aitrios-ingest/internal/router"
)

type harness struct {
	cfg    *config.Config
	reg    *router.Registry
	ep     *endpoint.Endpoint
	sender *flow.Sender
}

func newHarness(t *testing.T, url string) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Endpoint: config.EndpointConfig{URL: url, MaxBodySize: config.DefaultMaxBodySize, SwaggerDoc: "ingest.yaml"},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	reg := router.New()
	sender := flow.NewSender(logger, nil, &flow.Responder{Status: http.StatusAccepted})
	ep := endpoint.New(endpoint.Options{
		URL:         url,
		SwaggerDoc:  cfg.Endpoint.SwaggerDoc,
		MaxBodySize: int64(cfg.Endpoint.MaxBodySize),
	}, reg, sender, logger)
	return &harness{cfg: cfg, reg: reg, ep: ep, sender: sender}
}

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	hs := newHarness(t, "/aitrios/put")
	h := NewHealthHandler(hs.cfg, "test", hs.ep, hs.reg, hs.sender)
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	hs := newHarness(t, "aitrios/put")
	if err := hs.ep.Activate(); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ingest/status", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(hs.cfg, "1.2.3", hs.ep, hs.reg, hs.sender)
	if err := h.Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("body.status = %q, want %q", body.Status, "ok")
	}
	if body.Version != "1.2.3" {
		t.Errorf("body.version = %q, want %q", body.Version, "1.2.3")
	}
	if body.Endpoint.Path != "/aitrios/put" {
		t.Errorf("endpoint.path = %q, want %q", body.Endpoint.Path, "/aitrios/put")
	}
	if !body.Endpoint.Active {
		t.Error("endpoint.active = false, want true")
	}
	if body.Endpoint.SwaggerDoc != "ingest.yaml" {
		t.Errorf("endpoint.swagger_doc = %q, want %q", body.Endpoint.SwaggerDoc, "ingest.yaml")
	}
	if body.Endpoint.MaxBodySize != "5.0 MiB" {
		t.Errorf("endpoint.max_body_size = %q, want %q", body.Endpoint.MaxBodySize, "5.0 MiB")
	}
	if len(body.Endpoint.Stages) == 0 {
		t.Error("endpoint.stages is empty")
	}
	if len(body.Routes) != 1 || body.Routes[0] != (router.Route{Method: http.MethodPut, Path: "/aitrios/put"}) {
		t.Errorf("routes = %+v, want one PUT /aitrios/put", body.Routes)
	}
	if len(body.Nodes) != 1 || body.Nodes[0] != "respond" {
		t.Errorf("nodes = %v, want [respond]", body.Nodes)
	}
}

func TestStatus_Inactive(t *testing.T) {
	hs := newHarness(t, "/aitrios/put")

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ingest/status", http.NoBody), rec)

	h := NewHealthHandler(hs.cfg, "test", hs.ep, hs.reg, hs.sender)
	if err := h.Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Endpoint.Active {
		t.Error("endpoint.active = true, want false")
	}
	if body.Endpoint.Path != "/aitrios/put" {
		t.Errorf("endpoint.path = %q, want configured %q", body.Endpoint.Path, "/aitrios/put")
	}
	if len(body.Routes) != 0 {
		t.Errorf("routes = %+v, want none", body.Routes)
	}
}
