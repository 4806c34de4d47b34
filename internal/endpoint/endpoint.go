// Package endpoint manages the lifecycle of one ingest route: mounting the
// composed stage chain on the route registry, turning requests into messages
// and unmounting the route again.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"aitrios-ingest/internal/facade"
	"aitrios-ingest/internal/middleware"
	"aitrios-ingest/internal/model"
	"aitrios-ingest/internal/pipeline"
	"aitrios-ingest/internal/router"
)

var (
	// ErrMissingPath is returned by Activate when no url is configured.
	ErrMissingPath = errors.New("missing path")

	// ErrAlreadyActive is returned by Activate on an active endpoint.
	ErrAlreadyActive = errors.New("endpoint already active")
)

// Sender delivers a message to whatever is wired downstream of the endpoint.
type Sender interface {
	Send(ctx context.Context, msg *model.Message) error
}

// Options configures an Endpoint.
type Options struct {
	URL         string
	SwaggerDoc  string
	MaxBodySize int64
	Hooks       []echo.MiddlewareFunc
	CORS        *echomw.CORSConfig
	// Metrics enables the timing stage when non-nil.
	Metrics middleware.MetricSink
	// RoutesDisabled mirrors a host that serves no flow routes. Activation
	// then registers nothing.
	RoutesDisabled bool
}

// Endpoint accepts PUT requests on one path and emits one message per
// request. It is Inactive until Activate succeeds and after Deactivate.
type Endpoint struct {
	opts     Options
	registry *router.Registry
	sender   Sender
	logger   *slog.Logger

	mu     sync.Mutex
	handle router.Handle
	chain  *pipeline.Chain
	path   string
}

// New creates an inactive Endpoint.
func New(opts Options, reg *router.Registry, sender Sender, logger *slog.Logger) *Endpoint {
	return &Endpoint{
		opts:     opts,
		registry: reg,
		sender:   sender,
		logger:   logger.With("component", "endpoint"),
	}
}

// Activate composes the stage chain and mounts PUT on the configured path. The
// path gets a leading "/" when missing. With CORS configured, OPTIONS on the
// same path answers preflight requests.
func (ep *Endpoint) Activate() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if !ep.handle.IsZero() {
		return fmt.Errorf("activate %s: %w", ep.path, ErrAlreadyActive)
	}
	if ep.opts.RoutesDisabled {
		ep.logger.Warn("endpoint not created: flow routes are disabled")
		return nil
	}
	if ep.opts.URL == "" {
		ep.logger.Warn("endpoint not created: missing path")
		return ErrMissingPath
	}

	path := router.NormalizePath(ep.opts.URL)
	var sink middleware.MetricSink
	if ep.opts.Metrics != nil {
		sink = loggedSink{next: ep.opts.Metrics, logger: ep.logger}
	}
	chain := pipeline.Compose(pipeline.Options{
		Hooks:       ep.opts.Hooks,
		CORS:        ep.opts.CORS,
		Metrics:     sink,
		MaxBodySize: ep.opts.MaxBodySize,
		Callback:    ep.callback,
		Logger:      ep.logger,
	})

	h, err := ep.registry.Mount(http.MethodPut, path, chain.Handler())
	if err != nil {
		return fmt.Errorf("activate %s: %w", path, err)
	}
	if pre := chain.Preflight(); pre != nil {
		ep.registry.EnsurePreflight(path, pre)
	}

	ep.handle, ep.chain, ep.path = h, chain, path
	ep.logger.Info("endpoint active", "method", http.MethodPut, "path", path, "stages", chain.Names())
	return nil
}

// Deactivate unmounts the PUT route this endpoint registered. Other routes,
// including ones on the same path, are left alone. It is a no-op on an
// endpoint that is not active.
func (ep *Endpoint) Deactivate() {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.handle.IsZero() {
		return
	}
	if ep.registry.Unmount(ep.handle) {
		ep.logger.Info("endpoint removed", "method", http.MethodPut, "path", ep.path)
	}
	ep.handle, ep.chain = router.Handle{}, nil
}

// Active reports whether the endpoint's route is mounted.
func (ep *Endpoint) Active() bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return !ep.handle.IsZero()
}

// Path returns the normalized path of the last activation, or "".
func (ep *Endpoint) Path() string {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.path
}

// SwaggerDoc returns the configured swagger document reference.
func (ep *Endpoint) SwaggerDoc() string { return ep.opts.SwaggerDoc }

// Stages lists the stage names of the active chain, or nil.
func (ep *Endpoint) Stages() []string {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.chain == nil {
		return nil
	}
	return ep.chain.Names()
}

// callback builds the message for one request and sends it downstream. When
// no downstream node answered, the request gets an empty 200.
func (ep *Endpoint) callback(c echo.Context) error {
	id := uuid.NewString()
	middleware.SetMessageID(c, id)

	payload, _ := middleware.Payload(c)
	req := c.Request()
	msg := &model.Message{
		ID:      id,
		Req:     model.NewRequest(req, c.RealIP(), middleware.Cookies(c)),
		Res:     facade.New(c, ep.logger.With("msgid", id)),
		Payload: payload,
	}

	if err := ep.sender.Send(req.Context(), msg); err != nil {
		return fmt.Errorf("send message %s: %w", id, err)
	}
	if !c.Response().Committed {
		return c.NoContent(http.StatusOK)
	}
	return nil
}

type loggedSink struct {
	next   middleware.MetricSink
	logger *slog.Logger
}

func (s loggedSink) Metric(name, msgID, value string) {
	s.logger.Debug("metric", "name", name, "msgid", msgID, "value", value)
	s.next.Metric(name, msgID, value)
}
