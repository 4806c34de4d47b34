package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"aitrios-ingest/internal/client"
	"aitrios-ingest/internal/config"
	"aitrios-ingest/internal/endpoint"
	"aitrios-ingest/internal/flow"
	"aitrios-ingest/internal/handler"
	"aitrios-ingest/internal/metrics"
	"aitrios-ingest/internal/middleware"
	"aitrios-ingest/internal/router"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("aitrios-ingest"),
		kong.Description("HTTP PUT ingestion endpoint for AITRIOS edge devices."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newMetrics,
			newEcho,
			router.New,
			client.NewWebhookClient,
			newSender,
			newEndpoint,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, manageEndpoint, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newMetrics(cfg *config.Config) *metrics.Metrics {
	paths := []string{cfg.Metrics.Path}
	if cfg.Endpoint.URL != "" {
		paths = append(paths, router.NormalizePath(cfg.Endpoint.URL))
	}
	return metrics.New(paths...)
}

func newEcho(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 30 * time.Second
	// Slow webhooks hold the response open; the webhook client timeout bounds them.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

// newSender wires the flow behind the endpoint. The responder always runs
// last so debug output and forwarding happen before the request is answered.
func newSender(cfg *config.Config, wc *client.WebhookClient, m *metrics.Metrics, logger *slog.Logger) *flow.Sender {
	var nodes []flow.Node
	if cfg.Flow.Debug {
		nodes = append(nodes, flow.NewDebug(logger))
	}
	if cfg.Flow.ForwardURL != "" {
		nodes = append(nodes, flow.NewForward(wc, cfg.Flow.ForwardURL, logger))
	}
	nodes = append(nodes, &flow.Responder{
		Status:      cfg.Flow.RespondStatus,
		Headers:     cfg.Flow.RespondHeaders,
		EchoPayload: cfg.Flow.EchoPayload,
	})
	return flow.NewSender(logger, m, nodes...)
}

func newEndpoint(cfg *config.Config, reg *router.Registry, sender *flow.Sender, m *metrics.Metrics, logger *slog.Logger) (*endpoint.Endpoint, error) {
	hooks, err := middleware.Hooks(cfg.Endpoint.Hooks, logger)
	if err != nil {
		return nil, fmt.Errorf("endpoint hooks: %w", err)
	}

	opts := endpoint.Options{
		URL:            cfg.Endpoint.URL,
		SwaggerDoc:     cfg.Endpoint.SwaggerDoc,
		MaxBodySize:    int64(cfg.Endpoint.MaxBodySize),
		Hooks:          hooks,
		RoutesDisabled: !cfg.HTTP.RoutesEnabled(),
	}
	if cfg.CORS.Enabled {
		opts.CORS = &echomw.CORSConfig{
			AllowOrigins:     cfg.CORS.AllowOrigins,
			AllowMethods:     cfg.CORS.AllowMethods,
			AllowHeaders:     cfg.CORS.AllowHeaders,
			ExposeHeaders:    cfg.CORS.ExposeHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           cfg.CORS.MaxAge,
		}
	}
	// Assigned only when enabled: a nil *Metrics in the interface would
	// still switch the timing stage on.
	if cfg.Endpoint.MetricsEnabled {
		opts.Metrics = m
	}

	return endpoint.New(opts, reg, sender, logger), nil
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

// manageEndpoint ties the endpoint to the application lifecycle. A missing
// path leaves the node without a route but does not stop the server.
func manageEndpoint(lc fx.Lifecycle, ep *endpoint.Endpoint) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := ep.Activate(); err != nil && !errors.Is(err, endpoint.ErrMissingPath) {
				return fmt.Errorf("activate endpoint: %w", err)
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			ep.Deactivate()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "version", version)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
