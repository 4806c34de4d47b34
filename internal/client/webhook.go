// Package client provides the outbound HTTP client used to forward messages
// to a webhook.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"aitrios-ingest/internal/config"
	"aitrios-ingest/internal/metrics"
)

// Response is a webhook response. The caller closes Body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// WebhookClient sends requests to webhook receivers.
type WebhookClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewWebhookClient creates a WebhookClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable webhook metrics recording.
func NewWebhookClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *WebhookClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Flow.ForwardIdleConnections,
		MaxIdleConnsPerHost: cfg.Flow.ForwardIdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &WebhookClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Flow.ForwardTimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "webhook_client"),
		metrics: m,
	}
}

// Do executes req and returns the raw response.
// The caller is responsible for closing the response body.
func (c *WebhookClient) Do(req *http.Request) (*Response, error) {
	c.logger.Debug("webhook request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via Response
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.WebhookDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("webhook request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.WebhookDuration.WithLabelValues(method).Observe(duration)
		c.metrics.WebhookResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Post sends body to url. The context bounds the whole call, so a client that
// disconnects from the endpoint cancels the webhook call too.
func (c *WebhookClient) Post(ctx context.Context, url string, header http.Header, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header = header

	return c.Do(req)
}
