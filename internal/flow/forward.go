package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"aitrios-ingest/internal/classify"
	"aitrios-ingest/internal/client"
	"aitrios-ingest/internal/model"
)

// ErrWebhookStatus is returned when the webhook answers with a non-2xx status.
var ErrWebhookStatus = errors.New("webhook rejected message")

// forwardableHeaders are the only request headers copied onto the webhook call.
var forwardableHeaders = []string{
	"Accept-Language",
	"User-Agent",
	"X-Request-Id",
}

const (
	headerCorrelationID = "X-Correlation-Id"
	headerPayloadKind   = "X-Payload-Kind"
	headerSourcePath    = "X-Source-Path"
	forwarderAgent      = "aitrios-ingest/1.0"
)

// Forward posts each message payload to a webhook.
type Forward struct {
	client *client.WebhookClient
	url    string
	logger *slog.Logger
}

// NewForward creates a Forward node posting to url.
func NewForward(c *client.WebhookClient, url string, logger *slog.Logger) *Forward {
	return &Forward{
		client: c,
		url:    url,
		logger: logger.With("component", "forward"),
	}
}

// Name implements Node.
func (f *Forward) Name() string { return "forward" }

// Receive implements Node.
func (f *Forward) Receive(ctx context.Context, msg *model.Message) error {
	body, contentType, err := encodePayload(msg)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	header := filterHeaders(msg.Req.Header())
	header.Set(echo.HeaderContentType, contentType)
	header.Set(headerCorrelationID, msg.ID)
	header.Set(headerPayloadKind, msg.Payload.Kind().String())
	header.Set(headerSourcePath, msg.Req.Path())

	f.logger.Debug("forwarding message",
		"msgid", msg.ID,
		"kind", msg.Payload.Kind().String(),
		"bytes", len(body),
	)

	resp, err := f.client.Post(ctx, f.url, header, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("forward %s: %w", msg.ID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrWebhookStatus, resp.StatusCode)
	}
	return nil
}

func encodePayload(msg *model.Message) ([]byte, string, error) {
	switch msg.Payload.Kind() {
	case model.KindText:
		s, _ := msg.Payload.Text()
		return []byte(s), echo.MIMETextPlainCharsetUTF8, nil
	case model.KindBinary:
		b, _ := msg.Payload.Bytes()
		return b, binaryContentType(msg), nil
	case model.KindStructured:
		v, _ := msg.Payload.Value()
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return b, echo.MIMEApplicationJSON, nil
	default:
		return nil, echo.MIMEOctetStream, nil
	}
}

// binaryContentType keeps the sender's Content-Type and otherwise names the
// recognized image formats.
func binaryContentType(msg *model.Message) string {
	if ct := msg.Req.HeaderValue(echo.HeaderContentType); ct != "" {
		return ct
	}
	b, _ := msg.Payload.Bytes()
	switch {
	case classify.IsJPEG(b):
		return "image/jpeg"
	case classify.IsBMP(b):
		return "image/bmp"
	default:
		return echo.MIMEOctetStream
	}
}

func filterHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	// Device metadata travels in X-Aitrios-* headers.
	for key, vals := range src {
		if strings.HasPrefix(strings.ToLower(key), "x-aitrios-") {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	if dst.Get("User-Agent") == "" {
		dst.Set("User-Agent", forwarderAgent)
	}
	return dst
}
