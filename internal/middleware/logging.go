// Package middleware provides the echo middleware used globally and the stages
// composed in front of the ingest endpoint.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

var sensitiveHeaders = map[string]bool{
	"Authorization":       true,
	"Cookie":              true,
	"Set-Cookie":          true,
	"Proxy-Authorization": true,
	"X-Api-Key":           true,
}

// SafeHeaders flattens h for logging with credential headers redacted.
func SafeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vals := range h {
		if sensitiveHeaders[http.CanonicalHeaderKey(k)] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = strings.Join(vals, ", ")
	}
	return out
}

// RequestLogger returns an Echo middleware that logs each request with slog.
// Request headers are included at debug level.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"content_type", req.Header.Get(echo.HeaderContentType),
				"bytes_in", req.ContentLength,
				"bytes_out", res.Size,
			}
			if id := MessageID(c); id != "" {
				attrs = append(attrs, "msgid", id)
			}
			logger.Info("request", attrs...)

			if logger.Enabled(req.Context(), slog.LevelDebug) {
				logger.Debug("request headers", "path", req.URL.Path, "headers", SafeHeaders(req.Header))
			}

			return err
		}
	}
}
