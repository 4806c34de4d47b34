package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"aitrios-ingest/internal/metrics"
)

// MetricsMiddleware records request count, latency and in-flight requests for
// every route, plus the declared size of PUT uploads.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := m.NormalizePath(req.URL.Path)

			m.RequestsInFlight.Inc()
			start := time.Now()
			err := next(c)
			elapsed := time.Since(start)
			m.RequestsInFlight.Dec()

			if req.Method == http.MethodPut && req.ContentLength > 0 {
				m.UploadBytes.WithLabelValues(path).Add(float64(req.ContentLength))
			}

			labels := []string{metrics.NormalizeMethod(req.Method), strconv.Itoa(responseStatus(c, err)), path}
			m.RequestsTotal.WithLabelValues(labels...).Inc()
			m.RequestDuration.WithLabelValues(labels...).Observe(elapsed.Seconds())

			return err
		}
	}
}

// responseStatus predicts the status echo's error handler will write for an
// error that has not reached the response yet.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
