package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"aitrios-ingest/internal/metrics"
)

// MetricSink receives per-message measurements. Values are strings so that the
// sink sees exactly what was measured, e.g. "12.345" or an absent length "".
type MetricSink interface {
	Metric(name, msgID, value string)
}

// Timing measures the time from entering the stage until response headers are
// written, and the response content length. Both are reported to sink tagged
// with the message id, and only for requests that produced a message. The
// length comes from the Content-Length header when one was set before the
// headers went out, otherwise from the bytes written by the time the rest of
// the chain returns.
func Timing(sink MetricSink) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			res := c.Response()
			sized := false
			res.Before(func() {
				id := MessageID(c)
				if id == "" {
					return
				}
				ms := float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond)
				sink.Metric(metrics.ResponseTimeMillis, id, strconv.FormatFloat(ms, 'f', 3, 64))
				if cl := res.Header().Get(echo.HeaderContentLength); cl != "" {
					sink.Metric(metrics.ResponseContentSize, id, cl)
					sized = true
				}
			})

			err := next(c)

			if id := MessageID(c); id != "" && res.Committed && !sized {
				sink.Metric(metrics.ResponseContentSize, id, strconv.FormatInt(res.Size, 10))
			}
			return err
		}
	}
}
