// Package pipeline composes the ordered stage chain that runs in front of an
// ingest endpoint's callback.
package pipeline

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"aitrios-ingest/internal/middleware"
)

// Stage names, in chain order.
const (
	StageCookies       = "cookies"
	StagePreProcessing = "pre-processing"
	StageCORS          = "cors"
	StageTiming        = "timing"
	StageJSON          = "json"
	StageURLEncoded    = "urlencoded"
	StageRawBody       = "raw-body"
)

// Stage is one named link of the chain.
type Stage struct {
	Name   string
	Handle echo.MiddlewareFunc
}

// Options configures Compose.
type Options struct {
	// Hooks run in order in the pre-processing stage.
	Hooks []echo.MiddlewareFunc
	// CORS enables the cors stage and a preflight responder when non-nil.
	CORS *echomw.CORSConfig
	// Metrics enables the timing stage when non-nil.
	Metrics middleware.MetricSink
	// MaxBodySize bounds every body stage.
	MaxBodySize int64
	// Callback is the terminal handler.
	Callback echo.HandlerFunc
	Logger   *slog.Logger
}

// Chain is an immutable composition of stages around a callback.
type Chain struct {
	stages    []Stage
	callback  echo.HandlerFunc
	preflight echo.HandlerFunc
	logger    *slog.Logger
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

// Compose builds the chain: cookies, pre-processing, cors, timing, json,
// urlencoded, raw-body, then the callback, all wrapped by the error handler.
// Disabled stages keep their slot as pass-through.
func Compose(opts Options) *Chain {
	ch := &Chain{
		callback: opts.Callback,
		logger:   opts.Logger,
	}

	pre := echo.MiddlewareFunc(passThrough)
	if len(opts.Hooks) > 0 {
		pre = sequence(opts.Hooks)
	}

	cors := echo.MiddlewareFunc(passThrough)
	if opts.CORS != nil {
		cors = echomw.CORSWithConfig(*opts.CORS)
		ch.preflight = cors(func(c echo.Context) error {
			return c.NoContent(http.StatusNoContent)
		})
	}

	timing := echo.MiddlewareFunc(passThrough)
	if opts.Metrics != nil {
		timing = middleware.Timing(opts.Metrics)
	}

	ch.stages = []Stage{
		{Name: StageCookies, Handle: middleware.CookieParser()},
		{Name: StagePreProcessing, Handle: pre},
		{Name: StageCORS, Handle: cors},
		{Name: StageTiming, Handle: timing},
		{Name: StageJSON, Handle: middleware.JSONParser(opts.MaxBodySize)},
		{Name: StageURLEncoded, Handle: middleware.FormParser(opts.MaxBodySize)},
		{Name: StageRawBody, Handle: middleware.RawBody(opts.MaxBodySize)},
	}
	return ch
}

func sequence(mws []echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}

// Stages returns a copy of the stages in order.
func (ch *Chain) Stages() []Stage {
	out := make([]Stage, len(ch.stages))
	copy(out, ch.stages)
	return out
}

// Names lists the stage names in order.
func (ch *Chain) Names() []string {
	names := make([]string, len(ch.stages))
	for i, s := range ch.stages {
		names[i] = s.Name
	}
	return names
}

// Handler returns the composed handler. Every stage error and callback error
// is handled by the chain's error handler and never reaches echo.
func (ch *Chain) Handler() echo.HandlerFunc {
	h := ch.callback
	for i := len(ch.stages) - 1; i >= 0; i-- {
		h = ch.stages[i].Handle(h)
	}
	return func(c echo.Context) error {
		if err := h(c); err != nil {
			return ch.handleError(c, err)
		}
		return nil
	}
}

// Preflight returns the OPTIONS responder, or nil when CORS is off.
func (ch *Chain) Preflight() echo.HandlerFunc {
	return ch.preflight
}

var internalErrorBody = []byte(`{"error":"internal server error"}`)

// handleError logs err and answers with a generic 500. Error details stay in
// the log.
func (ch *Chain) handleError(c echo.Context, err error) error {
	req := c.Request()
	ch.logger.Warn("ingest request failed",
		"err", err,
		"method", req.Method,
		"path", req.URL.Path,
		"msgid", middleware.MessageID(c),
	)
	if c.Response().Committed {
		return nil
	}
	c.Response().Header().Set(echo.HeaderContentLength, strconv.Itoa(len(internalErrorBody)))
	return c.Blob(http.StatusInternalServerError, echo.MIMEApplicationJSON, internalErrorBody)
}
