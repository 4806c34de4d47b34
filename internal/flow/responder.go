package flow

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"aitrios-ingest/internal/model"
)

// Responder answers the originating request. It writes through the
// underlying echo context, so it never triggers deprecation warnings.
type Responder struct {
	Status  int
	Headers map[string]string
	// EchoPayload sends the payload back as the response body.
	EchoPayload bool
}

// Name implements Node.
func (r *Responder) Name() string { return "respond" }

// Receive implements Node. A response another node already sent is left as is.
func (r *Responder) Receive(_ context.Context, msg *model.Message) error {
	c := msg.Res.Underlying()
	if c.Response().Committed {
		return nil
	}

	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	h := c.Response().Header()
	for k, v := range r.Headers {
		h.Set(k, v)
	}

	if !r.EchoPayload {
		return c.NoContent(status)
	}
	switch msg.Payload.Kind() {
	case model.KindText:
		s, _ := msg.Payload.Text()
		h.Set(echo.HeaderContentLength, strconv.Itoa(len(s)))
		return c.Blob(status, echo.MIMETextPlainCharsetUTF8, []byte(s))
	case model.KindBinary:
		b, _ := msg.Payload.Bytes()
		h.Set(echo.HeaderContentLength, strconv.Itoa(len(b)))
		return c.Blob(status, binaryContentType(msg), b)
	case model.KindStructured:
		v, _ := msg.Payload.Value()
		return c.JSON(status, v)
	default:
		return c.NoContent(status)
	}
}
