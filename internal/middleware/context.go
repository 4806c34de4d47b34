package middleware

import (
	"github.com/labstack/echo/v4"

	"aitrios-ingest/internal/model"
)

const (
	cookiesKey     = "ingest.cookies"
	payloadKey     = "ingest.payload"
	messageIDKey   = "ingest.msgid"
	skipRawBodyKey = "ingest.skip_raw_body"
)

// Cookies returns the cookies parsed by the cookies stage, or nil.
func Cookies(c echo.Context) map[string]string {
	m, _ := c.Get(cookiesKey).(map[string]string)
	return m
}

// SetPayload records the request body produced by a body stage. Later body
// stages see the body as claimed and skip.
func SetPayload(c echo.Context, b model.Body) {
	c.Set(payloadKey, b)
}

// Payload returns the body recorded by a body stage. A request whose body was
// never read yields an empty body and false.
func Payload(c echo.Context) (model.Body, bool) {
	b, ok := c.Get(payloadKey).(model.Body)
	if !ok {
		return model.EmptyBody(), false
	}
	return b, true
}

func bodyClaimed(c echo.Context) bool {
	_, ok := c.Get(payloadKey).(model.Body)
	return ok
}

// SetMessageID tags the request with the id of the message built from it.
func SetMessageID(c echo.Context, id string) {
	c.Set(messageIDKey, id)
}

// MessageID returns the id set by SetMessageID, or "".
func MessageID(c echo.Context) string {
	id, _ := c.Get(messageIDKey).(string)
	return id
}

// SkipRawBody flags the request so the raw-body stage leaves the body unread.
// Pre-processing hooks call it for requests they consume themselves.
func SkipRawBody(c echo.Context) {
	c.Set(skipRawBodyKey, true)
}

func rawBodySkipped(c echo.Context) bool {
	skip, _ := c.Get(skipRawBodyKey).(bool)
	return skip
}
