package middleware

import (
	"errors"
	"fmt"

	"github.com/labstack/echo/v4"

	"aitrios-ingest/internal/bodyreader"
	"aitrios-ingest/internal/classify"
	"aitrios-ingest/internal/model"
)

// ErrInvalidContentType is returned when a Content-Type header is present but
// cannot be parsed.
var ErrInvalidContentType = errors.New("invalid content type")

// RawBody reads bodies no parser claimed, up to limit bytes, and classifies
// them. Text content types are decoded while reading; everything else is read
// as bytes and sniffed. Requests flagged with SkipRawBody are left unread.
func RawBody(limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if rawBodySkipped(c) || bodyClaimed(c) {
				return next(c)
			}

			req := c.Request()
			ct := req.Header.Get(echo.HeaderContentType)
			if ct != "" {
				if _, err := classify.ParseMediaType(ct); err != nil {
					return fmt.Errorf("%w: %w", ErrInvalidContentType, err)
				}
			}

			opts := bodyreader.Options{DeclaredLength: req.ContentLength, Limit: limit}
			var payload model.Body
			if classify.Decide(ct) == classify.DecideText {
				text, err := bodyreader.ReadText(req.Body, opts)
				if err != nil {
					return fmt.Errorf("read body: %w", err)
				}
				payload = model.TextBody(text)
			} else {
				raw, err := bodyreader.Read(req.Body, opts)
				if err != nil {
					return fmt.Errorf("read body: %w", err)
				}
				payload = classify.Classify(ct, raw)
			}

			SetPayload(c, payload)
			return next(c)
		}
	}
}
