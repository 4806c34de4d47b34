package middleware

import (
	"net/url"

	"github.com/labstack/echo/v4"
)

// CookieParser parses the Cookie header into a name -> value map available
// through Cookies. The first occurrence of a name wins and percent-encoded
// values are decoded when they decode cleanly.
func CookieParser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cookies := c.Cookies()
			parsed := make(map[string]string, len(cookies))
			for _, ck := range cookies {
				if _, seen := parsed[ck.Name]; seen {
					continue
				}
				v := ck.Value
				if dec, err := url.PathUnescape(v); err == nil {
					v = dec
				}
				parsed[ck.Name] = v
			}
			c.Set(cookiesKey, parsed)
			return next(c)
		}
	}
}
