package middleware

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

var builtinHooks = map[string]func(logger *slog.Logger) echo.MiddlewareFunc{
	"request_id": func(*slog.Logger) echo.MiddlewareFunc {
		return echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString})
	},
	"security_headers": func(*slog.Logger) echo.MiddlewareFunc {
		return SecurityHeaders()
	},
	"request_log": func(logger *slog.Logger) echo.MiddlewareFunc {
		return RequestLogger(logger.With("component", "endpoint_requests"))
	},
	"skip_raw_body": func(*slog.Logger) echo.MiddlewareFunc {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				SkipRawBody(c)
				return next(c)
			}
		}
	},
}

// HookNames lists the named pre-processing hooks that can be set in config.
func HookNames() []string {
	names := make([]string, 0, len(builtinHooks))
	for n := range builtinHooks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Hooks resolves named pre-processing hooks in order.
func Hooks(names []string, logger *slog.Logger) ([]echo.MiddlewareFunc, error) {
	out := make([]echo.MiddlewareFunc, 0, len(names))
	for _, n := range names {
		build, ok := builtinHooks[n]
		if !ok {
			return nil, fmt.Errorf("unknown hook %q (known: %v)", n, HookNames())
		}
		out = append(out, build(logger))
	}
	return out, nil
}
