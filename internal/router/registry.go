// Package router holds the table of routes that endpoints mount and unmount at
// runtime. Echo cannot remove a route once added, so the registry is attached
// to echo through a single catch-all route and does its own dispatch.
package router

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
)

// ErrRouteExists is returned by Mount when (method, path) is already taken.
var ErrRouteExists = errors.New("route already registered")

// Handle identifies one registration. Only the registration it was issued for
// can be removed with it.
type Handle struct {
	id     uint64
	method string
	path   string
}

func (h Handle) Method() string { return h.method }
func (h Handle) Path() string   { return h.path }

// IsZero reports whether h was never issued by a registry.
func (h Handle) IsZero() bool { return h.id == 0 }

// Route describes one active registration.
type Route struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

type routeKey struct {
	method string
	path   string
}

type entry struct {
	id      uint64
	handler echo.HandlerFunc
}

// Registry is safe for concurrent use. Dispatch only takes a read lock.
type Registry struct {
	mu        sync.RWMutex
	routes    map[routeKey]entry
	preflight map[string]echo.HandlerFunc
	nextID    uint64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		routes:    make(map[routeKey]entry),
		preflight: make(map[string]echo.HandlerFunc),
	}
}

// NormalizePath adds a leading slash and drops a trailing one, except for "/".
func NormalizePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}

// Attach routes every request echo does not match statically into r.
func (r *Registry) Attach(e *echo.Echo) {
	e.Any("/*", r.Dispatch)
}

// Mount registers h for method and path.
func (r *Registry) Mount(method, path string, h echo.HandlerFunc) (Handle, error) {
	key := routeKey{method: strings.ToUpper(method), path: NormalizePath(path)}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.routes[key]; ok {
		return Handle{}, fmt.Errorf("mount %s %s: %w", key.method, key.path, ErrRouteExists)
	}
	r.nextID++
	r.routes[key] = entry{id: r.nextID, handler: h}
	return Handle{id: r.nextID, method: key.method, path: key.path}, nil
}

// Unmount removes the registration h was issued for. It reports false when that
// registration is already gone, leaving any other route untouched.
func (r *Registry) Unmount(h Handle) bool {
	if h.IsZero() {
		return false
	}
	key := routeKey{method: h.method, path: h.path}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.routes[key]
	if !ok || e.id != h.id {
		return false
	}
	delete(r.routes, key)
	return true
}

// EnsurePreflight installs an OPTIONS responder for path unless one exists. It
// answers OPTIONS for the path whatever method the preflight asks about, and
// stays installed for the lifetime of the registry.
func (r *Registry) EnsurePreflight(path string, h echo.HandlerFunc) bool {
	path = NormalizePath(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.preflight[path]; ok {
		return false
	}
	r.preflight[path] = h
	return true
}

// Routes lists active registrations sorted by path then method. Preflight
// responders are listed with method OPTIONS.
func (r *Registry) Routes() []Route {
	r.mu.RLock()
	out := make([]Route, 0, len(r.routes)+len(r.preflight))
	for k := range r.routes {
		out = append(out, Route{Method: k.method, Path: k.path})
	}
	for p := range r.preflight {
		if _, ok := r.routes[routeKey{method: http.MethodOptions, path: p}]; !ok {
			out = append(out, Route{Method: http.MethodOptions, Path: p})
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

func (r *Registry) lookup(method, path string) (echo.HandlerFunc, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.routes[routeKey{method: method, path: path}]; ok {
		return e.handler, nil
	}
	if method == http.MethodOptions {
		if h, ok := r.preflight[path]; ok {
			return h, nil
		}
	}
	var allowed []string
	for k := range r.routes {
		if k.path == path {
			allowed = append(allowed, k.method)
		}
	}
	if _, ok := r.preflight[path]; ok && len(allowed) > 0 {
		allowed = append(allowed, http.MethodOptions)
	}
	sort.Strings(allowed)
	return nil, allowed
}

// Dispatch serves c from the matching registration. Unknown paths get 404 and
// known paths with another method get 405 with an Allow header.
func (r *Registry) Dispatch(c echo.Context) error {
	req := c.Request()
	h, allowed := r.lookup(req.Method, NormalizePath(req.URL.Path))
	if h != nil {
		return h(c)
	}
	if len(allowed) > 0 {
		c.Response().Header().Set(echo.HeaderAllow, strings.Join(allowed, ", "))
		return echo.ErrMethodNotAllowed
	}
	return echo.ErrNotFound
}
