package model

import (
	"maps"
	"net/http"
	"net/url"

	"aitrios-ingest/internal/facade"
)

// Request is a read-only view of an inbound request. Headers are copied when the
// view is built and cannot be changed through it.
type Request struct {
	method   string
	path     string
	remoteIP string
	header   http.Header
	query    url.Values
	cookies  map[string]string
}

// NewRequest snapshots r. cookies may be nil.
func NewRequest(r *http.Request, remoteIP string, cookies map[string]string) *Request {
	c := make(map[string]string, len(cookies))
	maps.Copy(c, cookies)
	return &Request{
		method:   r.Method,
		path:     r.URL.Path,
		remoteIP: remoteIP,
		header:   r.Header.Clone(),
		query:    r.URL.Query(),
		cookies:  c,
	}
}

func (r *Request) Method() string   { return r.method }
func (r *Request) Path() string     { return r.path }
func (r *Request) RemoteIP() string { return r.remoteIP }

// Header returns a copy of the request headers.
func (r *Request) Header() http.Header { return r.header.Clone() }

// HeaderValue returns the first value of the named header, case-insensitively.
func (r *Request) HeaderValue(name string) string { return r.header.Get(name) }

// Query returns a copy of the query parameters.
func (r *Request) Query() url.Values {
	q := make(url.Values, len(r.query))
	for k, v := range r.query {
		q[k] = append([]string(nil), v...)
	}
	return q
}

// Cookie returns the named request cookie.
func (r *Request) Cookie(name string) (string, bool) {
	v, ok := r.cookies[name]
	return v, ok
}

// Cookies returns a copy of all request cookies.
func (r *Request) Cookies() map[string]string { return maps.Clone(r.cookies) }

// Message is what the endpoint hands to the flow runtime for each request.
type Message struct {
	ID      string
	Req     *Request
	Res     *facade.Response
	Payload Body
}
