// Package facade wraps the echo response handed to downstream flow nodes.
//
// Flows written against the older message format called response methods
// directly on the message. Every such call still works and is forwarded
// unchanged, but logs a deprecation warning naming the call. Chainable calls
// return the facade so that further calls are intercepted too; calls that
// produce a value or finish the response return that result as is.
package facade

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/munnerz/goautoneg"
)

// Offer is one alternative for Format: a media type and the function that
// writes the response for it. Type "default" is used when nothing matches.
type Offer struct {
	Type string
	Fn   func(c echo.Context) error
}

// Response is a request-scoped wrapper around one echo response.
type Response struct {
	c      echo.Context
	logger *slog.Logger
}

// New wraps c. Warnings go to logger.
func New(c echo.Context, logger *slog.Logger) *Response {
	return &Response{c: c, logger: logger}
}

// Underlying returns the wrapped context. Access through it is not deprecated.
func (r *Response) Underlying() echo.Context { return r.c }

func (r *Response) deprecated(name string) {
	r.logger.Warn("deprecated call", "method", "msg.res."+name)
}

func (r *Response) status() int {
	if s := r.c.Response().Status; s != 0 {
		return s
	}
	return http.StatusOK
}

// Append adds a value to a response header.
func (r *Response) Append(field, value string) *Response {
	r.deprecated("append")
	r.c.Response().Header().Add(field, value)
	return r
}

// Attachment marks the response as a download, naming filename when given.
func (r *Response) Attachment(filename string) *Response {
	r.deprecated("attachment")
	h := r.c.Response().Header()
	if filename == "" {
		h.Set(echo.HeaderContentDisposition, "attachment")
		return r
	}
	base := filepath.Base(filename)
	h.Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", base))
	if ct := mime.TypeByExtension(filepath.Ext(base)); ct != "" {
		h.Set(echo.HeaderContentType, ct)
	}
	return r
}

// Cookie sets a response cookie.
func (r *Response) Cookie(cookie *http.Cookie) *Response {
	r.deprecated("cookie")
	r.c.SetCookie(cookie)
	return r
}

// ClearCookie expires the named cookie. An empty path means "/".
func (r *Response) ClearCookie(name, path string) *Response {
	r.deprecated("clearCookie")
	if path == "" {
		path = "/"
	}
	r.c.SetCookie(&http.Cookie{
		Name:    name,
		Path:    path,
		Expires: time.Unix(0, 0),
		MaxAge:  -1,
	})
	return r
}

// Download sends file as an attachment called name.
func (r *Response) Download(file, name string) error {
	r.deprecated("download")
	return r.c.Attachment(file, name)
}

// End finishes the response with the current status and no body.
func (r *Response) End() error {
	r.deprecated("end")
	if r.c.Response().Committed {
		return nil
	}
	return r.c.NoContent(r.status())
}

// Format picks the offer that best matches the Accept header and runs it. With
// no match and no "default" offer it fails with 406.
func (r *Response) Format(offers ...Offer) error {
	r.deprecated("format")
	r.c.Response().Header().Add(echo.HeaderVary, "Accept")

	accept := r.c.Request().Header.Get(echo.HeaderAccept)
	if accept == "" {
		accept = "*/*"
	}
	types := make([]string, 0, len(offers))
	var fallback *Offer
	for i := range offers {
		if offers[i].Type == "default" {
			fallback = &offers[i]
			continue
		}
		types = append(types, offers[i].Type)
	}

	if match := goautoneg.Negotiate(accept, types); match != "" {
		for _, o := range offers {
			if o.Type == match {
				r.c.Response().Header().Set(echo.HeaderContentType, match)
				return o.Fn(r.c)
			}
		}
	}
	if fallback != nil {
		return fallback.Fn(r.c)
	}
	return echo.ErrNotAcceptable
}

// Get returns the first value of a response header.
func (r *Response) Get(field string) string {
	r.deprecated("get")
	return r.c.Response().Header().Get(field)
}

// JSON sends v as JSON with the current status.
func (r *Response) JSON(v any) error {
	r.deprecated("json")
	return r.c.JSON(r.status(), v)
}

// JSONP sends v wrapped in the callback named by the "callback" query
// parameter, or as plain JSON when there is none.
func (r *Response) JSONP(v any) error {
	r.deprecated("jsonp")
	callback := r.c.QueryParam("callback")
	if callback == "" {
		return r.c.JSON(r.status(), v)
	}
	return r.c.JSONP(r.status(), callback, v)
}

// Links appends a Link header built from rel -> URL pairs.
func (r *Response) Links(links map[string]string) *Response {
	r.deprecated("links")
	rels := make([]string, 0, len(links))
	for rel := range links {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	parts := make([]string, 0, len(rels))
	for _, rel := range rels {
		parts = append(parts, fmt.Sprintf("<%s>; rel=%q", links[rel], rel))
	}
	h := r.c.Response().Header()
	if prev := h.Get("Link"); prev != "" {
		parts = append([]string{prev}, parts...)
	}
	h.Set("Link", strings.Join(parts, ", "))
	return r
}

// Location sets the Location header. "back" resolves to the Referer, or "/".
func (r *Response) Location(url string) *Response {
	r.deprecated("location")
	if url == "back" {
		url = r.c.Request().Referer()
		if url == "" {
			url = "/"
		}
	}
	r.c.Response().Header().Set(echo.HeaderLocation, url)
	return r
}

// Redirect redirects to url. A zero code means 302.
func (r *Response) Redirect(code int, url string) error {
	r.deprecated("redirect")
	if code == 0 {
		code = http.StatusFound
	}
	return r.c.Redirect(code, url)
}

// Render renders the named template with the echo renderer.
func (r *Response) Render(name string, data any) error {
	r.deprecated("render")
	return r.c.Render(r.status(), name, data)
}

// Send writes body with the current status. Strings default to HTML, byte
// slices to application/octet-stream, nil to an empty body and anything else is
// sent as JSON.
func (r *Response) Send(body any) error {
	r.deprecated("send")
	switch v := body.(type) {
	case nil:
		return r.c.NoContent(r.status())
	case string:
		return r.blob(echo.MIMETextHTMLCharsetUTF8, []byte(v))
	case []byte:
		return r.blob(echo.MIMEOctetStream, v)
	default:
		return r.c.JSON(r.status(), v)
	}
}

// Sendfile is the legacy spelling of SendFile.
func (r *Response) Sendfile(path string) error {
	r.deprecated("sendfile")
	return r.c.File(path)
}

// SendFile sends the file at path.
func (r *Response) SendFile(path string) error {
	r.deprecated("sendFile")
	return r.c.File(path)
}

// SendStatus responds with code and its status text as the body.
func (r *Response) SendStatus(code int) error {
	r.deprecated("sendStatus")
	text := http.StatusText(code)
	if text == "" {
		text = fmt.Sprint(code)
	}
	r.c.Response().Header().Set(echo.HeaderContentLength, strconv.Itoa(len(text)))
	return r.c.String(code, text)
}

func (r *Response) blob(contentType string, b []byte) error {
	r.c.Response().Header().Set(echo.HeaderContentLength, strconv.Itoa(len(b)))
	return r.c.Blob(r.status(), contentType, b)
}

// Set sets a response header.
func (r *Response) Set(field, value string) *Response {
	r.deprecated("set")
	r.c.Response().Header().Set(field, value)
	return r
}

// Status sets the status used by later sends.
func (r *Response) Status(code int) *Response {
	r.deprecated("status")
	r.c.Response().Status = code
	return r
}

// Type sets Content-Type. A value without "/" is looked up as a file extension.
func (r *Response) Type(t string) *Response {
	r.deprecated("type")
	ct := t
	if !strings.Contains(t, "/") {
		ct = mime.TypeByExtension("." + strings.TrimPrefix(t, "."))
		if ct == "" {
			ct = echo.MIMEOctetStream
		}
	}
	r.c.Response().Header().Set(echo.HeaderContentType, ct)
	return r
}

// Vary adds field to the Vary header unless already listed.
func (r *Response) Vary(field string) *Response {
	r.deprecated("vary")
	h := r.c.Response().Header()
	for _, v := range h.Values(echo.HeaderVary) {
		for _, f := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(f), field) {
				return r
			}
		}
	}
	h.Add(echo.HeaderVary, field)
	return r
}
