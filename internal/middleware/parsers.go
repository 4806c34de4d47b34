package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"aitrios-ingest/internal/bodyreader"
	"aitrios-ingest/internal/classify"
	"aitrios-ingest/internal/model"
)

var (
	// ErrMalformedJSON is returned when an application/json body is not a JSON
	// object or array.
	ErrMalformedJSON = errors.New("malformed JSON body")

	// ErrMalformedForm is returned when a urlencoded body cannot be parsed.
	ErrMalformedForm = errors.New("malformed form body")
)

// maxFormParams caps the number of pairs in one urlencoded body.
const maxFormParams = 1000

// JSONParser claims application/json bodies of at most limit bytes and
// records them as Structured payloads. Only a top-level object or array is
// accepted, so a body of only whitespace is malformed. A body that is empty
// once a leading BOM is removed decodes to an empty object.
func JSONParser(limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if bodyClaimed(c) || !hasBody(req) || !isMediaType(req, "application", "json") {
				return next(c)
			}

			raw, err := bodyreader.Read(req.Body, bodyreader.Options{DeclaredLength: req.ContentLength, Limit: limit})
			if err != nil {
				return fmt.Errorf("read json body: %w", err)
			}

			raw = bytes.TrimPrefix(raw, []byte("\xEF\xBB\xBF"))
			if len(raw) == 0 {
				SetPayload(c, model.StructuredBody(map[string]any{}))
				return next(c)
			}
			trimmed := bytes.TrimSpace(raw)
			if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') || !json.Valid(trimmed) {
				return fmt.Errorf("%w: expected object or array", ErrMalformedJSON)
			}

			req.Body = io.NopCloser(bytes.NewReader(trimmed))
			var v any
			if err := c.Echo().JSONSerializer.Deserialize(c, &v); err != nil {
				return fmt.Errorf("%w: %w", ErrMalformedJSON, err)
			}
			SetPayload(c, model.StructuredBody(v))
			return next(c)
		}
	}
}

// FormParser claims application/x-www-form-urlencoded bodies of at most limit
// bytes. Bracketed keys nest: "a[b]=1" gives {"a": {"b": "1"}} and "a[]=1"
// appends to a list. Repeated plain keys become lists.
func FormParser(limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if bodyClaimed(c) || !hasBody(req) || !isMediaType(req, "application", "x-www-form-urlencoded") {
				return next(c)
			}

			raw, err := bodyreader.ReadText(req.Body, bodyreader.Options{DeclaredLength: req.ContentLength, Limit: limit})
			if err != nil {
				return fmt.Errorf("read form body: %w", err)
			}

			v, err := ParseForm(raw)
			if err != nil {
				return err
			}
			SetPayload(c, model.StructuredBody(v))
			return next(c)
		}
	}
}

// ParseForm decodes a urlencoded string into nested maps and lists.
func ParseForm(raw string) (map[string]any, error) {
	out := make(map[string]any)
	if raw == "" {
		return out, nil
	}

	pairs := strings.Split(raw, "&")
	if len(pairs) > maxFormParams {
		return nil, fmt.Errorf("%w: more than %d parameters", ErrMalformedForm, maxFormParams)
	}

	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %w", ErrMalformedForm, k, err)
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("%w: value for %q: %w", ErrMalformedForm, key, err)
		}
		insertFormValue(out, splitFormKey(key), val)
	}
	return out, nil
}

// splitFormKey turns "a[b][]" into ["a", "b", ""]. A key without a well formed
// bracket suffix is returned whole.
func splitFormKey(key string) []string {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return []string{key}
	}
	parts := []string{key[:open]}
	rest := key[open:]
	for rest != "" {
		if rest[0] != '[' {
			return []string{key}
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return []string{key}
		}
		parts = append(parts, rest[1:end])
		rest = rest[end+1:]
	}
	return parts
}

func insertFormValue(m map[string]any, path []string, val string) {
	head := path[0]
	if len(path) == 1 {
		switch cur := m[head].(type) {
		case nil:
			m[head] = val
		case string:
			m[head] = []any{cur, val}
		case []any:
			m[head] = append(cur, val)
		default:
			m[head] = val
		}
		return
	}

	if path[1] == "" {
		list, _ := m[head].([]any)
		if len(path) == 2 {
			m[head] = append(list, val)
			return
		}
		child := make(map[string]any)
		insertFormValue(child, path[2:], val)
		m[head] = append(list, child)
		return
	}

	child, ok := m[head].(map[string]any)
	if !ok {
		child = make(map[string]any)
		m[head] = child
	}
	insertFormValue(child, path[1:], val)
}

func hasBody(req *http.Request) bool {
	return req.ContentLength != 0 || len(req.TransferEncoding) > 0
}

func isMediaType(req *http.Request, typ, subtype string) bool {
	ct := req.Header.Get(echo.HeaderContentType)
	if ct == "" {
		return false
	}
	mt, err := classify.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt.Type == typ && mt.Subtype == subtype && mt.Suffix == ""
}
