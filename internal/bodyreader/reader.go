// Package bodyreader drains request bodies under a byte ceiling.
package bodyreader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"aitrios-ingest/internal/classify"
)

var (
	// ErrSizeExceeded is returned when a body is larger than the configured limit.
	ErrSizeExceeded = errors.New("request body exceeds size limit")
	// ErrStream is returned when the body cannot be read completely.
	ErrStream = errors.New("request body stream error")
)

// maxPreallocate bounds how much of a declared length is allocated up front.
// Larger bodies grow the buffer as bytes actually arrive.
const maxPreallocate = 64 << 10

// Options controls a single read.
type Options struct {
	// DeclaredLength is the Content-Length of the request, or -1 when unknown.
	DeclaredLength int64
	// Limit is the maximum number of bytes accepted. Zero or less disables the check.
	Limit int64
}

// Read drains r completely and returns its bytes. Nothing is returned unless the
// whole stream was consumed within the limit and matched the declared length.
func Read(r io.Reader, opts Options) ([]byte, error) {
	if r == nil || r == http.NoBody {
		if opts.DeclaredLength > 0 {
			return nil, fmt.Errorf("%w: expected %d bytes, got 0", ErrStream, opts.DeclaredLength)
		}
		return []byte{}, nil
	}
	if opts.Limit > 0 && opts.DeclaredLength > opts.Limit {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrSizeExceeded, opts.DeclaredLength, opts.Limit)
	}

	var buf bytes.Buffer
	if opts.DeclaredLength > 0 {
		buf.Grow(int(min(opts.DeclaredLength, maxPreallocate)))
	}

	src := r
	if opts.Limit > 0 {
		src = io.LimitReader(r, opts.Limit+1)
	}
	n, err := buf.ReadFrom(src)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w: limit %d", ErrSizeExceeded, maxErr.Limit)
		}
		return nil, fmt.Errorf("%w: %w", ErrStream, err)
	}
	if opts.Limit > 0 && n > opts.Limit {
		return nil, fmt.Errorf("%w: limit %d", ErrSizeExceeded, opts.Limit)
	}
	if opts.DeclaredLength >= 0 && n != opts.DeclaredLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrStream, opts.DeclaredLength, n)
	}
	return buf.Bytes(), nil
}

// ReadText reads like Read and decodes the result as UTF-8. Use it only once the
// Content-Type has committed the body to text.
func ReadText(r io.Reader, opts Options) (string, error) {
	b, err := Read(r, opts)
	if err != nil {
		return "", err
	}
	return classify.DecodeText(b), nil
}
