// Package classify decides how an inbound request body is represented, from its
// Content-Type header and, when the header is absent or inconclusive, from the
// body bytes themselves.
package classify

import (
	"bytes"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"

	"aitrios-ingest/internal/model"
)

// Decision is the outcome of Content-Type analysis, taken before the body is read.
type Decision int

const (
	// DecideSniff means no Content-Type was sent; the bytes decide.
	DecideSniff Decision = iota
	// DecideText commits to a UTF-8 string.
	DecideText
	// DecideBinary commits to raw bytes with no UTF-8 re-check.
	DecideBinary
	// DecideCheckUTF8 is tentatively binary, text if the bytes are valid UTF-8.
	DecideCheckUTF8
)

func (d Decision) String() string {
	switch d {
	case DecideText:
		return "text"
	case DecideBinary:
		return "binary"
	case DecideCheckUTF8:
		return "check-utf8"
	default:
		return "sniff"
	}
}

// binaryApplicationSubtypes are application/* subtypes that are never text.
var binaryApplicationSubtypes = map[string]bool{
	"octet-stream": true,
	"cbor":         true,
	"x-protobuf":   true,
}

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	bmpMagic  = []byte{0x42, 0x4D}
)

// MediaType is a parsed Content-Type value: type/subtype[+suffix] plus parameters.
type MediaType struct {
	Type    string
	Subtype string
	Suffix  string
	Params  map[string]string
}

// ParseMediaType parses a Content-Type header value. Type, subtype and suffix are
// lower-cased.
func ParseMediaType(v string) (MediaType, error) {
	full, params, err := mime.ParseMediaType(v)
	if err != nil {
		return MediaType{}, fmt.Errorf("parse media type %q: %w", v, err)
	}
	typ, sub, ok := strings.Cut(full, "/")
	if !ok || typ == "" || sub == "" {
		return MediaType{}, fmt.Errorf("parse media type %q: missing subtype", v)
	}
	mt := MediaType{Type: typ, Subtype: sub, Params: params}
	if i := strings.LastIndexByte(sub, '+'); i >= 0 {
		mt.Subtype, mt.Suffix = sub[:i], sub[i+1:]
	}
	return mt, nil
}

// Decide maps a Content-Type header value to a Decision. The first matching rule
// wins. A header that cannot be parsed is treated as text.
func Decide(contentType string) Decision {
	if contentType == "" {
		return DecideSniff
	}
	mt, err := ParseMediaType(contentType)
	if err != nil {
		return DecideText
	}
	switch {
	case mt.Type == "text":
		return DecideText
	case mt.Subtype == "xml" || mt.Suffix == "xml":
		return DecideText
	case mt.Type != "application":
		return DecideBinary
	case binaryApplicationSubtypes[mt.Subtype]:
		return DecideBinary
	default:
		return DecideCheckUTF8
	}
}

// Classify turns raw body bytes into a Body. It never fails.
//
// With no Content-Type, an empty body is Empty, JPEG and BMP signatures are
// Binary, valid UTF-8 is Text and anything else is Binary. With a Content-Type
// the Decide rules apply, and a zero-length body still yields Text("") or an
// empty Binary.
func Classify(contentType string, body []byte) model.Body {
	switch Decide(contentType) {
	case DecideSniff:
		if len(body) == 0 {
			return model.EmptyBody()
		}
		if IsJPEG(body) || IsBMP(body) {
			return model.BinaryBody(body)
		}
		if utf8.Valid(body) {
			return model.TextBody(string(body))
		}
		return model.BinaryBody(body)
	case DecideText:
		return model.TextBody(DecodeText(body))
	case DecideCheckUTF8:
		if utf8.Valid(body) {
			return model.TextBody(string(body))
		}
		return model.BinaryBody(body)
	default:
		return model.BinaryBody(body)
	}
}

// IsJPEG reports whether b starts with the JPEG SOI marker.
func IsJPEG(b []byte) bool { return bytes.HasPrefix(b, jpegMagic) }

// IsBMP reports whether b starts with the BMP "BM" signature.
func IsBMP(b []byte) bool { return bytes.HasPrefix(b, bmpMagic) }

// DecodeText decodes b as UTF-8, dropping a leading byte order mark and replacing
// ill-formed sequences with U+FFFD.
func DecodeText(b []byte) string {
	out, err := unicode.UTF8BOM.NewDecoder().Bytes(b)
	if err != nil {
		return string(bytes.ToValidUTF8(b, []byte("\uFFFD")))
	}
	return string(out)
}
