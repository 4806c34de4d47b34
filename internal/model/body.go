// Package model defines the request, payload and message types shared by the ingest pipeline.
package model

// Kind identifies which variant of Body is populated.
type Kind int

const (
	KindEmpty Kind = iota
	KindText
	KindBinary
	KindStructured
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	case KindStructured:
		return "structured"
	default:
		return "empty"
	}
}

// Body is the classified payload of one request. Exactly one variant is set and
// the value never changes after construction.
type Body struct {
	kind  Kind
	text  string
	raw   []byte
	value any
}

// EmptyBody is the variant for a request whose body was never read.
func EmptyBody() Body {
	return Body{kind: KindEmpty}
}

// TextBody holds a decoded UTF-8 string.
func TextBody(s string) Body {
	return Body{kind: KindText, text: s}
}

// BinaryBody holds a copy of b.
func BinaryBody(b []byte) Body {
	raw := make([]byte, len(b))
	copy(raw, b)
	return Body{kind: KindBinary, raw: raw}
}

// StructuredBody holds the value produced by a structured parser (JSON, form).
func StructuredBody(v any) Body {
	return Body{kind: KindStructured, value: v}
}

// Kind reports the populated variant.
func (b Body) Kind() Kind { return b.kind }

// Text returns the string for the text variant.
func (b Body) Text() (string, bool) {
	return b.text, b.kind == KindText
}

// Bytes returns a copy of the raw bytes for the binary variant.
func (b Body) Bytes() ([]byte, bool) {
	if b.kind != KindBinary {
		return nil, false
	}
	out := make([]byte, len(b.raw))
	copy(out, b.raw)
	return out, true
}

// Value returns the parsed value for the structured variant.
func (b Body) Value() (any, bool) {
	return b.value, b.kind == KindStructured
}

// Len returns the size in bytes of text and binary payloads, and 0 otherwise.
func (b Body) Len() int {
	switch b.kind {
	case KindText:
		return len(b.text)
	case KindBinary:
		return len(b.raw)
	}
	return 0
}

// Interface returns the payload as a plain Go value: nil, string, []byte or the
// structured value.
func (b Body) Interface() any {
	switch b.kind {
	case KindText:
		return b.text
	case KindBinary:
		out, _ := b.Bytes()
		return out
	case KindStructured:
		return b.value
	}
	return nil
}
