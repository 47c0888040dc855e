package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is a JSON value in canonical text form. It distinguishes an
// undefined document (no value at all) from a document holding JSON null or
// an empty object; storage engines that collapse these lose information.
type Document struct {
	raw     json.RawMessage
	defined bool
}

// Undefined returns the absent document.
func Undefined() Document { return Document{} }

// EncodeDocument renders v as canonical JSON text. Any JSON-representable
// value round-trips: Decode(EncodeDocument(v)) == v, including null and the
// empty map.
func EncodeDocument(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Document{}, FormatError{Kind: "document", Input: fmt.Sprintf("%T", v), Reason: err.Error()}
	}
	compact := &bytes.Buffer{}
	if err := json.Compact(compact, raw); err != nil {
		return Document{}, FormatError{Kind: "document", Input: string(raw), Reason: err.Error()}
	}
	return Document{raw: json.RawMessage(compact.Bytes()), defined: true}, nil
}

// ParseDocument accepts stored text, validating it is well-formed JSON.
func ParseDocument(text []byte) (Document, error) {
	if !json.Valid(text) {
		return Document{}, FormatError{Kind: "document", Input: string(text), Reason: "malformed JSON"}
	}
	compact := &bytes.Buffer{}
	if err := json.Compact(compact, text); err != nil {
		return Document{}, FormatError{Kind: "document", Input: string(text), Reason: err.Error()}
	}
	return Document{raw: json.RawMessage(compact.Bytes()), defined: true}, nil
}

// IsDefined reports whether the document holds a value (possibly null).
func (d Document) IsDefined() bool { return d.defined }

// IsNull reports whether the document holds JSON null.
func (d Document) IsNull() bool {
	return d.defined && bytes.Equal(d.raw, []byte("null"))
}

// Decode unmarshals the document into out. Decoding an undefined document
// is an error; decoding null leaves pointer targets nil.
func (d Document) Decode(out any) error {
	if !d.defined {
		return FormatError{Kind: "document", Input: "", Reason: "undefined document"}
	}
	if err := json.Unmarshal(d.raw, out); err != nil {
		return FormatError{Kind: "document", Input: string(d.raw), Reason: err.Error()}
	}
	return nil
}

// Text returns the canonical JSON text, or nil when undefined.
func (d Document) Text() []byte {
	if !d.defined {
		return nil
	}
	out := make([]byte, len(d.raw))
	copy(out, d.raw)
	return out
}

// MarshalJSON emits the held value; an undefined document marshals as null.
func (d Document) MarshalJSON() ([]byte, error) {
	if !d.defined {
		return []byte("null"), nil
	}
	return d.raw, nil
}

// UnmarshalJSON stores the incoming value as a defined document.
func (d *Document) UnmarshalJSON(b []byte) error {
	parsed, err := ParseDocument(b)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DecodeProperties normalizes a stored property map payload. Structured data
// passes through unchanged; text re-parses. A nil value stays nil, never an
// empty map.
func DecodeProperties(v any) (map[string]any, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return value, nil
	case []byte:
		return parseProperties(value)
	case string:
		return parseProperties([]byte(value))
	default:
		return nil, FormatError{Kind: "document", Input: fmt.Sprintf("%T", v), Reason: "not a property map"}
	}
}

func parseProperties(text []byte) (map[string]any, error) {
	doc, err := ParseDocument(text)
	if err != nil {
		return nil, err
	}
	if doc.IsNull() {
		return nil, nil
	}
	var out map[string]any
	if err := doc.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
