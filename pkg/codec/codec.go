// Package codec normalizes the two value kinds that cross every storage
// boundary: JSON documents and row identifiers. Encoding is canonical on
// write; decoding degrades per-value on read so one corrupt row does not
// abort a list query.
package codec

import "fmt"

// FormatError reports malformed input rejected at encode or parse time.
type FormatError struct {
	Kind   string // "identifier" or "document"
	Input  string
	Reason string
}

func (e FormatError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.Input, e.Reason)
}
