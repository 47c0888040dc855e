package codec

import (
	"strings"

	"github.com/google/uuid"
)

// ID is a UUID-backed row identifier. The zero value is not a valid ID;
// construct with NewID or ParseID.
type ID struct {
	value uuid.UUID
}

// NewID returns a fresh random identifier.
func NewID() ID {
	return ID{value: uuid.New()}
}

// ParseID validates the canonical string form. Malformed input is rejected
// with a FormatError so bad identifiers never reach storage.
func ParseID(s string) (ID, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ID{}, FormatError{Kind: "identifier", Input: s, Reason: "empty"}
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return ID{}, FormatError{Kind: "identifier", Input: s, Reason: err.Error()}
	}
	return ID{value: parsed}, nil
}

// DecodeID is the read-side counterpart of ParseID: unparseable text decodes
// to nil instead of failing, so a corrupt identifier degrades the one field
// rather than the whole read path.
func DecodeID(s string) *ID {
	id, err := ParseID(s)
	if err != nil {
		return nil
	}
	return &id
}

// String returns the canonical lowercase hex-and-dashes form.
func (id ID) String() string { return id.value.String() }

// IsZero reports whether the ID is the unusable zero value.
func (id ID) IsZero() bool { return id.value == uuid.Nil }

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.value.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, rejecting malformed text.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
