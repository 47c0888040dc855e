package codec

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseIDRoundTrip(t *testing.T) {
	id := NewID()
	if id.IsZero() {
		t.Fatal("fresh id is zero")
	}
	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("parse own string form: %v", err)
	}
	if parsed.String() != id.String() {
		t.Fatalf("round trip %s != %s", parsed, id)
	}
}

func TestParseIDRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "   ", "not-a-uuid", "123", "zzzzzzzz-zzzz-zzzz-zzzz-zzzzzzzzzzzz"} {
		_, err := ParseID(input)
		var fe FormatError
		if !errors.As(err, &fe) {
			t.Fatalf("input %q: expected FormatError, got %v", input, err)
		}
	}
}

func TestDecodeIDDegradesToNil(t *testing.T) {
	if DecodeID("garbage") != nil {
		t.Fatal("garbage should decode to nil")
	}
	id := NewID()
	decoded := DecodeID(id.String())
	if decoded == nil || decoded.String() != id.String() {
		t.Fatalf("valid id failed to decode: %v", decoded)
	}
}

func TestIDTextMarshaling(t *testing.T) {
	id := NewID()
	raw, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back ID
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.String() != id.String() {
		t.Fatalf("round trip %s != %s", back, id)
	}
	if err := json.Unmarshal([]byte(`"bogus"`), &back); err == nil {
		t.Fatal("malformed id accepted")
	}
}
