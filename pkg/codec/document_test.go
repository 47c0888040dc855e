package codec

import (
	"errors"
	"reflect"
	"testing"
)

func TestDocumentRoundTrip(t *testing.T) {
	cases := []any{
		nil,
		true,
		float64(3.25),
		"text",
		[]any{float64(1), "two", nil},
		map[string]any{},
		map[string]any{"nested": map[string]any{"k": []any{false}}},
	}
	for _, in := range cases {
		doc, err := EncodeDocument(in)
		if err != nil {
			t.Fatalf("encode %v: %v", in, err)
		}
		var out any
		if err := doc.Decode(&out); err != nil {
			t.Fatalf("decode %v: %v", in, err)
		}
		if !reflect.DeepEqual(in, out) {
			t.Fatalf("round trip %#v != %#v", in, out)
		}
	}
}

func TestNullAndEmptyMapNotConflated(t *testing.T) {
	nullDoc, err := EncodeDocument(nil)
	if err != nil {
		t.Fatalf("encode null: %v", err)
	}
	emptyDoc, err := EncodeDocument(map[string]any{})
	if err != nil {
		t.Fatalf("encode empty map: %v", err)
	}
	if !nullDoc.IsNull() {
		t.Fatal("null document should report IsNull")
	}
	if emptyDoc.IsNull() {
		t.Fatal("empty map is not null")
	}
	if string(nullDoc.Text()) == string(emptyDoc.Text()) {
		t.Fatal("null and empty map share text form")
	}

	var m map[string]any
	if err := nullDoc.Decode(&m); err != nil || m != nil {
		t.Fatalf("null should decode to nil map: %v %v", m, err)
	}
	if err := emptyDoc.Decode(&m); err != nil || m == nil || len(m) != 0 {
		t.Fatalf("empty map should decode to non-nil empty map: %v %v", m, err)
	}
}

func TestUndefinedDocument(t *testing.T) {
	doc := Undefined()
	if doc.IsDefined() {
		t.Fatal("undefined document reports defined")
	}
	if doc.Text() != nil {
		t.Fatal("undefined document has text")
	}
	var out any
	err := doc.Decode(&out)
	var fe FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestParseDocumentRejectsMalformed(t *testing.T) {
	if _, err := ParseDocument([]byte(`{"open":`)); err == nil {
		t.Fatal("malformed JSON accepted")
	}
	doc, err := ParseDocument([]byte(" {\n \"a\": 1 } "))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(doc.Text()) != `{"a":1}` {
		t.Fatalf("not canonicalized: %s", doc.Text())
	}
}

func TestDecodeProperties(t *testing.T) {
	structured := map[string]any{"serial": "SN-1"}
	got, err := DecodeProperties(structured)
	if err != nil || !reflect.DeepEqual(got, structured) {
		t.Fatalf("structured pass-through: %v %v", got, err)
	}

	got, err = DecodeProperties(`{"serial":"SN-2"}`)
	if err != nil || got["serial"] != "SN-2" {
		t.Fatalf("text re-parse: %v %v", got, err)
	}

	got, err = DecodeProperties([]byte("null"))
	if err != nil || got != nil {
		t.Fatalf("null payload: %v %v", got, err)
	}

	got, err = DecodeProperties(nil)
	if err != nil || got != nil {
		t.Fatalf("nil payload: %v %v", got, err)
	}

	if _, err := DecodeProperties(42); err == nil {
		t.Fatal("non-map payload accepted")
	}
	if _, err := DecodeProperties("not json"); err == nil {
		t.Fatal("garbage text accepted")
	}
}
