package document

import (
	"encoding/json"
	"testing"
)

func TestFromJSONGeneratesID(t *testing.T) {
	doc, err := FromJSON("", []byte(`{"name":"alice"}`))
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID == "" {
		t.Fatal("expected generated id")
	}
	if doc.Data["name"] != "alice" {
		t.Fatalf("unexpected data: %v", doc.Data)
	}
}

func TestFromJSONRejectsNonObject(t *testing.T) {
	if _, err := FromJSON("", []byte(`[1,2,3]`)); err == nil {
		t.Fatal("expected error for non-object JSON")
	}
	if _, err := FromJSON("", []byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestMarshalIncludesID(t *testing.T) {
	doc := New("abc", map[string]interface{}{"x": 1})
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]interface{}
	json.Unmarshal(raw, &out)
	if out["_id"] != "abc" {
		t.Fatalf("expected _id in marshaled output, got %v", out)
	}
}

func TestCloneIsDeep(t *testing.T) {
	doc := New("abc", map[string]interface{}{"nested": map[string]interface{}{"v": 1.0}})
	cp, err := doc.Clone()
	if err != nil {
		t.Fatal(err)
	}
	nested := cp.Data["nested"].(map[string]interface{})
	nested["v"] = 2.0

	orig := doc.Data["nested"].(map[string]interface{})
	if orig["v"] != 1.0 {
		t.Fatalf("expected clone mutation not to affect original, got %v", orig["v"])
	}
}

func TestNewIDTimeOrdered(t *testing.T) {
	a := NewID()
	b := NewID()
	if a == b {
		t.Fatal("expected distinct ids")
	}
	// The first 12 hex digits (plus the dash) carry the millisecond timestamp.
	if a[:13] > b[:13] {
		t.Fatalf("expected later id to sort after earlier one: %s then %s", a, b)
	}
}
