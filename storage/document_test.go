package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDocumentEncodeDecodeRoundTrip(t *testing.T) {
	doc := NewDocument()
	doc.Set("name", "ada")
	doc.Set("age", int64(36))
	doc.Set("score", 3.5)
	doc.Set("active", true)
	doc.Set("tags", []interface{}{"a", "b"})
	doc.Set("nil_field", nil)
	doc.Set("bin", []byte{1, 2, 3})
	doc.Set("oid", NewObjectID())
	doc.Set("guid", uuid.New())
	doc.Set("when", time.Unix(1700000000, 0).UTC())
	doc.Set("vec", []float32{0.1, 0.2, 0.3})

	sub := NewDocument()
	sub.Set("city", "paris")
	doc.Set("address", sub)

	encoded, err := doc.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	name, _ := decoded.Get("name")
	if name != "ada" {
		t.Fatalf("expected name=ada, got %v", name)
	}
	age, _ := decoded.Get("age")
	if age != int64(36) {
		t.Fatalf("expected age=36, got %v", age)
	}
	city, ok := decoded.GetNested([]string{"address", "city"})
	if !ok || city != "paris" {
		t.Fatalf("expected nested city=paris, got %v ok=%v", city, ok)
	}
	vec, _ := decoded.Get("vec")
	fvec, ok := vec.([]float32)
	if !ok || len(fvec) != 3 {
		t.Fatalf("expected 3-element vector, got %v", vec)
	}
}

func TestDocumentSetNestedCreatesIntermediateDocuments(t *testing.T) {
	doc := NewDocument()
	doc.SetNested([]string{"a", "b", "c"}, int64(42))

	v, ok := doc.GetNested([]string{"a", "b", "c"})
	if !ok || v != int64(42) {
		t.Fatalf("expected 42, got %v ok=%v", v, ok)
	}
}

func TestDocumentSetOverwritesExistingField(t *testing.T) {
	doc := NewDocument()
	doc.Set("x", int64(1))
	doc.Set("x", int64(2))

	if len(doc.Fields) != 1 {
		t.Fatalf("expected exactly one field after overwrite, got %d", len(doc.Fields))
	}
	v, _ := doc.Get("x")
	if v != int64(2) {
		t.Fatalf("expected x=2, got %v", v)
	}
}

func TestObjectIDsAreDistinct(t *testing.T) {
	a := NewObjectID()
	b := NewObjectID()

	if a == b {
		t.Fatal("two freshly minted ObjectIDs must differ")
	}
}
