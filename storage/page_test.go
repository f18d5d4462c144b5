package storage

import "testing"

func TestPageInsertReadDelete(t *testing.T) {
	p := NewPage(PageTypeData, 3)

	slot, ok := p.Insert([]byte("hello"))
	if !ok {
		t.Fatal("insert failed")
	}
	got, ok := p.Read(slot)
	if !ok || string(got) != "hello" {
		t.Fatalf("read got %q, ok=%v", got, ok)
	}

	if !p.Delete(slot) {
		t.Fatal("delete failed")
	}
	if _, ok := p.Read(slot); ok {
		t.Fatal("read should fail after delete")
	}
	if p.Delete(slot) {
		t.Fatal("second delete on deleted slot should fail")
	}
}

func TestPageUpdateInPlaceAndGrow(t *testing.T) {
	p := NewPage(PageTypeData, 1)
	slot, _ := p.Insert([]byte("abc"))

	newSlot, ok := p.Update(slot, []byte("a"))
	if !ok || newSlot != slot {
		t.Fatalf("shrink update failed: ok=%v newSlot=%d", ok, newSlot)
	}
	got, _ := p.Read(slot)
	if string(got) != "a" {
		t.Fatalf("expected 'a', got %q", got)
	}
	if p.FragBytes() == 0 {
		t.Fatal("expected fragmentation after shrink")
	}

	newSlot, ok = p.Update(slot, []byte("a much longer value than before"))
	if !ok {
		t.Fatal("grow update failed")
	}
	got, _ = p.Read(newSlot)
	if string(got) != "a much longer value than before" {
		t.Fatalf("unexpected grown value: %q", got)
	}
}

func TestPageDefragmentPreservesSlotIndexes(t *testing.T) {
	p := NewPage(PageTypeData, 1)
	s0, _ := p.Insert([]byte("zero"))
	s1, _ := p.Insert([]byte("one"))
	s2, _ := p.Insert([]byte("two"))

	p.Delete(s1)
	p.Defragment()

	if v, ok := p.Read(s0); !ok || string(v) != "zero" {
		t.Fatalf("slot 0 lost after defragment: %q ok=%v", v, ok)
	}
	if v, ok := p.Read(s2); !ok || string(v) != "two" {
		t.Fatalf("slot 2 lost after defragment: %q ok=%v", v, ok)
	}
	if _, ok := p.Read(s1); ok {
		t.Fatal("deleted slot resurrected by defragment")
	}
	if p.FragBytes() != 0 {
		t.Fatalf("expected zero fragmentation after defragment, got %d", p.FragBytes())
	}
}

func TestPageValidateType(t *testing.T) {
	p := NewPage(PageTypeData, 1)
	if err := p.ValidateType(PageTypeData); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := p.ValidateType(PageTypeIndex); err == nil {
		t.Fatal("expected corruption error on type mismatch")
	}
}

func TestAddressIsEmpty(t *testing.T) {
	if !EmptyAddress.IsEmpty() {
		t.Fatal("EmptyAddress should report IsEmpty")
	}
	a := Address{PageID: 1, Slot: 0}
	if a.IsEmpty() {
		t.Fatal("non-sentinel address reported empty")
	}
}
