package ids

import "testing"

func TestNewAndAccessors(t *testing.T) {
	id := New(TargetTag, 7)
	if id.Tag() != TargetTag {
		t.Fatalf("Tag() = %v, want %v", id.Tag(), TargetTag)
	}
	if id.Index() != 7 {
		t.Fatalf("Index() = %d, want 7", id.Index())
	}
	if id.Deleted() {
		t.Fatalf("fresh id reported Deleted()")
	}
}

func TestWithDeletedRoundTrip(t *testing.T) {
	id := New(FactVarTag, 3)
	marked := id.WithDeleted()
	if !marked.Deleted() {
		t.Fatalf("WithDeleted() did not set the deleted bit")
	}
	if marked.Tag() != FactVarTag || marked.Index() != 3 {
		t.Fatalf("WithDeleted() altered tag/index: got %s", marked)
	}
}

func TestNoneSentinel(t *testing.T) {
	if !None.IsNone() {
		t.Fatalf("None.IsNone() = false")
	}
	if New(TargetTag, 0).IsNone() {
		t.Fatalf("a real id reported IsNone()")
	}
}

func TestTableInternIsStable(t *testing.T) {
	tbl := NewTable(DresVarTag)
	a := tbl.Intern("x")
	b := tbl.Intern("y")
	a2 := tbl.Intern("x")

	if a != a2 {
		t.Fatalf("Intern(%q) returned different ids: %s vs %s", "x", a, a2)
	}
	if a == b {
		t.Fatalf("Intern assigned the same id to distinct names")
	}
	if tbl.Name(a) != "x" || tbl.Name(b) != "y" {
		t.Fatalf("Name() did not round-trip: %s=%q %s=%q", a, tbl.Name(a), b, tbl.Name(b))
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl.Len())
	}
}

func TestTableLookupMiss(t *testing.T) {
	tbl := NewTable(LiteralTag)
	if _, ok := tbl.Lookup("missing"); ok {
		t.Fatalf("Lookup found a name that was never interned")
	}
}

func TestNamePanicsOnWrongTag(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Name() did not panic on mismatched tag")
		}
	}()
	tbl := NewTable(TargetTag)
	tbl.Name(New(FactVarTag, 0))
}
