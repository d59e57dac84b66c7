package store

import "testing"

func TestInsertLookupRoundTrip(t *testing.T) {
	s, err := NewMemStore()
	if err != nil {
		t.Fatalf("NewMemStore: %v", err)
	}
	if err := s.TransactionPush(); err != nil {
		t.Fatalf("TransactionPush: %v", err)
	}
	f, err := s.NewFact("widget")
	if err != nil {
		t.Fatalf("NewFact: %v", err)
	}
	f, err = s.SetField(f, "color", NewString("red"))
	if err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if err := s.Insert(f); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.TransactionPop(false); err != nil {
		t.Fatalf("TransactionPop: %v", err)
	}

	found, err := s.LookupByName("widget")
	if err != nil {
		t.Fatalf("LookupByName: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("LookupByName returned %d facts, want 1", len(found))
	}
	v, ok := s.GetField(found[0], "color")
	if !ok || !v.Equal(NewString("red")) {
		t.Fatalf("GetField(color) = %v, %v", v, ok)
	}
}

func TestRollbackHidesMutation(t *testing.T) {
	s, _ := NewMemStore()
	s.TransactionPush()
	f, _ := s.NewFact("gadget")
	f, _ = s.SetField(f, "x", NewInt(1))
	s.Insert(f)
	if err := s.TransactionPop(true); err != nil {
		t.Fatalf("TransactionPop(rollback): %v", err)
	}

	found, err := s.LookupByName("gadget")
	if err != nil {
		t.Fatalf("LookupByName: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("rolled-back insert is visible: %v", found)
	}
}

// TestSetFieldNeverMutatesSharedFact exercises the bug the reviewer flagged:
// SetField must never write through the pointer a previously committed
// snapshot already holds. Commit a fact, then mutate it in a second,
// aborted transaction, and confirm both the original pointer obtained
// before the mutating call and a fresh LookupByName after rollback still
// see the pre-mutation value.
func TestSetFieldNeverMutatesSharedFact(t *testing.T) {
	s, _ := NewMemStore()

	if err := s.TransactionPush(); err != nil {
		t.Fatalf("TransactionPush: %v", err)
	}
	order, err := s.NewFact("order")
	if err != nil {
		t.Fatalf("NewFact: %v", err)
	}
	order, err = s.SetField(order, "status", NewString("pending"))
	if err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if err := s.Insert(order); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.TransactionPop(false); err != nil {
		t.Fatalf("TransactionPop: %v", err)
	}

	committed, err := s.LookupByName("order")
	if err != nil {
		t.Fatalf("LookupByName: %v", err)
	}
	if len(committed) != 1 {
		t.Fatalf("LookupByName returned %d facts, want 1", len(committed))
	}
	pinned := committed[0]

	if err := s.TransactionPush(); err != nil {
		t.Fatalf("TransactionPush: %v", err)
	}
	if _, err := s.SetField(pinned, "status", NewString("shipped")); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if err := s.TransactionPop(true); err != nil {
		t.Fatalf("TransactionPop(rollback): %v", err)
	}

	v, ok := s.GetField(pinned, "status")
	if !ok || !v.Equal(NewString("pending")) {
		t.Fatalf("pinned Fact's status mutated in place despite rollback: %v, %v", v, ok)
	}

	after, err := s.LookupByName("order")
	if err != nil {
		t.Fatalf("LookupByName: %v", err)
	}
	if len(after) != 1 {
		t.Fatalf("LookupByName returned %d facts, want 1", len(after))
	}
	v, ok = s.GetField(after[0], "status")
	if !ok || !v.Equal(NewString("pending")) {
		t.Fatalf("post-rollback status = %v, %v, want pending", v, ok)
	}
}

func TestViewTracksChangesSinceReset(t *testing.T) {
	s, _ := NewMemStore()
	view, err := s.TransparentView([]Pattern{{Name: "sensor"}})
	if err != nil {
		t.Fatalf("TransparentView: %v", err)
	}
	if len(view.Changes()) != 0 {
		t.Fatalf("fresh view reports changes before any mutation")
	}

	s.TransactionPush()
	f, _ := s.NewFact("sensor")
	f, _ = s.SetField(f, "reading", NewDouble(1.5))
	s.Insert(f)
	s.TransactionPop(false)

	changes := view.Changes()
	if len(changes) != 1 {
		t.Fatalf("Changes() = %d entries, want 1", len(changes))
	}

	view.Reset()
	if len(view.Changes()) != 0 {
		t.Fatalf("Changes() after Reset should be empty")
	}
}

func TestViewIgnoresRolledBackMutation(t *testing.T) {
	s, _ := NewMemStore()
	view, _ := s.TransparentView([]Pattern{{Name: "sensor"}})

	s.TransactionPush()
	f, _ := s.NewFact("sensor")
	f, _ = s.SetField(f, "reading", NewDouble(2.0))
	s.Insert(f)
	s.TransactionPop(true)

	if len(view.Changes()) != 0 {
		t.Fatalf("view observed a rolled-back mutation")
	}
}

func TestValueEqualityByKind(t *testing.T) {
	if !NewInt(5).Equal(NewInt(5)) {
		t.Fatalf("equal ints compared unequal")
	}
	if NewInt(5).Equal(NewDouble(5)) {
		t.Fatalf("int and double of the same magnitude compared equal")
	}
	if !NewDouble(1.5).Equal(NewDouble(1.5)) {
		t.Fatalf("equal doubles compared unequal")
	}
}
