package addr_test

import (
	"testing"

	"github.com/kristofer/resolve/pkg/addr"
	"github.com/kristofer/resolve/pkg/store"
)

func TestParseBareStringSelector(t *testing.T) {
	a, err := addr.Parse("fact.widget[color:red].price")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.FactName != "widget" || a.Field != "price" {
		t.Fatalf("a = %+v, want FactName=widget Field=price", a)
	}
	if len(a.Selector) != 1 || a.Selector[0].Field != "color" || !a.Selector[0].Value.Equal(store.NewString("red")) {
		t.Fatalf("selector = %+v, want [color:s:red]", a.Selector)
	}
}

func TestParseTypedValues(t *testing.T) {
	a, err := addr.Parse("fact.widget[color:s:red,count:i:5,weight:d:1.5].sku")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []addr.Pair{
		{Field: "color", Value: store.NewString("red")},
		{Field: "count", Value: store.NewInt(5)},
		{Field: "weight", Value: store.NewDouble(1.5)},
	}
	if len(a.Selector) != len(want) {
		t.Fatalf("selector = %+v, want %+v", a.Selector, want)
	}
	for i, p := range want {
		if a.Selector[i].Field != p.Field || !a.Selector[i].Value.Equal(p.Value) {
			t.Fatalf("selector[%d] = %+v, want %+v", i, a.Selector[i], p)
		}
	}
}

func TestParseRejectsMissingFactPrefix(t *testing.T) {
	if _, err := addr.Parse("widget[color:red].sku"); err == nil {
		t.Fatalf("Parse succeeded without leading \"fact.\"")
	}
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	if _, err := addr.Parse("fact.widget[color:red].sku extra"); err == nil {
		t.Fatalf("Parse succeeded with trailing garbage")
	}
}

func TestResolveNarrowsToExactlyOneFact(t *testing.T) {
	st, err := store.NewMemStore()
	if err != nil {
		t.Fatalf("NewMemStore: %v", err)
	}
	if err := st.TransactionPush(); err != nil {
		t.Fatalf("TransactionPush: %v", err)
	}
	red, _ := st.NewFact("widget")
	red.Fields["color"] = store.NewString("red")
	red.Fields["sku"] = store.NewString("W-RED")
	if err := st.Insert(red); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	blue, _ := st.NewFact("widget")
	blue.Fields["color"] = store.NewString("blue")
	blue.Fields["sku"] = store.NewString("W-BLUE")
	if err := st.Insert(blue); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := st.TransactionPop(false); err != nil {
		t.Fatalf("TransactionPop: %v", err)
	}

	a, err := addr.Parse("fact.widget[color:red].sku")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v, err := addr.Resolve(st, a)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !v.Equal(store.NewString("W-RED")) {
		t.Fatalf("Resolve = %v, want W-RED", v)
	}
}

func TestResolveErrorsOnAmbiguousSelector(t *testing.T) {
	st, err := store.NewMemStore()
	if err != nil {
		t.Fatalf("NewMemStore: %v", err)
	}
	if err := st.TransactionPush(); err != nil {
		t.Fatalf("TransactionPush: %v", err)
	}
	for i := 0; i < 2; i++ {
		f, _ := st.NewFact("widget")
		f.Fields["color"] = store.NewString("red")
		if err := st.Insert(f); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := st.TransactionPop(false); err != nil {
		t.Fatalf("TransactionPop: %v", err)
	}

	a, err := addr.Parse("fact.widget[color:red].sku")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := addr.Resolve(st, a); err == nil {
		t.Fatalf("Resolve succeeded despite two matching facts")
	}
}

func TestResolveErrorsOnNoMatch(t *testing.T) {
	st, err := store.NewMemStore()
	if err != nil {
		t.Fatalf("NewMemStore: %v", err)
	}
	a, err := addr.Parse("fact.widget[color:red].sku")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := addr.Resolve(st, a); err == nil {
		t.Fatalf("Resolve succeeded with no facts in store")
	}
}
