package host

import (
	"sync"
	"testing"

	"github.com/crossvm/bridge/portable"
)

func canvasDecl() ClassDecl {
	return ClassDecl{
		Name:     "Canvas",
		Strategy: StrategyProxy,
		Fields: []FieldDecl{
			{Name: "width", Type: portable.Int(), Slot: 0},
			{Name: "height", Type: portable.Int(), Slot: 1},
		},
	}
}

func TestTable_InsertGet(t *testing.T) {
	tbl := NewTable()
	obj := NewRecord(canvasDecl())

	h := tbl.Insert("Canvas", obj)
	if h == 0 {
		t.Fatal("expected non-zero handle")
	}

	got, ok := tbl.Get(h)
	if !ok {
		t.Fatal("Get failed for live handle")
	}
	if got != Object(obj) {
		t.Fatal("Get returned a different object")
	}

	class, ok := tbl.Class(h)
	if !ok || class != "Canvas" {
		t.Fatalf("Class = %q, %v", class, ok)
	}
}

func TestTable_ZeroHandleInvalid(t *testing.T) {
	tbl := NewTable()
	if _, ok := tbl.Get(0); ok {
		t.Fatal("handle 0 must never resolve")
	}
}

func TestTable_Invalidate(t *testing.T) {
	tbl := NewTable()
	h := tbl.Insert("Canvas", NewRecord(canvasDecl()))

	tbl.Invalidate(h)
	if _, ok := tbl.Get(h); ok {
		t.Fatal("invalidated handle still resolves")
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len = %d after invalidate", tbl.Len())
	}

	// Idempotent.
	tbl.Invalidate(h)
}

func TestTable_StaleAfterSlotReuse(t *testing.T) {
	tbl := NewTable()
	old := tbl.Insert("Canvas", NewRecord(canvasDecl()))
	tbl.Invalidate(old)

	// The freed slot is reused for a new object; the old handle must stay
	// stale rather than resolve to the new occupant.
	fresh := tbl.Insert("Canvas", NewRecord(canvasDecl()))
	if fresh == old {
		t.Fatal("reused slot produced an identical handle")
	}
	if _, ok := tbl.Get(old); ok {
		t.Fatal("stale handle resolved to the slot's new occupant")
	}
	if _, ok := tbl.Get(fresh); !ok {
		t.Fatal("fresh handle does not resolve")
	}
}

func TestTable_ConcurrentAccess(t *testing.T) {
	tbl := NewTable()
	decl := canvasDecl()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h := tbl.Insert("Canvas", NewRecord(decl))
				if _, ok := tbl.Get(h); !ok {
					t.Error("live handle failed to resolve")
					return
				}
				tbl.Invalidate(h)
				if _, ok := tbl.Get(h); ok {
					t.Error("stale handle resolved")
					return
				}
			}
		}()
	}
	wg.Wait()

	if tbl.Len() != 0 {
		t.Fatalf("Len = %d, want 0", tbl.Len())
	}
}

func TestRecord_TriState(t *testing.T) {
	decl := ClassDecl{
		Name:     "Profile",
		Strategy: StrategyCopy,
		Fields: []FieldDecl{
			{Name: "nickname", Type: portable.Optional(portable.String()), Slot: 0},
		},
	}
	r := NewRecord(decl)

	if _, state := r.Field(0); state != FieldAbsent {
		t.Fatal("fresh field should be absent")
	}
	if err := r.SetField(0, nil, FieldNull); err != nil {
		t.Fatal(err)
	}
	if _, state := r.Field(0); state != FieldNull {
		t.Fatal("field should be present-null")
	}
	if err := r.SetField(0, "zork", FieldValue); err != nil {
		t.Fatal(err)
	}
	if v, state := r.Field(0); state != FieldValue || v != "zork" {
		t.Fatalf("field = %v, %v", v, state)
	}
	if err := r.SetField(9, nil, FieldNull); err == nil {
		t.Fatal("out-of-range slot should error")
	}
}

func TestNewSchema_AssignsSlots(t *testing.T) {
	s := NewSchema(ClassDecl{
		Name: "Point",
		Fields: []FieldDecl{
			{Name: "x", Type: portable.Int()},
			{Name: "y", Type: portable.Int()},
		},
	})
	decl, ok := s.Class("Point")
	if !ok {
		t.Fatal("class missing")
	}
	if decl.Fields[0].Slot != 0 || decl.Fields[1].Slot != 1 {
		t.Fatalf("slots = %d, %d", decl.Fields[0].Slot, decl.Fields[1].Slot)
	}
}
