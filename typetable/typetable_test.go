package typetable

import (
	stderrors "errors"
	"testing"

	"github.com/crossvm/bridge/errors"
	"github.com/crossvm/bridge/host"
	"github.com/crossvm/bridge/portable"
)

func pointSchema() host.MapSchema {
	return host.NewSchema(host.ClassDecl{
		Name:     "Point",
		Strategy: host.StrategyCopy,
		Fields: []host.FieldDecl{
			{Name: "x", Type: portable.Int()},
			{Name: "y", Type: portable.Int()},
		},
	})
}

func pointPayload() *Payload {
	return &Payload{Classes: []PayloadClass{{
		Class:    "Point",
		Strategy: "copy",
		Fields: []PayloadField{
			{Name: "x", Type: "int"},
			{Name: "y", Type: "int"},
		},
	}}}
}

func isSchemaMismatch(err error) bool {
	return stderrors.Is(err, &errors.Error{Phase: errors.PhaseValidate, Kind: errors.KindSchemaMismatch})
}

func TestValidate_OK(t *testing.T) {
	tbl, err := Validate(pointSchema(), pointPayload())
	if err != nil {
		t.Fatal(err)
	}

	c, ok := tbl.Class("Point")
	if !ok {
		t.Fatal("Point missing from table")
	}
	if c.FixedSize != 16 {
		t.Fatalf("FixedSize = %d, want 16", c.FixedSize)
	}
	if c.Fields[0].Offset != 0 || c.Fields[1].Offset != 8 {
		t.Fatalf("offsets = %d, %d", c.Fields[0].Offset, c.Fields[1].Offset)
	}
	if c.Fields[0].Slot != 0 || c.Fields[1].Slot != 1 {
		t.Fatalf("slots = %d, %d", c.Fields[0].Slot, c.Fields[1].Slot)
	}
	if !tbl.CopyClass("Point") || tbl.ProxyClass("Point") {
		t.Fatal("strategy classification wrong")
	}
}

func TestValidate_ExtraGuestFieldRejectsWholeModule(t *testing.T) {
	// Guest Point declares {x, y, z} against a host declaration of {x, y}.
	p := pointPayload()
	p.Classes[0].Fields = append(p.Classes[0].Fields, PayloadField{Name: "z", Type: "int"})

	tbl, err := Validate(pointSchema(), p)
	if tbl != nil {
		t.Fatal("rejected payload must not yield a table")
	}
	if !isSchemaMismatch(err) {
		t.Fatalf("want SchemaMismatch, got %v", err)
	}

	var e *errors.Error
	if !stderrors.As(err, &e) || e.Class != "Point" {
		t.Fatalf("mismatch must name the class, got %v", err)
	}
}

func TestValidate_FieldOrderDiffers(t *testing.T) {
	p := pointPayload()
	p.Classes[0].Fields[0], p.Classes[0].Fields[1] = p.Classes[0].Fields[1], p.Classes[0].Fields[0]

	if _, err := Validate(pointSchema(), p); !isSchemaMismatch(err) {
		t.Fatalf("want SchemaMismatch, got %v", err)
	}
}

func TestValidate_FieldTypeDiffers(t *testing.T) {
	p := pointPayload()
	p.Classes[0].Fields[1].Type = "float"

	err := mustFailValidate(t, p)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Class != "Point" || len(e.Path) == 0 || e.Path[0] != "y" {
		t.Fatalf("mismatch must name class and field, got %v", err)
	}
}

// mustFailValidate runs Validate against the point schema and requires failure.
func mustFailValidate(t *testing.T, p *Payload) error {
	t.Helper()
	_, err := Validate(pointSchema(), p)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	return err
}

func TestValidate_StrategyDiffers(t *testing.T) {
	p := pointPayload()
	p.Classes[0].Strategy = "proxy"

	if err := mustFailValidate(t, p); !isSchemaMismatch(err) {
		t.Fatalf("want SchemaMismatch, got %v", err)
	}
}

func TestValidate_UnknownHostClass(t *testing.T) {
	p := &Payload{Classes: []PayloadClass{{
		Class:    "Ghost",
		Strategy: "copy",
		Fields:   []PayloadField{},
	}}}
	if _, err := Validate(pointSchema(), p); !isSchemaMismatch(err) {
		t.Fatalf("want SchemaMismatch, got %v", err)
	}
}

func TestValidate_RecursiveCopyClass(t *testing.T) {
	schema := host.NewSchema(host.ClassDecl{
		Name:     "Node",
		Strategy: host.StrategyCopy,
		Fields: []host.FieldDecl{
			{Name: "next", Type: portable.CopyClass("Node")},
		},
	})
	p := &Payload{Classes: []PayloadClass{{
		Class:    "Node",
		Strategy: "copy",
		Fields:   []PayloadField{{Name: "next", Type: "copy<Node>"}},
	}}}

	_, err := Validate(schema, p)
	if err == nil {
		t.Fatal("recursive copy class must be rejected")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseValidate, Kind: errors.KindNonPortableType}) {
		t.Fatalf("want NonPortableType, got %v", err)
	}
}

func TestValidate_NestedLayout(t *testing.T) {
	schema := host.NewSchema(
		host.ClassDecl{
			Name:     "Point",
			Strategy: host.StrategyCopy,
			Fields: []host.FieldDecl{
				{Name: "x", Type: portable.Int()},
				{Name: "y", Type: portable.Int()},
			},
		},
		host.ClassDecl{
			Name:     "Segment",
			Strategy: host.StrategyCopy,
			Fields: []host.FieldDecl{
				{Name: "label", Type: portable.Optional(portable.String())},
				{Name: "from", Type: portable.CopyClass("Point")},
				{Name: "to", Type: portable.CopyClass("Point")},
			},
		},
		host.ClassDecl{
			Name:     "Canvas",
			Strategy: host.StrategyProxy,
			Fields: []host.FieldDecl{
				{Name: "width", Type: portable.Int()},
			},
		},
	)
	p := &Payload{Classes: []PayloadClass{
		{Class: "Point", Strategy: "copy", Fields: []PayloadField{
			{Name: "x", Type: "int"}, {Name: "y", Type: "int"},
		}},
		{Class: "Segment", Strategy: "copy", Fields: []PayloadField{
			{Name: "label", Type: "option<string>"},
			{Name: "from", Type: "copy<Point>"},
			{Name: "to", Type: "copy<Point>"},
		}},
		{Class: "Canvas", Strategy: "proxy", Fields: []PayloadField{
			{Name: "width", Type: "int"},
		}},
	}}

	tbl, err := Validate(schema, p)
	if err != nil {
		t.Fatal(err)
	}

	seg, _ := tbl.Class("Segment")
	// option<string> = 1 tag + 8 slot; two inlined Points of 16 each.
	if seg.FixedSize != 9+16+16 {
		t.Fatalf("Segment FixedSize = %d", seg.FixedSize)
	}
	if seg.Fields[1].Offset != 9 || seg.Fields[2].Offset != 25 {
		t.Fatalf("nested offsets = %d, %d", seg.Fields[1].Offset, seg.Fields[2].Offset)
	}

	// proxy slot is a fixed 8-byte handle regardless of referent shape.
	size, err := tbl.SlotSize(portable.ProxyClass("Canvas"))
	if err != nil || size != 8 {
		t.Fatalf("proxy SlotSize = %d, %v", size, err)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	raw, err := EncodePayload(pointPayload())
	if err != nil {
		t.Fatal(err)
	}
	p, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Classes) != 1 || p.Classes[0].Class != "Point" || len(p.Classes[0].Fields) != 2 {
		t.Fatalf("decoded payload = %+v", p)
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0x00, 0x13}); err == nil {
		t.Fatal("garbage payload decoded")
	}
}
