package marshal

import (
	stderrors "errors"
	"testing"

	"github.com/crossvm/bridge/errors"
	"github.com/crossvm/bridge/host"
	"github.com/crossvm/bridge/portable"
	"github.com/crossvm/bridge/typetable"
)

// testWorld builds a validated table over a representative schema plus the
// supporting handle table and factory.
func testWorld(t *testing.T) (*Engine, host.MapSchema) {
	t.Helper()

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
			Name:     "Canvas",
			Strategy: host.StrategyProxy,
			Fields: []host.FieldDecl{
				{Name: "width", Type: portable.Int()},
				{Name: "title", Type: portable.Optional(portable.String())},
			},
		},
		host.ClassDecl{
			Name:     "Shape",
			Strategy: host.StrategyCopy,
			Fields: []host.FieldDecl{
				{Name: "name", Type: portable.String()},
				{Name: "filled", Type: portable.Bool()},
				{Name: "weight", Type: portable.Float()},
				{Name: "origin", Type: portable.CopyClass("Point")},
				{Name: "vertices", Type: portable.Sequence(portable.CopyClass("Point"))},
				{Name: "labels", Type: portable.Mapping(portable.String(), portable.Int())},
				{Name: "tags", Type: portable.Set(portable.String())},
				{Name: "span", Type: portable.Tuple(portable.Int(), portable.Int())},
				{Name: "surface", Type: portable.ProxyClass("Canvas")},
				{Name: "extra", Type: portable.Any()},
			},
		},
		host.ClassDecl{
			Name:     "Profile",
			Strategy: host.StrategyCopy,
			Fields: []host.FieldDecl{
				{Name: "nickname", Type: portable.Optional(portable.String())},
				{Name: "avatar", Type: portable.DoubleOptional(portable.String())},
			},
		},
	)

	payload := &typetable.Payload{Classes: []typetable.PayloadClass{
		{Class: "Point", Strategy: "copy", Fields: []typetable.PayloadField{
			{Name: "x", Type: "int"}, {Name: "y", Type: "int"},
		}},
		{Class: "Canvas", Strategy: "proxy", Fields: []typetable.PayloadField{
			{Name: "width", Type: "int"}, {Name: "title", Type: "option<string>"},
		}},
		{Class: "Shape", Strategy: "copy", Fields: []typetable.PayloadField{
			{Name: "name", Type: "string"},
			{Name: "filled", Type: "bool"},
			{Name: "weight", Type: "float"},
			{Name: "origin", Type: "copy<Point>"},
			{Name: "vertices", Type: "seq<copy<Point>>"},
			{Name: "labels", Type: "map<string, int>"},
			{Name: "tags", Type: "set<string>"},
			{Name: "span", Type: "tuple<int, int>"},
			{Name: "surface", Type: "proxy<Canvas>"},
			{Name: "extra", Type: "any"},
		}},
		{Class: "Profile", Strategy: "copy", Fields: []typetable.PayloadField{
			{Name: "nickname", Type: "option<string>"},
			{Name: "avatar", Type: "option2<string>"},
		}},
	}}

	tbl, err := typetable.Validate(schema, payload)
	if err != nil {
		t.Fatal(err)
	}
	return NewEngine(tbl, host.NewTable(), host.RecordFactory{Schema: schema}), schema
}

func newPoint(t *testing.T, schema host.MapSchema, x, y int64) *host.Record {
	t.Helper()
	decl, _ := schema.Class("Point")
	p := host.NewRecord(decl)
	mustSet(t, p, 0, x)
	mustSet(t, p, 1, y)
	return p
}

func mustSet(t *testing.T, r *host.Record, slot int, v host.Value) {
	t.Helper()
	if err := r.SetField(slot, v, host.FieldValue); err != nil {
		t.Fatal(err)
	}
}

func TestGather_RoundTrip(t *testing.T) {
	e, schema := testWorld(t)

	canvasDecl, _ := schema.Class("Canvas")
	canvas := host.NewRecord(canvasDecl)
	mustSet(t, canvas, 0, int64(640))
	h := e.Handles().Insert("Canvas", canvas)

	shapeDecl, _ := schema.Class("Shape")
	shape := host.NewRecord(shapeDecl)
	mustSet(t, shape, 0, "triangle")
	mustSet(t, shape, 1, true)
	mustSet(t, shape, 2, 2.5)
	mustSet(t, shape, 3, newPoint(t, schema, 1, 2))
	mustSet(t, shape, 4, []host.Value{newPoint(t, schema, 3, 4), newPoint(t, schema, 5, 6)})
	mustSet(t, shape, 5, map[any]host.Value{"a": int64(1), "b": int64(2)})
	mustSet(t, shape, 6, host.Set{"red": {}, "blue": {}})
	mustSet(t, shape, 7, host.Tuple{int64(10), int64(20)})
	mustSet(t, shape, 8, h)
	mustSet(t, shape, 9, []host.Value{int64(1), "two", 3.0})

	buf, token, err := e.Gather(shape, "Shape")
	if err != nil {
		t.Fatal(err)
	}
	defer token.Cleanup()

	got, err := e.DecodeObject("Shape", buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}

	if v, _ := got.Field(0); v != "triangle" {
		t.Errorf("name = %v", v)
	}
	if v, _ := got.Field(1); v != true {
		t.Errorf("filled = %v", v)
	}
	if v, _ := got.Field(2); v != 2.5 {
		t.Errorf("weight = %v", v)
	}

	origin, _ := got.Field(3)
	op := origin.(host.Object)
	if x, _ := op.Field(0); x != int64(1) {
		t.Errorf("origin.x = %v", x)
	}

	verts, _ := got.Field(4)
	vs := verts.([]host.Value)
	if len(vs) != 2 {
		t.Fatalf("vertices len = %d", len(vs))
	}
	if y, _ := vs[1].(host.Object).Field(1); y != int64(6) {
		t.Errorf("vertices[1].y = %v", y)
	}

	labels, _ := got.Field(5)
	lm := labels.(map[any]host.Value)
	if lm["a"] != int64(1) || lm["b"] != int64(2) || len(lm) != 2 {
		t.Errorf("labels = %v", lm)
	}

	tags, _ := got.Field(6)
	ts := tags.(host.Set)
	if _, ok := ts["red"]; !ok || len(ts) != 2 {
		t.Errorf("tags = %v", ts)
	}

	span, _ := got.Field(7)
	if tup := span.(host.Tuple); tup[0] != int64(10) || tup[1] != int64(20) {
		t.Errorf("span = %v", tup)
	}

	surface, _ := got.Field(8)
	if surface.(host.Handle) != h {
		t.Errorf("surface handle = %v, want %v", surface, h)
	}

	extra, _ := got.Field(9)
	ev := extra.([]host.Value)
	if ev[0] != int64(1) || ev[1] != "two" || ev[2] != 3.0 {
		t.Errorf("extra = %v", ev)
	}
}

// The fixed table from the optional-field semantics: three host field
// states against the two optional encodings, six cases total.
func TestOptionalFieldTable(t *testing.T) {
	e, schema := testWorld(t)
	decl, _ := schema.Class("Profile")

	// Profile layout: nickname option<string> at 0 (tag byte + 8),
	// avatar option2<string> at 9 (tag byte + 8).
	const nickTag, avatarTag = 0, 9

	cases := []struct {
		name       string
		state      host.FieldState
		value      host.Value
		wantNick   byte
		wantAvatar byte
	}{
		{"absent", host.FieldAbsent, nil, 0, 0},
		{"present null", host.FieldNull, nil, 0, 1},
		{"present value", host.FieldValue, "zork", 1, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := host.NewRecord(decl)
			if tc.state != host.FieldAbsent {
				if err := p.SetField(0, tc.value, tc.state); err != nil {
					t.Fatal(err)
				}
				if err := p.SetField(1, tc.value, tc.state); err != nil {
					t.Fatal(err)
				}
			}

			buf, token, err := e.Gather(p, "Profile")
			if err != nil {
				t.Fatal(err)
			}
			defer token.Cleanup()

			data := buf.Bytes()
			if data[nickTag] != tc.wantNick {
				t.Errorf("option tag = %d, want %d", data[nickTag], tc.wantNick)
			}
			if data[avatarTag] != tc.wantAvatar {
				t.Errorf("option2 tag = %d, want %d", data[avatarTag], tc.wantAvatar)
			}

			got, err := e.DecodeObject("Profile", data)
			if err != nil {
				t.Fatal(err)
			}

			// option collapses absent to present-null; option2 keeps all
			// three states apart.
			_, nickState := got.Field(0)
			wantNickState := host.FieldNull
			if tc.state == host.FieldValue {
				wantNickState = host.FieldValue
			}
			if nickState != wantNickState {
				t.Errorf("decoded option state = %v, want %v", nickState, wantNickState)
			}

			av, avatarState := got.Field(1)
			if avatarState != tc.state {
				t.Errorf("decoded option2 state = %v, want %v", avatarState, tc.state)
			}
			if tc.state == host.FieldValue && av != "zork" {
				t.Errorf("decoded option2 value = %v", av)
			}
		})
	}
}

func TestGather_TypeMismatchNamesPath(t *testing.T) {
	e, schema := testWorld(t)
	decl, _ := schema.Class("Point")
	p := host.NewRecord(decl)
	mustSet(t, p, 0, int64(1))
	mustSet(t, p, 1, "not an int")

	_, _, err := e.Gather(p, "Point")
	if err == nil {
		t.Fatal("gather of mistyped field succeeded")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseGather, Kind: errors.KindTypeMismatch}) {
		t.Fatalf("want TypeMismatch, got %v", err)
	}
	var e2 *errors.Error
	if !stderrors.As(err, &e2) || len(e2.Path) == 0 || e2.Path[len(e2.Path)-1] != "y" {
		t.Fatalf("mismatch must name the field, got %v", err)
	}
}

func TestGather_MissingNonOptionalField(t *testing.T) {
	e, schema := testWorld(t)
	decl, _ := schema.Class("Point")
	p := host.NewRecord(decl)
	mustSet(t, p, 0, int64(1))
	// y never set: absent in a non-optional int field.

	_, _, err := e.Gather(p, "Point")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseGather, Kind: errors.KindTypeMismatch}) {
		t.Fatalf("want TypeMismatch, got %v", err)
	}
}

func TestGather_StaleProxyHandle(t *testing.T) {
	e, schema := testWorld(t)

	canvasDecl, _ := schema.Class("Canvas")
	canvas := host.NewRecord(canvasDecl)
	mustSet(t, canvas, 0, int64(640))
	h := e.Handles().Insert("Canvas", canvas)
	e.Handles().Invalidate(h)

	shapeDecl, _ := schema.Class("Shape")
	shape := host.NewRecord(shapeDecl)
	mustSet(t, shape, 0, "s")
	mustSet(t, shape, 1, false)
	mustSet(t, shape, 2, 0.0)
	mustSet(t, shape, 3, newPoint(t, schema, 0, 0))
	mustSet(t, shape, 4, []host.Value{})
	mustSet(t, shape, 5, map[any]host.Value{})
	mustSet(t, shape, 6, host.Set{})
	mustSet(t, shape, 7, host.Tuple{int64(0), int64(0)})
	mustSet(t, shape, 8, h)
	mustSet(t, shape, 9, nil)

	_, _, err := e.Gather(shape, "Shape")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseProxy, Kind: errors.KindStaleHandle}) {
		t.Fatalf("want StaleHandle, got %v", err)
	}
}

func TestGatherArgs(t *testing.T) {
	e, _ := testWorld(t)
	params := []portable.Type{portable.Int(), portable.String()}

	buf, token, err := e.GatherArgs(params, []host.Value{int64(7), "seven"})
	if err != nil {
		t.Fatal(err)
	}
	defer token.Cleanup()

	v, err := e.Decode(portable.Tuple(params...), buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	tup := v.(host.Tuple)
	if tup[0] != int64(7) || tup[1] != "seven" {
		t.Fatalf("decoded args = %v", tup)
	}

	if _, _, err := e.GatherArgs(params, []host.Value{int64(7)}); err == nil {
		t.Fatal("arity mismatch accepted")
	}
}

func TestCleanupToken_DoubleReleasePanics(t *testing.T) {
	e, schema := testWorld(t)
	p := newPoint(t, schema, 1, 2)

	_, token, err := e.Gather(p, "Point")
	if err != nil {
		t.Fatal(err)
	}
	token.Cleanup()

	defer func() {
		if recover() == nil {
			t.Fatal("double cleanup did not panic")
		}
	}()
	token.Cleanup()
}

func TestGather_UnknownClass(t *testing.T) {
	e, schema := testWorld(t)
	p := newPoint(t, schema, 1, 2)
	if _, _, err := e.Gather(p, "Ghost"); err == nil {
		t.Fatal("gather of unknown class succeeded")
	}
}
