package typetable

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/crossvm/bridge/errors"
	"github.com/crossvm/bridge/host"
	"github.com/crossvm/bridge/portable"
)

// PayloadField is one field as declared in the artifact's type table
// export, with the type written in the portable grammar.
type PayloadField struct {
	Name string `cbor:"name"`
	Type string `cbor:"type"`
}

// PayloadClass is one class declaration from the artifact.
type PayloadClass struct {
	Class    string         `cbor:"class"`
	Strategy string         `cbor:"strategy"`
	Fields   []PayloadField `cbor:"fields"`
}

// Payload is the full type table export.
type Payload struct {
	Classes []PayloadClass `cbor:"classes"`
}

// Decode parses the CBOR bytes returned by the artifact's type table
// entry point.
func Decode(raw []byte) (*Payload, error) {
	var p Payload
	if err := cbor.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(errors.PhaseDiscover, errors.KindInvalidData, err, "decode type table payload")
	}
	return &p, nil
}

// Field is one validated field with its cached layout.
type Field struct {
	Name   string
	Type   portable.Type
	Slot   int    // host-side slot, from the host schema
	Offset uint32 // byte offset in the gather wire fixed region
	Size   uint32 // fixed-region slot size in bytes
}

// Class is one validated class shape.
type Class struct {
	Name      string
	Strategy  host.Strategy
	Fields    []Field
	FixedSize uint32
}

// Table is the validated, offset-cached view of one artifact generation.
type Table struct {
	classes map[string]*Class
	order   []string
}

// Class looks up a validated class by name.
func (t *Table) Class(name string) (*Class, bool) {
	c, ok := t.classes[name]
	return c, ok
}

// Names returns validated class names in guest declaration order.
func (t *Table) Names() []string {
	return t.order
}

// CopyClass and ProxyClass make Table a portable.ClassSet, so manifest
// signatures can be portability-checked against exactly the classes this
// generation validated.

func (t *Table) CopyClass(name string) bool {
	c, ok := t.classes[name]
	return ok && c.Strategy == host.StrategyCopy
}

func (t *Table) ProxyClass(name string) bool {
	c, ok := t.classes[name]
	return ok && c.Strategy == host.StrategyProxy
}

// Validate checks every class declared by the artifact against the host
// schema and caches layout. Rejection is atomic: the first divergence
// fails the whole table.
func Validate(schema host.Schema, payload *Payload) (*Table, error) {
	t := &Table{classes: make(map[string]*Class, len(payload.Classes))}

	// First pass: shape comparison, strategy check, type resolution.
	for _, pc := range payload.Classes {
		decl, ok := schema.Class(pc.Class)
		if !ok {
			return nil, errors.SchemaMismatch(pc.Class, nil, "class not declared by host")
		}
		if _, dup := t.classes[pc.Class]; dup {
			return nil, errors.SchemaMismatch(pc.Class, nil, "class declared twice by artifact")
		}

		strategy, err := parseStrategy(pc.Class, pc.Strategy)
		if err != nil {
			return nil, err
		}
		if strategy != decl.Strategy {
			return nil, errors.New(errors.PhaseValidate, errors.KindSchemaMismatch).
				Class(pc.Class).
				Declared(decl.Strategy.String()).
				Actual(strategy.String()).
				Detail("interop strategy differs").
				Build()
		}

		if len(pc.Fields) != len(decl.Fields) {
			return nil, errors.New(errors.PhaseValidate, errors.KindSchemaMismatch).
				Class(pc.Class).
				Detail("artifact declares %d fields, host declares %d", len(pc.Fields), len(decl.Fields)).
				Build()
		}

		c := &Class{
			Name:     pc.Class,
			Strategy: strategy,
			Fields:   make([]Field, len(pc.Fields)),
		}

		for i, pf := range pc.Fields {
			hf := decl.Fields[i]
			if pf.Name != hf.Name {
				return nil, errors.New(errors.PhaseValidate, errors.KindSchemaMismatch).
					Class(pc.Class).
					Path(pf.Name).
					Detail("field order differs: artifact has %q at position %d, host has %q", pf.Name, i, hf.Name).
					Build()
			}

			ft, err := portable.Parse(pf.Type)
			if err != nil {
				return nil, errors.New(errors.PhaseValidate, errors.KindSchemaMismatch).
					Class(pc.Class).
					Path(pf.Name).
					Cause(err).
					Detail("artifact field type is not portable").
					Build()
			}
			if !ft.Equal(hf.Type) {
				return nil, errors.New(errors.PhaseValidate, errors.KindSchemaMismatch).
					Class(pc.Class).
					Path(pf.Name).
					Declared(hf.Type.String()).
					Actual(ft.String()).
					Build()
			}

			c.Fields[i] = Field{Name: pf.Name, Type: ft, Slot: hf.Slot}
		}

		t.classes[pc.Class] = c
		t.order = append(t.order, pc.Class)
	}

	// Second pass: wire layout. Needs the full class map so nested copy
	// classes resolve, and rejects copy cycles (they have no finite size).
	for _, name := range t.order {
		if _, err := t.layoutClass(name, make(map[string]bool)); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func parseStrategy(class, s string) (host.Strategy, error) {
	switch s {
	case "copy":
		return host.StrategyCopy, nil
	case "proxy":
		return host.StrategyProxy, nil
	}
	return 0, errors.New(errors.PhaseValidate, errors.KindSchemaMismatch).
		Class(class).
		Detail("unknown interop strategy %q", s).
		Build()
}

func (t *Table) layoutClass(name string, inProgress map[string]bool) (uint32, error) {
	c := t.classes[name]
	if c.FixedSize > 0 {
		return c.FixedSize, nil
	}
	if inProgress[name] {
		return 0, errors.New(errors.PhaseValidate, errors.KindNonPortableType).
			Class(name).
			Detail("recursive copy class has no finite wire size").
			Build()
	}
	inProgress[name] = true
	defer delete(inProgress, name)

	var off uint32
	for i := range c.Fields {
		size, err := t.slotSize(c.Fields[i].Type, inProgress)
		if err != nil {
			return 0, err
		}
		c.Fields[i].Offset = off
		c.Fields[i].Size = size
		off += size
	}
	c.FixedSize = off
	return off, nil
}

// SlotSize returns the fixed-region wire size of a portable type. Strings,
// collections and any-values occupy an 8-byte (offset, length) slot whose
// payload lives in the variable section; options prepend a 1-byte tag;
// copy classes are inlined; proxy classes are an 8-byte handle.
func (t *Table) SlotSize(typ portable.Type) (uint32, error) {
	return t.slotSize(typ, make(map[string]bool))
}

func (t *Table) slotSize(typ portable.Type, inProgress map[string]bool) (uint32, error) {
	switch typ.Kind {
	case portable.KindBool:
		return 1, nil
	case portable.KindInt, portable.KindFloat:
		return 8, nil
	case portable.KindString, portable.KindSequence, portable.KindMapping,
		portable.KindSet, portable.KindAny:
		return 8, nil
	case portable.KindOptional, portable.KindDoubleOptional:
		inner, err := t.slotSize(*typ.Elem, inProgress)
		if err != nil {
			return 0, err
		}
		return 1 + inner, nil
	case portable.KindTuple:
		var sum uint32
		for i := range typ.Items {
			s, err := t.slotSize(typ.Items[i], inProgress)
			if err != nil {
				return 0, err
			}
			sum += s
		}
		return sum, nil
	case portable.KindProxyClass:
		if !t.ProxyClass(typ.Class) {
			return 0, errors.NonPortable(errors.PhaseValidate, typ.Class,
				"proxy<"+typ.Class+"> does not name a validated proxy class")
		}
		return 8, nil
	case portable.KindCopyClass:
		if !t.CopyClass(typ.Class) {
			return 0, errors.NonPortable(errors.PhaseValidate, typ.Class,
				"copy<"+typ.Class+"> does not name a validated copy class")
		}
		return t.layoutClass(typ.Class, inProgress)
	}
	return 0, errors.NonPortable(errors.PhaseValidate, "type table", typ.String())
}

// EncodePayload serializes a payload back to CBOR. Used by tests and by
// tooling that fabricates artifacts.
func EncodePayload(p *Payload) ([]byte, error) {
	return cbor.Marshal(p)
}
