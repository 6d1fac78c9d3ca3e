package host

import (
	"context"
	"fmt"

	"github.com/crossvm/bridge/portable"
)

// FieldState is the tri-state of a host record field: a key can be absent,
// present with a null value, or present with a value. option<T> collapses
// the first two, option2<T> keeps them apart.
type FieldState uint8

const (
	FieldAbsent FieldState = iota
	FieldNull
	FieldValue
)

// Object is one host-resident class instance. Slots are the host-side
// offsets declared in the Schema; the type table validator caches them so
// marshalling never searches by name.
type Object interface {
	ClassName() string
	Field(slot int) (Value, FieldState)
	SetField(slot int, v Value, state FieldState) error
}

// Factory materializes host objects during push. The host VM supplies its
// own; Record below is the reference implementation used in tests and the
// CLI.
type Factory interface {
	NewObject(className string) (Object, error)
}

// EntryPoint is a guest function as exposed to the host dispatcher.
type EntryPoint func(ctx context.Context, args ...Value) (Value, error)

// Registrar receives one Register call per exported guest function after
// each successful load, so the host can dispatch to the new generation.
type Registrar interface {
	Register(externalName string, entry EntryPoint) error
}

// RegistrarFunc adapts a function to the Registrar interface.
type RegistrarFunc func(externalName string, entry EntryPoint) error

func (f RegistrarFunc) Register(externalName string, entry EntryPoint) error {
	return f(externalName, entry)
}

// Strategy selects how a class crosses the boundary.
type Strategy uint8

const (
	StrategyCopy Strategy = iota
	StrategyProxy
)

func (s Strategy) String() string {
	if s == StrategyProxy {
		return "proxy"
	}
	return "copy"
}

// FieldDecl is one field of a host class declaration.
type FieldDecl struct {
	Name string
	Type portable.Type
	Slot int
}

// ClassDecl is the host's declaration of one bridged class.
type ClassDecl struct {
	Name     string
	Strategy Strategy
	Fields   []FieldDecl
}

// Schema is the host's view of every bridged class, consumed by the type
// table validator.
type Schema interface {
	Class(name string) (ClassDecl, bool)
	Classes() []ClassDecl
}

// MapSchema is a Schema backed by a plain map.
type MapSchema map[string]ClassDecl

func (m MapSchema) Class(name string) (ClassDecl, bool) {
	d, ok := m[name]
	return d, ok
}

func (m MapSchema) Classes() []ClassDecl {
	out := make([]ClassDecl, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	return out
}

// NewSchema builds a MapSchema from declarations, assigning slot numbers
// in declaration order.
func NewSchema(decls ...ClassDecl) MapSchema {
	m := make(MapSchema, len(decls))
	for _, d := range decls {
		fields := make([]FieldDecl, len(d.Fields))
		copy(fields, d.Fields)
		for i := range fields {
			fields[i].Slot = i
		}
		d.Fields = fields
		m[d.Name] = d
	}
	return m
}

type fieldCell struct {
	value Value
	state FieldState
}

// Record is a slot-addressed reference Object implementation.
type Record struct {
	class string
	cells []fieldCell
}

// NewRecord creates an empty record of the declared class; every field
// starts absent.
func NewRecord(decl ClassDecl) *Record {
	return &Record{
		class: decl.Name,
		cells: make([]fieldCell, len(decl.Fields)),
	}
}

func (r *Record) ClassName() string { return r.class }

func (r *Record) Field(slot int) (Value, FieldState) {
	if slot < 0 || slot >= len(r.cells) {
		return nil, FieldAbsent
	}
	c := r.cells[slot]
	return c.value, c.state
}

func (r *Record) SetField(slot int, v Value, state FieldState) error {
	if slot < 0 || slot >= len(r.cells) {
		return fmt.Errorf("record %s has no slot %d", r.class, slot)
	}
	r.cells[slot] = fieldCell{value: v, state: state}
	return nil
}

// RecordFactory materializes Records from a Schema.
type RecordFactory struct {
	Schema Schema
}

func (f RecordFactory) NewObject(className string) (Object, error) {
	decl, ok := f.Schema.Class(className)
	if !ok {
		return nil, fmt.Errorf("schema has no class %s", className)
	}
	return NewRecord(decl), nil
}
