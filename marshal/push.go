package marshal

import (
	"github.com/crossvm/bridge/errors"
	"github.com/crossvm/bridge/host"
	"github.com/crossvm/bridge/typetable"
)

// Builder materializes one host copy-class value through the push
// protocol: Create, then exactly one SetField per declared field in any
// order, then Finish. Stepping outside that protocol panics: a generated
// caller that skips or repeats a step is a compiler defect, and there is
// nothing sensible to recover to.
type Builder struct {
	engine *Engine
	class  *typetable.Class
	obj    host.Object
	set    []bool
	done   bool
}

// Create starts the push protocol for a class. The class must be a copy
// class validated by the current generation; anything else panics, since
// generated code cannot legitimately name an unvalidated class. A factory
// failure (the host cannot allocate) is an ordinary error.
func (e *Engine) Create(class string) (*Builder, error) {
	c, ok := e.table.Class(class)
	if !ok {
		panic(errors.ProtocolViolation(errors.PhasePush, "create of unvalidated class %q", class))
	}
	if c.Strategy != host.StrategyCopy {
		panic(errors.ProtocolViolation(errors.PhasePush, "create of proxy class %q", class))
	}

	obj, err := e.factory.NewObject(class)
	if err != nil {
		return nil, errors.Wrap(errors.PhasePush, errors.KindAllocation, err, "materialize "+class)
	}

	return &Builder{
		engine: e,
		class:  c,
		obj:    obj,
		set:    make([]bool, len(c.Fields)),
	}, nil
}

// SetField sets the field at the given declaration index. Field order is
// irrelevant, but each field exactly once.
func (b *Builder) SetField(index int, v host.Value, state host.FieldState) error {
	if b.done {
		panic(errors.ProtocolViolation(errors.PhasePush, "set-field on %s after finish", b.class.Name))
	}
	if index < 0 || index >= len(b.class.Fields) {
		panic(errors.ProtocolViolation(errors.PhasePush, "%s has no field index %d", b.class.Name, index))
	}
	if b.set[index] {
		panic(errors.ProtocolViolation(errors.PhasePush, "field %s.%s set twice", b.class.Name, b.class.Fields[index].Name))
	}
	b.set[index] = true

	f := &b.class.Fields[index]
	if err := b.obj.SetField(f.Slot, v, state); err != nil {
		return errors.Wrap(errors.PhasePush, errors.KindInvalidData, err, "set "+b.class.Name+"."+f.Name)
	}
	return nil
}

// Finish completes the protocol and returns the materialized object.
func (b *Builder) Finish() (host.Object, error) {
	if b.done {
		panic(errors.ProtocolViolation(errors.PhasePush, "finish on %s called twice", b.class.Name))
	}
	for i, ok := range b.set {
		if !ok {
			panic(errors.ProtocolViolation(errors.PhasePush, "finish on %s with field %s never set",
				b.class.Name, b.class.Fields[i].Name))
		}
	}
	b.done = true
	return b.obj, nil
}
