package marshal

import (
	"github.com/crossvm/bridge/errors"
	"github.com/crossvm/bridge/host"
	"github.com/crossvm/bridge/portable"
	"github.com/crossvm/bridge/typetable"
)

// Proxy field access. The guest never materializes a proxy object: it
// holds a handle and reads or writes one field at a time, translated
// through the slots cached in the type table. The host stays the sole
// owner of the referent; a handle whose referent was invalidated reports
// StaleHandle instead of stale data. No locking here: concurrent access
// through a shared handle is governed entirely by the host's own rules.

// ProxyGet reads one field of a proxied host object.
func (e *Engine) ProxyGet(h host.Handle, class string, slot int) (host.Value, error) {
	f, err := e.proxyField(class, slot)
	if err != nil {
		return nil, err
	}
	obj, err := e.proxyResolve(h, class)
	if err != nil {
		return nil, err
	}

	v, state := obj.Field(slot)
	switch f.Type.Kind {
	case portable.KindOptional, portable.KindDoubleOptional:
		if state != host.FieldValue {
			return nil, nil
		}
		return v, nil
	default:
		if state != host.FieldValue {
			return nil, errors.New(errors.PhaseProxy, errors.KindTypeMismatch).
				Class(class).
				Path(f.Name).
				Declared(f.Type.String()).
				Actual(stateName(state)).
				Build()
		}
		return v, nil
	}
}

// ProxySet writes one field of a proxied host object. A nil value on an
// optional field writes present-null; on anything else it is a mismatch.
func (e *Engine) ProxySet(h host.Handle, class string, slot int, v host.Value) error {
	f, err := e.proxyField(class, slot)
	if err != nil {
		return err
	}
	obj, err := e.proxyResolve(h, class)
	if err != nil {
		return err
	}

	state := host.FieldValue
	if v == nil {
		switch f.Type.Kind {
		case portable.KindOptional, portable.KindDoubleOptional:
			state = host.FieldNull
		default:
			return errors.New(errors.PhaseProxy, errors.KindTypeMismatch).
				Class(class).
				Path(f.Name).
				Declared(f.Type.String()).
				Actual("null").
				Build()
		}
	}

	if err := obj.SetField(slot, v, state); err != nil {
		return errors.Wrap(errors.PhaseProxy, errors.KindInvalidData, err, "set "+class+"."+f.Name)
	}
	return nil
}

func (e *Engine) proxyField(class string, slot int) (*typetable.Field, error) {
	c, ok := e.table.Class(class)
	if !ok {
		return nil, errors.NotFound(errors.PhaseProxy, "class", class)
	}
	if c.Strategy != host.StrategyProxy {
		return nil, errors.Unsupported(errors.PhaseProxy, "proxied access to copy class "+class)
	}
	for i := range c.Fields {
		if c.Fields[i].Slot == slot {
			return &c.Fields[i], nil
		}
	}
	return nil, errors.NotFound(errors.PhaseProxy, "slot", itoa(slot))
}

func (e *Engine) proxyResolve(h host.Handle, class string) (host.Object, error) {
	obj, live := e.handles.Get(h)
	if !live {
		return nil, errors.StaleHandle(uint64(h))
	}
	if got, _ := e.handles.Class(h); got != class {
		return nil, errors.New(errors.PhaseProxy, errors.KindTypeMismatch).
			Class(class).
			Actual("proxy<" + got + ">").
			Detail("handle references a different class").
			Build()
	}
	return obj, nil
}

func stateName(s host.FieldState) string {
	switch s {
	case host.FieldAbsent:
		return "absent"
	case host.FieldNull:
		return "null"
	}
	return "value"
}
