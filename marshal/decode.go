package marshal

import (
	"math"

	"github.com/crossvm/bridge/errors"
	"github.com/crossvm/bridge/host"
	"github.com/crossvm/bridge/portable"
	"github.com/crossvm/bridge/typetable"
)

// Decode reads one encoded value of the given type out of data. The bytes
// come straight from guest memory, so nothing in them is trusted: the
// buffer must cover the type's fixed region and every offset and count is
// range-checked before use. Copy-class values are materialized through the
// push protocol (create, set each field once, finish), so host objects
// always come from the host factory.
func (e *Engine) Decode(typ portable.Type, data []byte) (host.Value, error) {
	size, err := e.table.SlotSize(typ)
	if err != nil {
		return nil, err
	}
	d := &decoder{engine: e, data: data}
	path := []string{"result"}
	if err := d.bounds(0, uint64(size), path); err != nil {
		return nil, err
	}
	return d.decodeValue(typ, 0, path)
}

// DecodeObject reads an encoded copy-class value.
func (e *Engine) DecodeObject(class string, data []byte) (host.Object, error) {
	c, ok := e.table.Class(class)
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "class", class)
	}
	if c.Strategy != host.StrategyCopy {
		return nil, errors.Unsupported(errors.PhaseRuntime, "decode of proxy class "+class)
	}
	d := &decoder{engine: e, data: data}
	path := []string{class}
	if err := d.bounds(0, uint64(c.FixedSize), path); err != nil {
		return nil, err
	}
	return d.decodeObject(c, 0, path)
}

type decoder struct {
	engine *Engine
	data   []byte
}

// bounds rejects any region that falls outside the buffer. Lengths are
// uint64 so a count*stride product from the wire cannot wrap.
func (d *decoder) bounds(off, length uint64, path []string) error {
	if off+length > uint64(len(d.data)) {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidData).
			Path(path...).
			Detail("encoded payload [%d, %d) exceeds buffer of %d bytes", off, off+length, len(d.data)).
			Build()
	}
	return nil
}

func (d *decoder) slice(off, length uint32, path []string) ([]byte, error) {
	if err := d.bounds(uint64(off), uint64(length), path); err != nil {
		return nil, err
	}
	return d.data[off : uint64(off)+uint64(length)], nil
}

func (d *decoder) decodeObject(c *typetable.Class, at uint32, path []string) (host.Object, error) {
	b, err := d.engine.Create(c.Name)
	if err != nil {
		return nil, err
	}

	for i := range c.Fields {
		f := &c.Fields[i]
		v, state, err := d.decodeField(f, at+f.Offset, append(path, f.Name))
		if err != nil {
			return nil, err
		}
		if err := b.SetField(i, v, state); err != nil {
			return nil, err
		}
	}
	return b.Finish()
}

// decodeField maps option tags back onto the tri-state. option<T> cannot
// distinguish absent from null, so its none decodes as present-null;
// option2<T> round-trips all three states.
func (d *decoder) decodeField(f *typetable.Field, at uint32, path []string) (host.Value, host.FieldState, error) {
	switch f.Type.Kind {
	case portable.KindOptional:
		switch d.data[at] {
		case 0:
			return nil, host.FieldNull, nil
		case 1:
			v, err := d.decodeValue(*f.Type.Elem, at+1, path)
			return v, host.FieldValue, err
		}
		return nil, 0, errors.InvalidData(errors.PhaseRuntime, "option tag out of range")

	case portable.KindDoubleOptional:
		switch d.data[at] {
		case 0:
			return nil, host.FieldAbsent, nil
		case 1:
			return nil, host.FieldNull, nil
		case 2:
			v, err := d.decodeValue(*f.Type.Elem, at+1, path)
			return v, host.FieldValue, err
		}
		return nil, 0, errors.InvalidData(errors.PhaseRuntime, "option2 tag out of range")

	default:
		v, err := d.decodeValue(f.Type, at, path)
		return v, host.FieldValue, err
	}
}

// decodeValue reads one value whose fixed region starts at at. Every
// caller validates the enclosing fixed region against the type's slot
// size before descending, so direct reads here stay inside the buffer.
func (d *decoder) decodeValue(typ portable.Type, at uint32, path []string) (host.Value, error) {
	switch typ.Kind {
	case portable.KindBool:
		switch d.data[at] {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, errors.InvalidData(errors.PhaseRuntime, "bool slot out of range")

	case portable.KindInt:
		return int64(getU64(d.data, at)), nil

	case portable.KindFloat:
		return math.Float64frombits(getU64(d.data, at)), nil

	case portable.KindString:
		raw, err := d.slice(getU32(d.data, at), getU32(d.data, at+4), path)
		if err != nil {
			return nil, err
		}
		return string(raw), nil

	case portable.KindOptional:
		if d.data[at] == 0 {
			return nil, nil
		}
		return d.decodeValue(*typ.Elem, at+1, path)

	case portable.KindDoubleOptional:
		if d.data[at] == 0 || d.data[at] == 1 {
			return nil, nil
		}
		return d.decodeValue(*typ.Elem, at+1, path)

	case portable.KindTuple:
		out := make(host.Tuple, len(typ.Items))
		slot := at
		for i := range typ.Items {
			size, err := d.engine.table.SlotSize(typ.Items[i])
			if err != nil {
				return nil, err
			}
			v, err := d.decodeValue(typ.Items[i], slot, append(path, itoa(i)))
			if err != nil {
				return nil, err
			}
			out[i] = v
			slot += size
		}
		return out, nil

	case portable.KindSequence:
		stride, err := d.engine.table.SlotSize(*typ.Elem)
		if err != nil {
			return nil, err
		}
		base, count := getU32(d.data, at), getU32(d.data, at+4)
		if err := d.bounds(uint64(base), uint64(count)*uint64(stride), path); err != nil {
			return nil, err
		}
		out := make([]host.Value, count)
		for i := uint32(0); i < count; i++ {
			v, err := d.decodeValue(*typ.Elem, base+i*stride, append(path, itoa(int(i))))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case portable.KindMapping:
		ks, err := d.engine.table.SlotSize(*typ.Key)
		if err != nil {
			return nil, err
		}
		vs, err := d.engine.table.SlotSize(*typ.Elem)
		if err != nil {
			return nil, err
		}
		base, count := getU32(d.data, at), getU32(d.data, at+4)
		if err := d.bounds(uint64(base), uint64(count)*uint64(ks+vs), path); err != nil {
			return nil, err
		}
		out := make(map[any]host.Value, count)
		slot := base
		for i := uint32(0); i < count; i++ {
			k, err := d.decodeKey(*typ.Key, slot, path)
			if err != nil {
				return nil, err
			}
			v, err := d.decodeValue(*typ.Elem, slot+ks, append(path, keyString(k)))
			if err != nil {
				return nil, err
			}
			out[k] = v
			slot += ks + vs
		}
		return out, nil

	case portable.KindSet:
		ks, err := d.engine.table.SlotSize(*typ.Key)
		if err != nil {
			return nil, err
		}
		base, count := getU32(d.data, at), getU32(d.data, at+4)
		if err := d.bounds(uint64(base), uint64(count)*uint64(ks), path); err != nil {
			return nil, err
		}
		out := make(host.Set, count)
		slot := base
		for i := uint32(0); i < count; i++ {
			k, err := d.decodeKey(*typ.Key, slot, path)
			if err != nil {
				return nil, err
			}
			out[k] = struct{}{}
			slot += ks
		}
		return out, nil

	case portable.KindCopyClass:
		c, ok := d.engine.table.Class(typ.Class)
		if !ok {
			return nil, errors.NotFound(errors.PhaseRuntime, "class", typ.Class)
		}
		return d.decodeObject(c, at, path)

	case portable.KindProxyClass:
		h := host.Handle(getU64(d.data, at))
		if _, live := d.engine.handles.Get(h); !live {
			return nil, errors.StaleHandle(uint64(h))
		}
		if class, _ := d.engine.handles.Class(h); class != typ.Class {
			return nil, errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
				Path(path...).
				Declared(typ.String()).
				Actual("proxy<" + class + ">").
				Build()
		}
		return h, nil

	case portable.KindAny:
		blob, err := d.slice(getU32(d.data, at), getU32(d.data, at+4), path)
		if err != nil {
			return nil, err
		}
		return decodeAny(blob, path)
	}

	return nil, errors.InvalidData(errors.PhaseRuntime, "cannot decode "+typ.String())
}

func (d *decoder) decodeKey(keyType portable.Type, at uint32, path []string) (any, error) {
	switch keyType.Kind {
	case portable.KindInt:
		return int64(getU64(d.data, at)), nil
	case portable.KindString:
		raw, err := d.slice(getU32(d.data, at), getU32(d.data, at+4), path)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	}
	return nil, errors.InvalidData(errors.PhaseRuntime, "mapping key is not int or string")
}
