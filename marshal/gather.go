package marshal

import (
	"math"

	"github.com/crossvm/bridge/errors"
	"github.com/crossvm/bridge/host"
	"github.com/crossvm/bridge/portable"
	"github.com/crossvm/bridge/typetable"
)

// Gather serializes a host copy-class object into a MarshalBuffer. On
// success the caller owns the buffer until it runs the cleanup token,
// exactly once, after fully consuming the bytes. On failure any partially
// built buffer is released automatically.
func (e *Engine) Gather(obj host.Object, class string) (*MarshalBuffer, *CleanupToken, error) {
	c, ok := e.table.Class(class)
	if !ok {
		return nil, nil, errors.NotFound(errors.PhaseGather, "class", class)
	}
	if c.Strategy != host.StrategyCopy {
		return nil, nil, errors.Unsupported(errors.PhaseGather, "gather of proxy class "+class)
	}

	g := &gatherer{engine: e, buf: getBuffer()}
	at := g.buf.reserve(c.FixedSize)
	if err := g.encodeObject(c, obj, at, []string{class}); err != nil {
		putBuffer(g.buf)
		return nil, nil, err
	}
	return g.buf, newCleanupToken(g.buf), nil
}

// GatherArgs encodes a routed call's argument list as consecutive slots,
// one per declared parameter.
func (e *Engine) GatherArgs(params []portable.Type, args []host.Value) (*MarshalBuffer, *CleanupToken, error) {
	if len(args) != len(params) {
		return nil, nil, errors.New(errors.PhaseGather, errors.KindTypeMismatch).
			Detail("call takes %d arguments, got %d", len(params), len(args)).
			Build()
	}

	var fixed uint32
	offsets := make([]uint32, len(params))
	for i, p := range params {
		size, err := e.table.SlotSize(p)
		if err != nil {
			return nil, nil, err
		}
		offsets[i] = fixed
		fixed += size
	}

	g := &gatherer{engine: e, buf: getBuffer()}
	base := g.buf.reserve(fixed)
	for i, p := range params {
		if err := g.encodeValue(p, args[i], base+offsets[i], []string{"arg"}); err != nil {
			putBuffer(g.buf)
			return nil, nil, err
		}
	}
	return g.buf, newCleanupToken(g.buf), nil
}

type gatherer struct {
	engine *Engine
	buf    *MarshalBuffer
}

func (g *gatherer) encodeObject(c *typetable.Class, obj host.Object, at uint32, path []string) error {
	if obj == nil {
		return errors.TypeMismatch(path, "copy<"+c.Name+">", "null")
	}
	if obj.ClassName() != c.Name {
		return errors.TypeMismatch(path, "copy<"+c.Name+">", "object of class "+obj.ClassName())
	}

	for i := range c.Fields {
		f := &c.Fields[i]
		if err := g.encodeField(f, obj, at+f.Offset, append(path, f.Name)); err != nil {
			return err
		}
	}
	return nil
}

// encodeField applies the tri-state field semantics: absent and null both
// encode as none under option, while option2 keeps them apart. A missing
// or null value in a non-optional field is a type mismatch.
func (g *gatherer) encodeField(f *typetable.Field, obj host.Object, at uint32, path []string) error {
	v, state := obj.Field(f.Slot)

	switch f.Type.Kind {
	case portable.KindOptional:
		if state != host.FieldValue {
			g.buf.data[at] = 0
			return nil
		}
		g.buf.data[at] = 1
		return g.encodeValue(*f.Type.Elem, v, at+1, path)

	case portable.KindDoubleOptional:
		switch state {
		case host.FieldAbsent:
			g.buf.data[at] = 0
			return nil
		case host.FieldNull:
			g.buf.data[at] = 1
			return nil
		default:
			g.buf.data[at] = 2
			return g.encodeValue(*f.Type.Elem, v, at+1, path)
		}

	default:
		switch state {
		case host.FieldAbsent:
			return errors.TypeMismatch(path, f.Type.String(), "absent")
		case host.FieldNull:
			return errors.TypeMismatch(path, f.Type.String(), "null")
		}
		return g.encodeValue(f.Type, v, at, path)
	}
}

func (g *gatherer) encodeValue(typ portable.Type, v host.Value, at uint32, path []string) error {
	switch typ.Kind {
	case portable.KindBool:
		b, ok := v.(bool)
		if !ok {
			return errors.TypeMismatch(path, "bool", host.TypeName(v))
		}
		if b {
			g.buf.data[at] = 1
		}
		return nil

	case portable.KindInt:
		n, ok := v.(int64)
		if !ok {
			return errors.TypeMismatch(path, "int", host.TypeName(v))
		}
		putU64(g.buf.data, at, uint64(n))
		return nil

	case portable.KindFloat:
		f, ok := v.(float64)
		if !ok {
			return errors.TypeMismatch(path, "float", host.TypeName(v))
		}
		putU64(g.buf.data, at, math.Float64bits(f))
		return nil

	case portable.KindString:
		s, ok := v.(string)
		if !ok {
			return errors.TypeMismatch(path, "string", host.TypeName(v))
		}
		off := uint32(len(g.buf.data))
		g.buf.data = append(g.buf.data, s...)
		putU32(g.buf.data, at, off)
		putU32(g.buf.data, at+4, uint32(len(s)))
		return nil

	case portable.KindOptional:
		// Outside record fields there is no absent state: nil is none.
		if v == nil {
			g.buf.data[at] = 0
			return nil
		}
		g.buf.data[at] = 1
		return g.encodeValue(*typ.Elem, v, at+1, path)

	case portable.KindDoubleOptional:
		// Outside record fields nil means present-but-null.
		if v == nil {
			g.buf.data[at] = 1
			return nil
		}
		g.buf.data[at] = 2
		return g.encodeValue(*typ.Elem, v, at+1, path)

	case portable.KindTuple:
		tv, ok := v.(host.Tuple)
		if !ok {
			return errors.TypeMismatch(path, typ.String(), host.TypeName(v))
		}
		if len(tv) != len(typ.Items) {
			return errors.TypeMismatch(path, typ.String(), host.TypeName(v)+" of arity "+itoa(len(tv)))
		}
		slot := at
		for i := range typ.Items {
			size, err := g.engine.table.SlotSize(typ.Items[i])
			if err != nil {
				return err
			}
			if err := g.encodeValue(typ.Items[i], tv[i], slot, append(path, itoa(i))); err != nil {
				return err
			}
			slot += size
		}
		return nil

	case portable.KindSequence:
		sv, ok := v.([]host.Value)
		if !ok {
			return errors.TypeMismatch(path, typ.String(), host.TypeName(v))
		}
		stride, err := g.engine.table.SlotSize(*typ.Elem)
		if err != nil {
			return err
		}
		count := uint32(len(sv))
		base := g.buf.reserve(count * stride)
		putU32(g.buf.data, at, base)
		putU32(g.buf.data, at+4, count)
		for i, elem := range sv {
			if err := g.encodeValue(*typ.Elem, elem, base+uint32(i)*stride, append(path, itoa(i))); err != nil {
				return err
			}
		}
		return nil

	case portable.KindMapping:
		mv, ok := v.(map[any]host.Value)
		if !ok {
			return errors.TypeMismatch(path, typ.String(), host.TypeName(v))
		}
		ks, err := g.engine.table.SlotSize(*typ.Key)
		if err != nil {
			return err
		}
		vs, err := g.engine.table.SlotSize(*typ.Elem)
		if err != nil {
			return err
		}
		count := uint32(len(mv))
		base := g.buf.reserve(count * (ks + vs))
		putU32(g.buf.data, at, base)
		putU32(g.buf.data, at+4, count)
		slot := base
		seen := uint32(0)
		for k, val := range mv {
			if seen == count {
				break
			}
			if err := g.encodeKey(*typ.Key, k, slot, path); err != nil {
				return err
			}
			if err := g.encodeValue(*typ.Elem, val, slot+ks, append(path, keyString(k))); err != nil {
				return err
			}
			slot += ks + vs
			seen++
		}
		// Gather sees a read-only snapshot; a size change mid-iteration
		// means the host mutated the mapping during the copy.
		if seen != count || uint32(len(mv)) != count {
			return errors.Unsupported(errors.PhaseGather, "mapping mutated during gather")
		}
		return nil

	case portable.KindSet:
		sv, ok := v.(host.Set)
		if !ok {
			return errors.TypeMismatch(path, typ.String(), host.TypeName(v))
		}
		ks, err := g.engine.table.SlotSize(*typ.Key)
		if err != nil {
			return err
		}
		count := uint32(len(sv))
		base := g.buf.reserve(count * ks)
		putU32(g.buf.data, at, base)
		putU32(g.buf.data, at+4, count)
		slot := base
		seen := uint32(0)
		for k := range sv {
			if seen == count {
				break
			}
			if err := g.encodeKey(*typ.Key, k, slot, path); err != nil {
				return err
			}
			slot += ks
			seen++
		}
		if seen != count || uint32(len(sv)) != count {
			return errors.Unsupported(errors.PhaseGather, "set mutated during gather")
		}
		return nil

	case portable.KindCopyClass:
		obj, ok := v.(host.Object)
		if !ok {
			return errors.TypeMismatch(path, typ.String(), host.TypeName(v))
		}
		c, ok := g.engine.table.Class(typ.Class)
		if !ok {
			return errors.NotFound(errors.PhaseGather, "class", typ.Class)
		}
		return g.encodeObject(c, obj, at, path)

	case portable.KindProxyClass:
		h, ok := v.(host.Handle)
		if !ok {
			return errors.TypeMismatch(path, typ.String(), host.TypeName(v)+" (proxy fields carry handles)")
		}
		if _, live := g.engine.handles.Get(h); !live {
			return errors.StaleHandle(uint64(h))
		}
		if class, _ := g.engine.handles.Class(h); class != typ.Class {
			return errors.TypeMismatch(path, typ.String(), "proxy<"+class+">")
		}
		putU64(g.buf.data, at, uint64(h))
		return nil

	case portable.KindAny:
		blob, err := encodeAny(v, path)
		if err != nil {
			return err
		}
		off := uint32(len(g.buf.data))
		g.buf.data = append(g.buf.data, blob...)
		putU32(g.buf.data, at, off)
		putU32(g.buf.data, at+4, uint32(len(blob)))
		return nil
	}

	return errors.TypeMismatch(path, typ.String(), host.TypeName(v))
}

func (g *gatherer) encodeKey(keyType portable.Type, k any, at uint32, path []string) error {
	switch keyType.Kind {
	case portable.KindInt:
		n, ok := k.(int64)
		if !ok {
			return errors.TypeMismatch(path, "int key", host.TypeName(k))
		}
		putU64(g.buf.data, at, uint64(n))
		return nil
	case portable.KindString:
		s, ok := k.(string)
		if !ok {
			return errors.TypeMismatch(path, "string key", host.TypeName(k))
		}
		off := uint32(len(g.buf.data))
		g.buf.data = append(g.buf.data, s...)
		putU32(g.buf.data, at, off)
		putU32(g.buf.data, at+4, uint32(len(s)))
		return nil
	}
	return errors.TypeMismatch(path, keyType.String()+" key", host.TypeName(k))
}
