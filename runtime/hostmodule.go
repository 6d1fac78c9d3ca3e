package runtime

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/crossvm/bridge/errors"
	"github.com/crossvm/bridge/host"
	"github.com/crossvm/bridge/loader"
	"github.com/crossvm/bridge/portable"
)

// HostModuleName is the import namespace artifacts link against.
const HostModuleName = "bridge"

// Guest-facing imports. Both run inside a routed call and resolve their
// engine from the call context, so a guest always sees the generation it
// was entered under even while a newer one is active.
const (
	importProxyGet = "proxy_get"
	importProxySet = "proxy_set"
)

// hostImports builds the loader hook that instantiates the "bridge"
// import module.
func (r *Runtime) hostImports() func(ctx context.Context, wr wazero.Runtime) error {
	return func(ctx context.Context, wr wazero.Runtime) error {
		_, err := wr.NewHostModuleBuilder(HostModuleName).
			NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(r.hostProxyGet),
				[]api.ValueType{api.ValueTypeI64, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
				[]api.ValueType{api.ValueTypeI64}).
			Export(importProxyGet).
			NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(r.hostProxySet),
				[]api.ValueType{api.ValueTypeI64, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
				nil).
			Export(importProxySet).
			Instantiate(ctx)
		return err
	}
}

// callEngine resolves the generation the executing guest belongs to. Guest
// code reaching a bridge import outside a routed call is protocol misuse.
func callEngine(ctx context.Context) *call {
	c, ok := activeCall(ctx)
	if !ok {
		panic(errors.ProtocolViolation(errors.PhaseProxy, "bridge import used outside a routed call"))
	}
	return c
}

// proxyField looks the field type up by class name and slot. Errors here
// abort the surrounding guest call.
func proxyField(c *call, class string, slot int) portable.Type {
	cls, ok := c.module.Engine().Table().Class(class)
	if !ok {
		panic(errors.NotFound(errors.PhaseProxy, "class", class))
	}
	for i := range cls.Fields {
		if cls.Fields[i].Slot == slot {
			return cls.Fields[i].Type
		}
	}
	panic(errors.New(errors.PhaseProxy, errors.KindNotFound).
		Class(class).
		Detail("no field at slot %d", slot).
		Build())
}

func readGuestString(mod api.Module, ptr, length uint32) string {
	raw, ok := mod.Memory().Read(ptr, length)
	if !ok {
		panic(errors.InvalidData(errors.PhaseProxy, "class name out of guest memory bounds"))
	}
	return string(raw)
}

// hostProxyGet implements proxy_get(handle u64, class_ptr u32, class_len
// u32, slot u32) -> u64. The field value is encoded into a fresh guest
// allocation and returned as a packed pointer/length pair; the guest owns
// the region and frees it through bridge_free.
func (r *Runtime) hostProxyGet(ctx context.Context, mod api.Module, stack []uint64) {
	c := callEngine(ctx)
	h := host.Handle(stack[0])
	class := readGuestString(mod, uint32(stack[1]), uint32(stack[2]))
	slot := int(uint32(stack[3]))

	typ := proxyField(c, class, slot)
	eng := c.module.Engine()

	v, err := eng.ProxyGet(h, class, slot)
	if err != nil {
		panic(err)
	}

	buf, token, err := eng.GatherArgs([]portable.Type{typ}, []host.Value{v})
	if err != nil {
		panic(err)
	}
	defer token.Cleanup()

	n := uint32(buf.Len())
	ptr, err := c.module.Allocator().Alloc(n)
	if err != nil {
		panic(err)
	}
	if err := c.module.Memory().Write(ptr, buf.Bytes()); err != nil {
		c.module.Allocator().Free(ptr, n)
		panic(err)
	}
	stack[0] = loader.Pack(ptr, n)
}

// hostProxySet implements proxy_set(handle u64, class_ptr u32, class_len
// u32, slot u32, val_ptr u32, val_len u32). The value is encoded the same
// way the field would be in a gather.
func (r *Runtime) hostProxySet(ctx context.Context, mod api.Module, stack []uint64) {
	c := callEngine(ctx)
	h := host.Handle(stack[0])
	class := readGuestString(mod, uint32(stack[1]), uint32(stack[2]))
	slot := int(uint32(stack[3]))

	typ := proxyField(c, class, slot)
	eng := c.module.Engine()

	raw, ok := mod.Memory().Read(uint32(stack[4]), uint32(stack[5]))
	if !ok {
		panic(errors.InvalidData(errors.PhaseProxy, "field value out of guest memory bounds"))
	}

	v, err := eng.Decode(typ, raw)
	if err != nil {
		panic(err)
	}
	if err := eng.ProxySet(h, class, slot, v); err != nil {
		panic(err)
	}
}
