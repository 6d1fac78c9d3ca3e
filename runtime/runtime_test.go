package runtime

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"testing"
	"time"

	"github.com/crossvm/bridge/errors"
	"github.com/crossvm/bridge/host"
	"github.com/crossvm/bridge/loader"
	"github.com/crossvm/bridge/manifest"
	"github.com/crossvm/bridge/marshal"
	"github.com/crossvm/bridge/portable"
	"github.com/crossvm/bridge/typetable"
)

// byteMemory is guest linear memory backed by a plain slice.
type byteMemory struct {
	data []byte
}

func newByteMemory(size int) *byteMemory {
	return &byteMemory{data: make([]byte, size)}
}

func (m *byteMemory) Read(off, n uint32) ([]byte, error) {
	if uint64(off)+uint64(n) > uint64(len(m.data)) {
		return nil, errors.InvalidData(errors.PhaseRuntime, "fake memory read out of bounds")
	}
	return m.data[off : off+n], nil
}

func (m *byteMemory) Write(off uint32, data []byte) error {
	if uint64(off)+uint64(len(data)) > uint64(len(m.data)) {
		return errors.InvalidData(errors.PhaseRuntime, "fake memory write out of bounds")
	}
	copy(m.data[off:], data)
	return nil
}

func (m *byteMemory) ReadU32(off uint32) (uint32, error) {
	b, err := m.Read(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *byteMemory) ReadU64(off uint32) (uint64, error) {
	b, err := m.Read(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (m *byteMemory) WriteU32(off uint32, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return m.Write(off, b[:])
}

func (m *byteMemory) WriteU64(off uint32, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return m.Write(off, b[:])
}

// bumpAlloc is a fake guest allocator that never frees.
type bumpAlloc struct {
	next uint32
}

func (a *bumpAlloc) Alloc(size uint32) (uint32, error) {
	ptr := a.next
	if ptr == 0 {
		ptr = 8
	}
	a.next = ptr + size
	return ptr, nil
}

func (a *bumpAlloc) Free(ptr, size uint32) {}

// echoEntry copies its argument region into a fresh allocation and
// returns it, mimicking an identity guest function.
type echoEntry struct {
	mem     *byteMemory
	alloc   *bumpAlloc
	started chan struct{}
	release chan struct{}
}

func (e *echoEntry) Call(_ context.Context, params ...uint64) ([]uint64, error) {
	if e.started != nil {
		e.started <- struct{}{}
	}
	if e.release != nil {
		<-e.release
	}

	argPtr, argLen := uint32(params[0]), uint32(params[1])
	src, err := e.mem.Read(argPtr, argLen)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), src...)

	ptr, err := e.alloc.Alloc(argLen)
	if err != nil {
		return nil, err
	}
	if err := e.mem.Write(ptr, out); err != nil {
		return nil, err
	}
	return []uint64{loader.Pack(ptr, argLen)}, nil
}

func emptyEngine(t *testing.T) *marshal.Engine {
	t.Helper()
	schema := host.NewSchema()
	table, err := typetable.Validate(schema, &typetable.Payload{})
	if err != nil {
		t.Fatal(err)
	}
	return marshal.NewEngine(table, host.NewTable(), host.RecordFactory{Schema: schema})
}

func fakeGuest(t *testing.T, gen uint64, entry *echoEntry, closed *int) *loader.Module {
	t.Helper()
	return loader.Assemble(loader.ModuleConfig{
		Generation: gen,
		Path:       "echo.wasm",
		Engine:     emptyEngine(t),
		Functions: []manifest.ResolvedFunction{{
			InternalSymbol: "bridge_fn_echo",
			ExternalName:   "echo",
			Params:         []portable.Type{portable.Int()},
			Returns:        portable.Int(),
		}},
		Exports:   map[string]loader.Entrypoint{"echo": entry},
		Memory:    entry.mem,
		Allocator: entry.alloc,
		Closer: func(context.Context) error {
			*closed++
			return nil
		},
	})
}

func newTestRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	if cfg.Schema == nil {
		cfg.Schema = host.NewSchema()
	}
	r, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close(context.Background()) })
	return r
}

func TestCall_RoutesThroughActiveGeneration(t *testing.T) {
	r := newTestRuntime(t, Config{})

	var closed int
	mem := newByteMemory(1 << 16)
	entry := &echoEntry{mem: mem, alloc: &bumpAlloc{}}
	if err := r.Activate(fakeGuest(t, 1, entry, &closed)); err != nil {
		t.Fatal(err)
	}

	v, err := r.Call(context.Background(), "echo", int64(42))
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(42) {
		t.Fatalf("echo returned %v", v)
	}
}

func TestCall_NothingLoaded(t *testing.T) {
	r := newTestRuntime(t, Config{})
	_, err := r.Call(context.Background(), "echo", int64(1))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseRoute, Kind: errors.KindNotFound}) {
		t.Fatalf("call with nothing loaded: %v", err)
	}
}

func TestCall_UnresolvedSymbolPanics(t *testing.T) {
	r := newTestRuntime(t, Config{})

	var closed int
	mem := newByteMemory(1 << 16)
	entry := &echoEntry{mem: mem, alloc: &bumpAlloc{}}
	if err := r.Activate(fakeGuest(t, 1, entry, &closed)); err != nil {
		t.Fatal(err)
	}

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("routing an unknown name did not panic")
		}
		err, ok := rec.(*errors.Error)
		if !ok || err.Kind != errors.KindUnresolvedSymbol {
			t.Fatalf("panic value = %v", rec)
		}
	}()
	r.Call(context.Background(), "no-such-function", int64(1))
}

func TestRegistrar_ReceivesEntrypoints(t *testing.T) {
	entries := make(map[string]host.EntryPoint)
	reg := host.RegistrarFunc(func(name string, e host.EntryPoint) error {
		entries[name] = e
		return nil
	})
	r := newTestRuntime(t, Config{Registrar: reg})

	var closed int
	mem := newByteMemory(1 << 16)
	entry := &echoEntry{mem: mem, alloc: &bumpAlloc{}}
	if err := r.Activate(fakeGuest(t, 1, entry, &closed)); err != nil {
		t.Fatal(err)
	}

	e, ok := entries["echo"]
	if !ok {
		t.Fatal("echo was not registered")
	}
	v, err := e(context.Background(), int64(7))
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(7) {
		t.Fatalf("registered entrypoint returned %v", v)
	}
}

// A generation swapped out mid-call must survive until the call returns.
func TestReload_DoesNotDisturbInflightCalls(t *testing.T) {
	r := newTestRuntime(t, Config{})

	var closed1, closed2 int
	mem1 := newByteMemory(1 << 16)
	slow := &echoEntry{
		mem:     mem1,
		alloc:   &bumpAlloc{},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	if err := r.Activate(fakeGuest(t, 1, slow, &closed1)); err != nil {
		t.Fatal(err)
	}

	type result struct {
		v   host.Value
		err error
	}
	results := make(chan result, 1)
	go func() {
		v, err := r.Call(context.Background(), "echo", int64(99))
		results <- result{v, err}
	}()
	<-slow.started

	// Swap a new generation in while the old call is still inside.
	mem2 := newByteMemory(1 << 16)
	fast := &echoEntry{mem: mem2, alloc: &bumpAlloc{}}
	if err := r.Activate(fakeGuest(t, 2, fast, &closed2)); err != nil {
		t.Fatal(err)
	}

	if n, _ := r.Reclaim(context.Background()); n != 0 || closed1 != 0 {
		t.Fatalf("old generation reclaimed under an in-flight call (n=%d closed=%d)", n, closed1)
	}

	// New calls already route to the new generation.
	if v, err := r.Call(context.Background(), "echo", int64(5)); err != nil || v != int64(5) {
		t.Fatalf("call on new generation: %v, %v", v, err)
	}

	close(slow.release)
	res := <-results
	if res.err != nil {
		t.Fatalf("in-flight call failed after swap: %v", res.err)
	}
	if res.v != int64(99) {
		t.Fatalf("in-flight call returned %v", res.v)
	}

	deadline := time.After(2 * time.Second)
	for closed1 == 0 {
		select {
		case <-deadline:
			t.Fatal("drained generation never reclaimed")
		default:
		}
		r.Reclaim(context.Background())
		time.Sleep(time.Millisecond)
	}
	if closed2 != 0 {
		t.Fatal("active generation was reclaimed")
	}
}

func TestUnload_RejectsNewCalls(t *testing.T) {
	r := newTestRuntime(t, Config{})

	var closed int
	mem := newByteMemory(1 << 16)
	entry := &echoEntry{mem: mem, alloc: &bumpAlloc{}}
	if err := r.Activate(fakeGuest(t, 1, entry, &closed)); err != nil {
		t.Fatal(err)
	}

	r.Unload()
	if _, err := r.Call(context.Background(), "echo", int64(1)); err == nil {
		t.Fatal("call succeeded after unload")
	}
	if n, err := r.Reclaim(context.Background()); err != nil || n != 1 || closed != 1 {
		t.Fatalf("unloaded idle generation not reclaimed (n=%d closed=%d err=%v)", n, closed, err)
	}
}

func TestCallGeneration(t *testing.T) {
	if _, ok := CallGeneration(context.Background()); ok {
		t.Fatal("bare context reported a call generation")
	}

	r := newTestRuntime(t, Config{})
	var closed int
	mem := newByteMemory(1 << 16)

	var seen uint64
	probe := &probeEntry{echo: &echoEntry{mem: mem, alloc: &bumpAlloc{}}, seen: &seen}
	m := loader.Assemble(loader.ModuleConfig{
		Generation: 7,
		Path:       "probe.wasm",
		Engine:     emptyEngine(t),
		Functions: []manifest.ResolvedFunction{{
			InternalSymbol: "bridge_fn_echo",
			ExternalName:   "echo",
			Params:         []portable.Type{portable.Int()},
			Returns:        portable.Int(),
		}},
		Exports:   map[string]loader.Entrypoint{"echo": probe},
		Memory:    mem,
		Allocator: probe.echo.alloc,
		Closer:    func(context.Context) error { closed++; return nil },
	})
	if err := r.Activate(m); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Call(context.Background(), "echo", int64(1)); err != nil {
		t.Fatal(err)
	}
	if seen != 7 {
		t.Fatalf("call context reported generation %d", seen)
	}
}

// probeEntry records the generation visible through the call context.
type probeEntry struct {
	echo *echoEntry
	seen *uint64
}

func (p *probeEntry) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	if gen, ok := CallGeneration(ctx); ok {
		*p.seen = gen
	}
	return p.echo.Call(ctx, params...)
}
