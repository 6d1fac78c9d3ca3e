package loader

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	bridge "github.com/crossvm/bridge"
	"github.com/crossvm/bridge/errors"
	"github.com/crossvm/bridge/host"
	"github.com/crossvm/bridge/manifest"
	"github.com/crossvm/bridge/marshal"
	"github.com/crossvm/bridge/typetable"
)

// Options configures a Loader.
type Options struct {
	// Schema is the host's class declarations; every load validates the
	// artifact's type table against it.
	Schema host.Schema

	// Factory materializes host objects during push.
	Factory host.Factory

	// HostModule, when set, instantiates the host-side import module the
	// artifact links against. Runs once, before the first load.
	HostModule func(ctx context.Context, r wazero.Runtime) error

	// MemoryLimitPages caps guest memory in 64KB pages. 0 means the
	// wazero default.
	MemoryLimitPages uint32

	// Registerer receives the loader metrics. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer
}

// Loader compiles artifacts and activates module generations. Handles are
// shared across generations: a proxy handle minted under one generation
// stays valid across reloads until the host invalidates it.
type Loader struct {
	runtime wazero.Runtime
	schema  host.Schema
	factory host.Factory
	handles *host.Table
	clock   *Clock
	metrics *Metrics
	gen     atomic.Uint64
}

// New creates a Loader with its own wazero runtime.
func New(ctx context.Context, opts Options) (*Loader, error) {
	cfg := wazero.NewRuntimeConfig()
	if opts.MemoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(opts.MemoryLimitPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, cfg)

	if opts.HostModule != nil {
		if err := opts.HostModule(ctx, r); err != nil {
			r.Close(ctx)
			return nil, errors.Load("instantiate host imports", err)
		}
	}

	return &Loader{
		runtime: r,
		schema:  opts.Schema,
		factory: opts.Factory,
		handles: host.NewTable(),
		clock:   NewClock(),
		metrics: NewMetrics(opts.Registerer),
	}, nil
}

// Clock returns the epoch clock governing retirement.
func (l *Loader) Clock() *Clock { return l.clock }

// Handles returns the proxy handle table shared by all generations.
func (l *Loader) Handles() *host.Table { return l.handles }

// Metrics returns the loader's collector set.
func (l *Loader) Metrics() *Metrics { return l.metrics }

// Load activates a new generation from a compiled artifact and its
// sidecar manifest. The sequence is atomic: ABI handshake, type table
// validation and manifest resolution must all pass before the Module
// exists, and a failure at any step tears the candidate instance down
// without touching whatever generation is currently active.
func (l *Loader) Load(ctx context.Context, artifact string) (*Module, error) {
	m, err := l.load(ctx, artifact)
	if err != nil {
		l.metrics.LoadFailures.Inc()
		Logger().Warn("module load rejected", zap.String("path", artifact), zap.Error(err))
		return nil, err
	}
	l.metrics.Loads.Inc()
	Logger().Info("module generation active",
		zap.String("path", artifact),
		zap.Uint64("generation", m.Generation()),
		zap.Int("functions", len(m.funcs)))
	return m, nil
}

func (l *Loader) load(ctx context.Context, artifact string) (*Module, error) {
	man, err := manifest.Load(artifact)
	if err != nil {
		return nil, err
	}
	if man.ABIVersion != ABIVersion {
		return nil, errors.ABIMismatch(ABIVersion, man.ABIVersion)
	}

	raw, err := os.ReadFile(artifact)
	if err != nil {
		return nil, errors.Load("read artifact", err)
	}

	compiled, err := l.runtime.CompileModule(ctx, raw)
	if err != nil {
		return nil, errors.Load("compile artifact", err)
	}

	inst, err := l.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(""))
	if err != nil {
		compiled.Close(ctx)
		return nil, errors.Load("instantiate artifact", err)
	}

	m, err := l.activate(ctx, artifact, man, inst, compiled)
	if err != nil {
		inst.Close(ctx)
		compiled.Close(ctx)
		return nil, err
	}
	return m, nil
}

// callScalar invokes a nullary ABI export and returns its single result.
// An export compiled with the wrong arity is a bad binary, so an empty
// result slice rejects the load instead of crashing it.
func callScalar(ctx context.Context, fn Entrypoint, name string) (uint64, error) {
	res, err := fn.Call(ctx)
	if err != nil {
		return 0, errors.Load("call "+name, err)
	}
	if len(res) == 0 {
		return 0, errors.Load(name+" returned no result slot", nil)
	}
	return res[0], nil
}

func (l *Loader) activate(ctx context.Context, artifact string, man *manifest.Manifest, inst api.Module, compiled wazero.CompiledModule) (*Module, error) {
	verFn := inst.ExportedFunction(ExportABIVersion)
	if verFn == nil {
		return nil, errors.MissingExport(ExportABIVersion)
	}
	ver, err := callScalar(ctx, verFn, ExportABIVersion)
	if err != nil {
		return nil, err
	}
	if got := uint32(ver); got != ABIVersion {
		return nil, errors.ABIMismatch(ABIVersion, got)
	}

	rawMem := inst.Memory()
	if rawMem == nil {
		return nil, errors.MissingExport("memory")
	}
	mem := &wasmMemory{mem: rawMem}

	allocFn := inst.ExportedFunction(ExportAlloc)
	if allocFn == nil {
		return nil, errors.MissingExport(ExportAlloc)
	}
	freeFn := inst.ExportedFunction(ExportFree)
	if freeFn == nil {
		return nil, errors.MissingExport(ExportFree)
	}

	tableFn := inst.ExportedFunction(ExportTypeTable)
	if tableFn == nil {
		return nil, errors.MissingExport(ExportTypeTable)
	}
	packed, err := callScalar(ctx, tableFn, ExportTypeTable)
	if err != nil {
		return nil, err
	}
	ptr, length := Unpack(packed)
	blob, err := mem.Read(ptr, length)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseDiscover, errors.KindInvalidData, err, "read type table payload")
	}

	payload, err := typetable.Decode(blob)
	if err != nil {
		return nil, err
	}
	table, err := typetable.Validate(l.schema, payload)
	if err != nil {
		return nil, err
	}

	resolved, err := man.Resolve(table)
	if err != nil {
		return nil, err
	}

	funcs := make(map[string]manifest.ResolvedFunction, len(resolved))
	exports := make(map[string]Entrypoint, len(resolved))
	for _, fn := range resolved {
		ef := inst.ExportedFunction(fn.InternalSymbol)
		if ef == nil {
			return nil, errors.MissingExport(fn.InternalSymbol)
		}
		funcs[fn.ExternalName] = fn
		exports[fn.ExternalName] = ef
	}

	return &Module{
		gen:     l.gen.Add(1),
		path:    artifact,
		engine:  marshal.NewEngine(table, l.handles, l.factory),
		funcs:   funcs,
		exports: exports,
		mem:     mem,
		alloc:   &guestAllocator{alloc: allocFn, free: freeFn},
		closer: func(ctx context.Context) error {
			err := inst.Close(ctx)
			if cerr := compiled.Close(ctx); err == nil {
				err = cerr
			}
			return err
		},
	}, nil
}

// Retire stops a generation from accepting calls and queues it for
// deferred reclamation under the epoch clock.
func (l *Loader) Retire(m *Module) uint64 {
	epoch := l.clock.Retire(m)
	l.metrics.Retires.Inc()
	l.metrics.Pending.Set(float64(l.clock.Pending()))
	Logger().Info("module generation retired",
		zap.String("path", m.Path()),
		zap.Uint64("generation", m.Generation()),
		zap.Uint64("epoch", epoch))
	return epoch
}

// Reclaim frees every retired generation that can no longer be observed.
func (l *Loader) Reclaim(ctx context.Context) (int, error) {
	n, err := l.clock.Reclaim(ctx)
	if n > 0 {
		l.metrics.Reclaims.Add(float64(n))
	}
	l.metrics.Pending.Set(float64(l.clock.Pending()))
	return n, err
}

// Close shuts the underlying wazero runtime down, closing every
// outstanding instance with it.
func (l *Loader) Close(ctx context.Context) error {
	return l.runtime.Close(ctx)
}

// wasmMemory adapts wazero linear memory to the bridge Memory interface.
type wasmMemory struct {
	mem api.Memory
}

func (m *wasmMemory) Read(offset, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.InvalidData(errors.PhaseRuntime, "guest memory read out of bounds")
	}
	return data, nil
}

func (m *wasmMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.InvalidData(errors.PhaseRuntime, "guest memory write out of bounds")
	}
	return nil
}

func (m *wasmMemory) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.InvalidData(errors.PhaseRuntime, "guest memory read out of bounds")
	}
	return v, nil
}

func (m *wasmMemory) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, errors.InvalidData(errors.PhaseRuntime, "guest memory read out of bounds")
	}
	return v, nil
}

func (m *wasmMemory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return errors.InvalidData(errors.PhaseRuntime, "guest memory write out of bounds")
	}
	return nil
}

func (m *wasmMemory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return errors.InvalidData(errors.PhaseRuntime, "guest memory write out of bounds")
	}
	return nil
}

var _ bridge.Memory = (*wasmMemory)(nil)

// guestAllocator drives the artifact's exported alloc/free pair.
type guestAllocator struct {
	alloc Entrypoint
	free  Entrypoint
}

func (a *guestAllocator) Alloc(size uint32) (uint32, error) {
	res, err := a.alloc.Call(context.Background(), uint64(size))
	if err != nil {
		return 0, errors.AllocationFailed(size, err)
	}
	if len(res) == 0 {
		return 0, errors.AllocationFailed(size, nil)
	}
	ptr := uint32(res[0])
	if ptr == 0 && size > 0 {
		return 0, errors.AllocationFailed(size, nil)
	}
	return ptr, nil
}

func (a *guestAllocator) Free(ptr, size uint32) {
	if ptr == 0 {
		return
	}
	if _, err := a.free.Call(context.Background(), uint64(ptr), uint64(size)); err != nil {
		Logger().Warn("guest free failed",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

var _ bridge.Allocator = (*guestAllocator)(nil)
