package loader

import (
	"context"
	"sync/atomic"

	bridge "github.com/crossvm/bridge"
	"github.com/crossvm/bridge/errors"
	"github.com/crossvm/bridge/manifest"
	"github.com/crossvm/bridge/marshal"
)

// Entrypoint is the callable surface of one guest export. Satisfied by
// wazero's api.Function; tests substitute in-memory fakes.
type Entrypoint interface {
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// Module is one loaded generation of a compiled artifact. Everything here
// is immutable after load except the lifecycle state, so concurrent calls
// share a generation without locking.
type Module struct {
	gen     uint64
	path    string
	engine  *marshal.Engine
	funcs   map[string]manifest.ResolvedFunction
	exports map[string]Entrypoint
	mem     bridge.Memory
	alloc   bridge.Allocator
	closer  func(context.Context) error

	inflight    atomic.Int64
	retired     atomic.Bool
	retireEpoch atomic.Uint64
}

// ModuleConfig assembles a generation from parts, for embedders that run
// compiled code outside the wasm path. The design only requires that the
// artifact expose entrypoints, memory and an allocator; anything meeting
// that contract can stand in for a wasm instance.
type ModuleConfig struct {
	Generation uint64
	Path       string
	Engine     *marshal.Engine
	Functions  []manifest.ResolvedFunction
	Exports    map[string]Entrypoint
	Memory     bridge.Memory
	Allocator  bridge.Allocator
	Closer     func(context.Context) error
}

// Assemble builds a Module directly from its parts.
func Assemble(cfg ModuleConfig) *Module {
	funcs := make(map[string]manifest.ResolvedFunction, len(cfg.Functions))
	for _, fn := range cfg.Functions {
		funcs[fn.ExternalName] = fn
	}
	return &Module{
		gen:     cfg.Generation,
		path:    cfg.Path,
		engine:  cfg.Engine,
		funcs:   funcs,
		exports: cfg.Exports,
		mem:     cfg.Memory,
		alloc:   cfg.Allocator,
		closer:  cfg.Closer,
	}
}

// Generation returns the monotonically increasing generation id.
func (m *Module) Generation() uint64 { return m.gen }

// Path returns the artifact path this generation was loaded from.
func (m *Module) Path() string { return m.path }

// Engine returns the generation's marshalling engine.
func (m *Module) Engine() *marshal.Engine { return m.engine }

// Memory returns the guest's linear memory.
func (m *Module) Memory() bridge.Memory { return m.mem }

// Allocator returns the guest-backed scratch allocator.
func (m *Module) Allocator() bridge.Allocator { return m.alloc }

// Function returns the resolved signature for an external name.
func (m *Module) Function(externalName string) (manifest.ResolvedFunction, bool) {
	fn, ok := m.funcs[externalName]
	return fn, ok
}

// Functions returns every resolved signature of this generation.
func (m *Module) Functions() []manifest.ResolvedFunction {
	out := make([]manifest.ResolvedFunction, 0, len(m.funcs))
	for _, fn := range m.funcs {
		out = append(out, fn)
	}
	return out
}

// Entry returns the entrypoint for an external name.
func (m *Module) Entry(externalName string) (Entrypoint, bool) {
	e, ok := m.exports[externalName]
	return e, ok
}

// Enter marks the start of a call into this generation. A call cannot
// enter once the generation is retired; in-flight calls that entered
// before retirement run to completion.
func (m *Module) Enter() error {
	m.inflight.Add(1)
	if m.retired.Load() {
		m.inflight.Add(-1)
		return errors.ModuleRetired(m.path, m.gen)
	}
	return nil
}

// Exit marks the end of a call that previously entered.
func (m *Module) Exit() {
	if m.inflight.Add(-1) < 0 {
		panic(errors.ProtocolViolation(errors.PhaseRoute, "call exit without matching enter on %s", m.path))
	}
}

// Inflight returns the number of calls currently inside the generation.
func (m *Module) Inflight() int64 { return m.inflight.Load() }

// Retired reports whether the generation stopped accepting calls.
func (m *Module) Retired() bool { return m.retired.Load() }

// RetireEpoch returns the epoch at which the generation was retired.
func (m *Module) RetireEpoch() uint64 { return m.retireEpoch.Load() }

func (m *Module) retire(epoch uint64) {
	m.retireEpoch.Store(epoch)
	m.retired.Store(true)
}

// Close releases the generation's guest instance. Callers normally never
// invoke this directly; the epoch clock does, once the generation is
// provably unobservable.
func (m *Module) Close(ctx context.Context) error {
	if m.closer == nil {
		return nil
	}
	c := m.closer
	m.closer = nil
	return c(ctx)
}
