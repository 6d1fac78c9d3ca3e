package runtime

import (
	"context"
	stderrors "errors"

	"github.com/crossvm/bridge/errors"
	"github.com/crossvm/bridge/host"
	"github.com/crossvm/bridge/loader"
	"github.com/crossvm/bridge/manifest"
)

// Call routes one host call into the active generation. Arguments are
// gathered against the function's declared parameter types, copied into
// guest memory, and the encoded result is pushed back into host values.
//
// Routing a name the active generation never exported panics with an
// unresolved-symbol error: the caller was generated against a manifest
// this artifact does not satisfy, and no recovery is meaningful. Every
// data-dependent failure comes back as an ordinary error.
func (r *Runtime) Call(ctx context.Context, externalName string, args ...host.Value) (host.Value, error) {
	r.mu.RLock()
	m := r.current
	r.mu.RUnlock()
	if m == nil {
		return nil, errors.NotFound(errors.PhaseRoute, "module", "(none loaded)")
	}

	fn, ok := m.Function(externalName)
	if !ok {
		panic(errors.UnresolvedSymbol(externalName))
	}

	met := r.loader.Metrics()
	met.Calls.Inc()

	v, err := r.route(ctx, m, fn, args)
	if err != nil {
		met.CallFailures.Inc()
	}
	return v, err
}

func (r *Runtime) route(ctx context.Context, m *loader.Module, fn manifest.ResolvedFunction, args []host.Value) (host.Value, error) {
	if err := m.Enter(); err != nil {
		return nil, err
	}
	defer m.Exit()

	clock := r.loader.Clock()
	ticket := clock.Begin()
	defer clock.End(ticket)

	met := r.loader.Metrics()
	met.Inflight.Inc()
	defer met.Inflight.Dec()

	entry, ok := m.Entry(fn.ExternalName)
	if !ok {
		panic(errors.UnresolvedSymbol(fn.ExternalName))
	}

	eng := m.Engine()
	buf, token, err := eng.GatherArgs(fn.Params, args)
	if err != nil {
		return nil, err
	}
	defer token.Cleanup()

	argLen := uint32(buf.Len())
	var argPtr uint32
	if argLen > 0 {
		argPtr, err = m.Allocator().Alloc(argLen)
		if err != nil {
			return nil, err
		}
		defer m.Allocator().Free(argPtr, argLen)
		if err := m.Memory().Write(argPtr, buf.Bytes()); err != nil {
			return nil, err
		}
	}

	parent, _ := activeCall(ctx)
	cctx := withCall(ctx, &call{module: m, parent: parent})

	res, err := entry.Call(cctx, uint64(argPtr), uint64(argLen))
	if err != nil {
		// Recoverable bridge errors raised inside host imports travel
		// out of the guest as wrapped call errors; hand them back
		// unchanged.
		var be *errors.Error
		if stderrors.As(err, &be) {
			return nil, be
		}
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidData, err,
			"guest call "+fn.ExternalName+" trapped")
	}
	if len(res) == 0 {
		return nil, errors.InvalidData(errors.PhaseRuntime,
			"guest call "+fn.ExternalName+" returned no result slot")
	}

	resPtr, resLen := loader.Unpack(res[0])
	data, err := m.Memory().Read(resPtr, resLen)
	if err != nil {
		return nil, err
	}

	v, err := eng.Decode(fn.Returns, data)
	m.Allocator().Free(resPtr, resLen)
	return v, err
}
