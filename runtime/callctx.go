package runtime

import (
	"context"

	"github.com/crossvm/bridge/loader"
)

type callKey struct{}

// call is the per-call routing state threaded through context.Context.
// Nested calls chain through parent, so a guest that calls back into the
// host which routes into guest code again unwinds correctly.
type call struct {
	module *loader.Module
	parent *call
}

func withCall(ctx context.Context, c *call) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

func activeCall(ctx context.Context) (*call, bool) {
	c, ok := ctx.Value(callKey{}).(*call)
	return c, ok
}

// CallGeneration reports the module generation the surrounding routed
// call is bound to, if the context belongs to one.
func CallGeneration(ctx context.Context) (uint64, bool) {
	c, ok := activeCall(ctx)
	if !ok {
		return 0, false
	}
	return c.module.Generation(), true
}
