// Package bridge is a bidirectional interop core between natively compiled
// guest code and a host-managed virtual machine, with hot reload of the
// compiled artifact while the host process keeps running.
//
// Guest code is compiled (by an external front end) to a WebAssembly core
// module exposing a small well-known export surface, plus a sidecar build
// manifest listing every externally callable function. The bridge loads the
// artifact, validates the guest's declared class shapes against the host's
// schema, and moves values across the boundary using either full copies or
// opaque proxy handles.
//
// # Architecture Overview
//
//	bridge/              Root package with Memory and Allocator interfaces
//	├── runtime/         High-level API: load, reload, route calls
//	├── loader/          Artifact loading, generations, epoch reclamation
//	├── typetable/       Guest class shape discovery and validation
//	├── marshal/         Gather/push value transfer and proxy field access
//	├── portable/        The closed portable-type taxonomy
//	├── manifest/        Build-time manifest parsing and portability checks
//	├── host/            Host VM boundary: values, objects, handle table
//	├── config/          TOML configuration for embedders
//	└── errors/          Structured error types
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, runtime.Config{Schema: schema, Registrar: reg})
//	err = rt.LoadModule(ctx, "app.wasm")
//	out, err := rt.Call(ctx, "make-point", int64(3), int64(4))
//
// Reloading swaps generations atomically: calls already in flight finish
// against the generation they started on, new calls resolve the newest
// generation, and the retired generation's memory is released only once the
// epoch discipline proves no call can still be inside it.
//
// # Thread Safety
//
// Runtime and loader types are safe for concurrent use. A call context is
// confined to one goroutine for the dynamic extent of a bridging call.
// MarshalBuffer and Builder values must never be shared across goroutines.
// Proxy handles may be shared only if the referenced host object is itself
// safe to share under the host's own rules; the bridge adds no locking of
// its own around proxied access.
package bridge
