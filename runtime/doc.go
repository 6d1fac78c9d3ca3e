// Package runtime is the bridge facade: it owns the active module
// generation, routes host calls into guest entrypoints and exposes the
// host import surface guest code links against.
//
// Dispatch is per call. A call binds to the generation that is current
// when it starts and keeps using that generation's engine, memory and
// allocator for its whole duration, including any proxy field accesses
// the guest makes back into the host. Swapping in a new generation never
// disturbs calls already running against the old one; the old generation
// is retired and reclaimed later by the epoch clock.
package runtime
