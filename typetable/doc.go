// Package typetable discovers and validates the class shapes a compiled
// artifact declares, and caches the layout used for marshalling.
//
// The artifact exports a CBOR payload listing every bridged class with its
// ordered fields. Validate compares that payload against the host schema:
// field count, field order, declared types and interop strategy must all
// agree, and any divergence rejects the whole artifact naming the
// offending class and field. On success the table carries, per field, the
// host-side slot and the byte offset inside the gather wire format, both
// computed once per load and dropped on unload. Tables are never shared
// across generations.
package typetable
