// Package marshal moves values across the bridge boundary.
//
// Copy-class values cross by full transfer: Gather walks a host object
// along the validated type table and serializes it into a MarshalBuffer;
// Decode reads an encoded value back into host form, driving the same
// create/set-field/finish protocol the guest uses when pushing values to
// the host. Proxy-class values never materialize: the guest holds an
// opaque handle and reads or writes one field at a time through the
// cached slot offsets.
//
// # Wire format
//
// Little-endian, byte-packed. Every type occupies a fixed slot; strings,
// collections and any-values put an (offset, length-or-count) pair in the
// slot and their payload in a variable section appended after the fixed
// region. All offsets are absolute within the buffer.
//
//	bool        1 byte
//	int, float  8 bytes
//	string      u32 offset | u32 byte length
//	option<T>   1-byte tag {0 none, 1 some} then T's slot
//	option2<T>  1-byte tag {0 none, 1 some(none), 2 some(some)} then T's slot
//	tuple       concatenated component slots
//	seq<T>      u32 offset | u32 count; payload is count consecutive T slots
//	map<K,V>    u32 offset | u32 count; payload is count (K slot, V slot) pairs
//	set<K>      u32 offset | u32 count; payload is count K slots
//	copy<C>     C's fields inline per the validated layout
//	proxy<C>    u64 handle
//	any         u32 offset | u32 byte length; payload is CBOR
//
// Any-values carry scalars, sequences and mappings only; tuples, sets and
// objects must be declared with their concrete portable type.
//
// # Ownership
//
// A MarshalBuffer belongs to the call that created it and is returned to
// the pool through its CleanupToken, exactly once, on every exit path.
// Releasing a token twice panics: that is a code-generator defect, not a
// runtime condition. Buffers and Builders must not cross goroutines.
package marshal
