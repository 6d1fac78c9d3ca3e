package loader

// ABIVersion is the bridge ABI this host implements. An artifact reporting
// any other version is rejected at load.
const ABIVersion = 1

// Exports every conforming artifact must provide.
const (
	ExportABIVersion = "bridge_abi_version"
	ExportTypeTable  = "bridge_type_table"
	ExportAlloc      = "bridge_alloc"
	ExportFree       = "bridge_free"
)

// Variable-size results cross the boundary as a single u64 with the
// pointer in the high half and the byte length in the low half.

// Unpack splits a packed pointer/length pair.
func Unpack(v uint64) (ptr, length uint32) {
	return uint32(v >> 32), uint32(v)
}

// Pack combines a guest pointer and byte length into one u64.
func Pack(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}
