// Package host declares the boundary between the bridge and the host
// virtual machine it is embedded in.
//
// The host VM itself is out of scope: the bridge only sees host values
// through the small interfaces here. Value is the scalar/collection
// convention, Object is one host-resident class instance, Schema is the
// host's class declarations, and Registrar is the callback the bridge uses
// to hand exported guest functions to the host dispatcher.
//
// The Table maps opaque fixed-size handles to host objects for the proxy
// strategy. A handle is not ownership: the host stays sole owner of the
// referent and must Invalidate the handle when it reclaims or moves the
// object, after which any access through the handle reports a stale
// handle instead of touching reused memory.
package host
