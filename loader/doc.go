// Package loader turns compiled artifacts into live module generations and
// retires them safely under the epoch treadmill.
//
// A load is atomic: the artifact, its sidecar manifest, the ABI handshake,
// type table validation and manifest resolution all succeed before a
// Module exists. Any failure leaves the previously active generation
// untouched.
//
// Unloading never frees a generation eagerly. Retiring a module advances
// the global epoch clock; the generation's resources are reclaimed only
// once every call that could still observe it has drained.
package loader
