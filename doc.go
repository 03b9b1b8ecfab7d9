// Package ocfl implements the core object lifecycle engine for the Oxford
// Common File Layout (OCFL) v1.0 specification: the inventory data model,
// version planning, atomic version writes with fixity verification, the
// out-of-spec mutable-HEAD staging extension, and bit-for-bit validation of
// objects on disk.
//
// The storage backend (local filesystem, cloud object store) and the
// object-id-to-path mapping are abstracted behind the driver and layout
// subpackages so the engine itself never touches a concrete filesystem or
// cloud SDK.
package ocfl
