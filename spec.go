package ocfl

// Spec1_0 is the OCFL specification version this module implements.
const Spec1_0 = "1.0"

// InventoryType is the canonical OCFL v1.0 inventory type URI, the required
// value of an inventory's "type" field.
const InventoryType = "https://ocfl.io/1.0/spec/#inventory"

// NamasteObjectType is the Namaste declaration type for an OCFL object.
const NamasteObjectType = "ocfl_object"

// NamasteObjectDeclaration is the root-level marker file name for an OCFL
// v1.0 object ("0=ocfl_object_1.0").
const NamasteObjectDeclaration = "0=ocfl_object_1.0"

// NamasteObjectBody is the required file contents of the object declaration.
const NamasteObjectBody = "ocfl_object_1.0\n"
