package validate

import "fmt"

// Code identifies one OCFL v1.0 validation rule: the error or warning
// number, its prose, and the spec section it comes from. Every Result
// entry carries one.
type Code struct {
	Code        string
	Description string
	URL         string
}

func (c Code) String() string { return fmt.Sprintf("[%s] %s", c.Code, c.Description) }

const specURL = "https://ocfl.io/1.0/spec/#"

func code(num, desc string) Code {
	return Code{Code: num, Description: desc, URL: specURL + num}
}

// Errors. Numbering and prose follow the official OCFL v1.0 validation
// codes; this module implements the subset its validator actually checks,
// not the full E001-E112 catalog.
var (
	E001 = code("E001", "The OCFL Object Root must not contain files or directories other than those specified in the following sections.")
	E007 = code("E007", "The text contents of the version declaration file must be the same as dvalue, followed by a newline (\\n).")
	E008 = code("E008", "OCFL Object content must be stored as a sequence of one or more versions.")
	E010 = code("E010", "The version number sequence MUST start at 1 and must be continuous without missing integers.")
	E011 = code("E011", "If zero-padded version directory numbers are used then they must start with the prefix v and then a zero.")
	E015 = code("E015", "There must be no other files as children of a version directory, other than an inventory file and an inventory digest.")
	E023 = code("E023", "Every file within a version's content directory must be referenced in the manifest section of the inventory.")
	E025 = code("E025", "For content-addressing, OCFL Objects must use either sha512 or sha256, and should use sha512.")
	E036 = code("E036", "An OCFL Object Inventory must include the following keys: id, type, digestAlgorithm, head.")
	E040 = code("E040", "The value of [head] must be the version directory name with the highest version number.")
	E050 = code("E050", "The keys of the state JSON object are digest values, each of which must correspond to an entry in the manifest of the inventory.")
	E058 = code("E058", "Every occurrence of an inventory file must have an accompanying sidecar file stating its digest.")
	E060 = code("E060", "The digest sidecar file must contain the digest of the inventory file.")
	E063 = code("E063", "Every OCFL Object must have an inventory file within the OCFL Object Root, corresponding to the state of the OCFL Object at the current version.")
	E064 = code("E064", "Where an OCFL Object contains inventory.json in version directories, the inventory file in the OCFL Object Root must be the same as the file in the most recent version.")
	E066 = code("E066", "Each version block in each prior inventory file must represent the same object state as the corresponding version block in the current inventory file.")
	E067 = code("E067", "The extensions directory must not contain any files, and no sub-directories other than extension sub-directories.")
	E092 = code("E092", "The value for each key in the manifest must be an array containing the content paths of files in the OCFL Object that have content with the given digest.")
	E093 = code("E093", "Where included in the fixity block, the digest values given must match the digests of the files at the corresponding content paths.")
)

// Warnings.
var (
	W001 = code("W001", "Implementations SHOULD use version directory names constructed without zero-padding the version number, i.e. v1, v2, v3, etc.")
	W004 = code("W004", "For content-addressing, OCFL Objects SHOULD use sha512.")
	W005 = code("W005", "The OCFL Object Inventory id SHOULD be a URI.")
	W007 = code("W007", "In the OCFL Object Inventory, the JSON object describing an OCFL Version, SHOULD include the message and user keys.")
	W009 = code("W009", "In the OCFL Object Inventory, in the version block, the address value SHOULD be a URI.")
	W013 = code("W013", "In an OCFL Object, extension sub-directories SHOULD be named according to a registered extension name.")
)
