package ocfl

import (
	"path"
	"strings"

	"github.com/ocflkit/ocflcore/digest"
)

// reservedRootNames are directory names under an object root (or storage
// root) that no layout or content path may produce, since the format
// reserves them for its own bookkeeping.
var reservedRootNames = map[string]bool{
	"extensions": true,
}

// ValidateLogicalPath checks p against the structural rules shared by every
// logical path within a version's state.
func ValidateLogicalPath(p string) error {
	return digest.ValidatePath(p)
}

// ValidateContentPath checks p against the structural rules for a content
// path stored under an object root: the shared path rules, plus a
// prohibition on any segment equal to a reserved root directory name.
func ValidateContentPath(p string) error {
	if err := digest.ValidatePath(p); err != nil {
		return err
	}
	for _, seg := range strings.Split(p, "/") {
		if reservedRootNames[seg] {
			return &digest.PathInvalidError{Path: p, Reason: "segment uses a reserved name"}
		}
	}
	return nil
}

// ValidateContentDirectory checks the inventory's optional contentDirectory
// override: an empty value means unset; otherwise it must not contain a
// slash or be "." or "..".
func ValidateContentDirectory(name string) error {
	if name == "" {
		return nil // unset means the default "content" applies
	}
	if strings.Contains(name, "/") || name == "." || name == ".." {
		return &digest.PathInvalidError{Path: name, Reason: "invalid contentDirectory"}
	}
	return nil
}

// JoinContentPath builds the content path for a logical path added to
// version v using contentDir (already defaulted), e.g. "v3/content/a/b.txt".
func JoinContentPath(v VersionNum, contentDir, logicalPath string) string {
	return path.Join(v.String(), contentDir, logicalPath)
}

// MutableHeadContentPath builds the content path for a logical path staged
// in mutable-head revision r, e.g.
// "extensions/0005-mutable-head/head/content/r2/a/b.txt".
func MutableHeadContentPath(r RevisionNum, contentDir, logicalPath string) string {
	return path.Join(MutableHeadExtensionDir, "head", contentDir, r.String(), logicalPath)
}

// MutableHeadExtensionDir is the fixed extension directory name for the
// mutable-HEAD staging area.
const MutableHeadExtensionDir = "extensions/0005-mutable-head"
