// Package mutatehead implements the Mutable-Head Committer: the pure
// function that rewrites a mutable-HEAD inventory into the ordinary
// immutable-version inventory a commit promotes it to.
package mutatehead

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/ocflkit/ocflcore"
	"github.com/ocflkit/ocflcore/digest"
)

// Promote returns a new Inventory identical to inv except that every
// manifest and fixity content path under extensions/0005-mutable-head/head/
// has been rewritten to its final vN/contentDirectory/... location, the
// mutable-HEAD flag and revision number are cleared, and the HEAD version's
// created timestamp (and optional user/message) are updated. inv itself is
// not modified.
//
// The HEAD version's logical state is untouched: only the content paths the
// manifest and fixity blocks point at change, never the digests or logical
// paths a caller sees.
func Promote(inv *ocfl.Inventory, createdAt time.Time, user *ocfl.User, message string) (*ocfl.Inventory, error) {
	if inv == nil {
		return nil, ocfl.NewError(ocfl.Input, "mutatehead.Promote", fmt.Errorf("inventory is nil"))
	}
	if !inv.MutableHead() {
		return nil, ocfl.NewError(ocfl.State, "mutatehead.Promote", fmt.Errorf("inventory has no active mutable HEAD"))
	}
	head := inv.Head
	contentDir := inv.ContentDir()

	manifest, err := rewriteMap(inv.Manifest, head, contentDir)
	if err != nil {
		return nil, ocfl.NewError(ocfl.CorruptObject, "mutatehead.Promote", err)
	}

	fixity := make(map[string]*digest.Map, len(inv.Fixity))
	for alg, fx := range inv.Fixity {
		rewritten, err := rewriteMap(fx, head, contentDir)
		if err != nil {
			return nil, ocfl.NewError(ocfl.CorruptObject, "mutatehead.Promote", err)
		}
		fixity[alg] = rewritten
	}

	versions := make(map[ocfl.VersionNum]*ocfl.Version, len(inv.Versions))
	for vn, v := range inv.Versions {
		versions[vn] = v
	}
	headVersion := inv.GetVersion(head)
	if headVersion == nil {
		return nil, ocfl.NewError(ocfl.CorruptObject, "mutatehead.Promote", fmt.Errorf("head version %s missing", head))
	}
	versions[head] = &ocfl.Version{
		Created: createdAt,
		State:   headVersion.State,
		Message: message,
		User:    user,
	}

	out := &ocfl.Inventory{
		ID:               inv.ID,
		Type:             inv.Type,
		DigestAlgorithm:  inv.DigestAlgorithm,
		Head:             head,
		ContentDirectory: inv.ContentDirectory,
		Manifest:         manifest,
		Versions:         versions,
		Fixity:           fixity,
	}
	out.SetPreviousDigest(inv.PreviousDigest())
	out.SetObjectRootPath(inv.ObjectRootPath())

	if err := out.ShallowValidate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Relocations returns the old-to-new content path mapping that Promote(inv)
// would apply: every manifest path rooted under
// extensions/0005-mutable-head/head/ mapped to its final vN/contentDir/...
// location. The version writer uses this to physically relocate blobs
// server-side rather than re-uploading them from a local source.
func Relocations(inv *ocfl.Inventory) (map[string]string, error) {
	if !inv.MutableHead() {
		return nil, ocfl.NewError(ocfl.State, "mutatehead.Relocations", fmt.Errorf("inventory has no active mutable HEAD"))
	}
	head := inv.Head
	contentDir := inv.ContentDir()
	out := map[string]string{}
	var rerr error
	inv.Manifest.EachPath(func(p, _ string) bool {
		np, err := rewritePath(p, head, contentDir)
		if err != nil {
			rerr = err
			return false
		}
		if np != p {
			out[p] = np
		}
		return true
	})
	if rerr != nil {
		return nil, ocfl.NewError(ocfl.CorruptObject, "mutatehead.Relocations", rerr)
	}
	return out, nil
}

// rewriteMap rebuilds m, replacing every content path rooted under
// extensions/0005-mutable-head/head/ with its final vN/contentDir/...
// location. Paths not rooted there (content inherited from earlier,
// already-immutable versions) are kept unchanged.
func rewriteMap(m *digest.Map, head ocfl.VersionNum, contentDir string) (*digest.Map, error) {
	mk := digest.NewMapMaker()
	var addErr error
	m.EachPath(func(p, d string) bool {
		rewritten, err := rewritePath(p, head, contentDir)
		if err != nil {
			addErr = err
			return false
		}
		if err := mk.Add(d, rewritten); err != nil {
			addErr = err
			return false
		}
		return true
	})
	if addErr != nil {
		return nil, addErr
	}
	return mk.Map()
}

// mutableHeadContentPrefix is the fixed path prefix under which every
// mutable-HEAD revision's staged content lives.
const mutableHeadContentPrefix = ocfl.MutableHeadExtensionDir + "/head/"

// rewritePath converts "extensions/0005-mutable-head/head/<contentDir>/rN/<logical...>"
// into "vHEAD/<contentDir>/<logical...>", dropping the revision segment. A
// path not under the mutable-HEAD staging prefix is returned unchanged.
func rewritePath(p string, head ocfl.VersionNum, contentDir string) (string, error) {
	if !strings.HasPrefix(p, mutableHeadContentPrefix) {
		return p, nil
	}
	rest := strings.TrimPrefix(p, mutableHeadContentPrefix)
	if !strings.HasPrefix(rest, contentDir+"/") {
		return "", fmt.Errorf("mutable-head content path %q is not under content directory %q", p, contentDir)
	}
	rest = strings.TrimPrefix(rest, contentDir+"/")
	// rest is now "rN/<logical path...>"; drop the revision segment.
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return "", fmt.Errorf("mutable-head content path %q missing revision segment", p)
	}
	logical := rest[idx+1:]
	return path.Join(head.String(), contentDir, logical), nil
}
