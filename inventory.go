package ocfl

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ocflkit/ocflcore/digest"
)

// DefaultContentDirectory is the content directory name used when an
// inventory does not set one explicitly.
const DefaultContentDirectory = "content"

// User identifies the person or agent responsible for a version.
type User struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// Version is one entry of an inventory's "versions" map: the state of an
// object as of that version, plus its provenance.
type Version struct {
	Created time.Time  `json:"created"`
	State   *digest.Map `json:"state"`
	Message string     `json:"message,omitempty"`
	User    *User      `json:"user,omitempty"`
}

// GetDigest returns the digest recorded for logicalPath in this version's
// state, and whether it was found.
func (v *Version) GetDigest(logicalPath string) (string, bool) {
	if v == nil || v.State == nil {
		return "", false
	}
	return v.State.GetDigest(logicalPath)
}

// Inventory is the in-memory representation of an object's inventory.json,
// the authoritative metadata for one OCFL object. Loaded inventories are
// immutable; to plan a new version, use the Inventory Updater
// (github.com/ocflkit/ocflcore/updater).
type Inventory struct {
	ID               string              `json:"id"`
	Type             string              `json:"type"`
	DigestAlgorithm  string              `json:"digestAlgorithm"`
	Head             VersionNum          `json:"head"`
	ContentDirectory string              `json:"contentDirectory,omitempty"`
	Manifest         *digest.Map         `json:"manifest"`
	Versions         map[VersionNum]*Version `json:"versions"`
	Fixity           map[string]*digest.Map  `json:"fixity,omitempty"`

	// Internal-only fields, never marshaled: carried alongside the loaded
	// inventory for the orchestrator and version writer.
	objectRootPath string
	previousDigest string // digest of the currently-persisted root inventory, if any
	mutableHead    bool
	revisionNum    RevisionNum
}

// inventoryWire is the JSON wire shape; Inventory itself carries unexported
// fields that must not round-trip through encoding/json directly.
type inventoryWire struct {
	ID               string                   `json:"id"`
	Type             string                   `json:"type"`
	DigestAlgorithm  string                   `json:"digestAlgorithm"`
	Head             VersionNum               `json:"head"`
	ContentDirectory string                   `json:"contentDirectory,omitempty"`
	Manifest         *digest.Map              `json:"manifest"`
	Versions         map[VersionNum]*Version  `json:"versions"`
	Fixity           map[string]*digest.Map   `json:"fixity,omitempty"`
}

// MarshalJSON renders the inventory's public wire fields only.
func (inv *Inventory) MarshalJSON() ([]byte, error) {
	return json.Marshal(inventoryWire{
		ID:               inv.ID,
		Type:             inv.Type,
		DigestAlgorithm:  inv.DigestAlgorithm,
		Head:             inv.Head,
		ContentDirectory: inv.ContentDirectory,
		Manifest:         inv.Manifest,
		Versions:         inv.Versions,
		Fixity:           inv.Fixity,
	})
}

func (inv *Inventory) UnmarshalJSON(b []byte) error {
	var w inventoryWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	inv.ID = w.ID
	inv.Type = w.Type
	inv.DigestAlgorithm = w.DigestAlgorithm
	inv.Head = w.Head
	inv.ContentDirectory = w.ContentDirectory
	inv.Manifest = w.Manifest
	inv.Versions = w.Versions
	inv.Fixity = w.Fixity
	return nil
}

// ContentDir returns the inventory's effective content directory name,
// applying the default when unset.
func (inv *Inventory) ContentDir() string {
	if inv.ContentDirectory == "" {
		return DefaultContentDirectory
	}
	return inv.ContentDirectory
}

// VNums returns the inventory's version numbers in ascending order.
func (inv *Inventory) VNums() VersionNums {
	out := make(VersionNums, 0, len(inv.Versions))
	for v := range inv.Versions {
		out = append(out, v)
	}
	sort.Sort(out)
	return out
}

// GetVersion returns the Version for v, or nil if not present. The zero
// value HeadVersion resolves to the inventory's current head.
func (inv *Inventory) GetVersion(v VersionNum) *Version {
	if v.IsZero() {
		v = inv.Head
	}
	return inv.Versions[v]
}

// PreviousDigest returns the digest of the root inventory this Inventory
// was loaded from, used for the optimistic-concurrency check at commit
// time. It is empty for a brand-new (v1, never-persisted) inventory.
func (inv *Inventory) PreviousDigest() string { return inv.previousDigest }

// SetPreviousDigest records the digest of the persisted root inventory this
// Inventory was loaded from or just committed as.
func (inv *Inventory) SetPreviousDigest(d string) { inv.previousDigest = d }

// ObjectRootPath returns the storage path of the object's root directory.
func (inv *Inventory) ObjectRootPath() string { return inv.objectRootPath }

// SetObjectRootPath records the object's root directory path.
func (inv *Inventory) SetObjectRootPath(p string) { inv.objectRootPath = p }

// MutableHead reports whether this Inventory reflects an active
// mutable-HEAD staging area (as opposed to the immutable root inventory).
func (inv *Inventory) MutableHead() bool { return inv.mutableHead }

// SetMutableHead marks this Inventory as reflecting the mutable-HEAD
// staging area, recording the latest staged RevisionNum.
func (inv *Inventory) SetMutableHead(active bool, rev RevisionNum) {
	inv.mutableHead = active
	inv.revisionNum = rev
}

// RevisionNum returns the latest staged revision number, valid only when
// MutableHead() is true.
func (inv *Inventory) RevisionNum() RevisionNum { return inv.revisionNum }

// EachStatePath calls fn for every (logicalPath, digest) pair in version
// v's state, in sorted path order.
func (inv *Inventory) EachStatePath(v VersionNum, fn func(logicalPath, digest string) bool) {
	ver := inv.GetVersion(v)
	if ver == nil || ver.State == nil {
		return
	}
	ver.State.EachPath(fn)
}

// ContentPath returns one content path recorded in the manifest for digest,
// or "" if the digest isn't present. Manifest entries may list more than
// one path for the same digest; the first (sorted) is returned.
func (inv *Inventory) ContentPath(dig string) string {
	paths := inv.Manifest.DigestPaths(dig)
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

// ShallowValidate checks the structural invariants that must hold for any
// inventory the engine is willing to operate on: dense version sequence,
// every state digest present in the manifest, every fixity path present in
// the manifest, content directory well-formed.
func (inv *Inventory) ShallowValidate() error {
	if inv.ID == "" {
		return NewError(CorruptObject, "ShallowValidate", fmt.Errorf("inventory id is empty"))
	}
	if inv.Type != InventoryType {
		return NewError(CorruptObject, "ShallowValidate", fmt.Errorf("unexpected inventory type %q", inv.Type))
	}
	if !digest.ContentDigestAlgorithms[inv.DigestAlgorithm] {
		return NewError(CorruptObject, "ShallowValidate", fmt.Errorf("illegal digestAlgorithm %q", inv.DigestAlgorithm))
	}
	if err := ValidateContentDirectory(inv.ContentDirectory); err != nil {
		return NewError(CorruptObject, "ShallowValidate", err)
	}
	if err := inv.VNums().Valid(); err != nil {
		return NewError(CorruptObject, "ShallowValidate", err)
	}
	if inv.VNums().Head() != inv.Head {
		return NewError(CorruptObject, "ShallowValidate", fmt.Errorf("head %s is not the highest version present", inv.Head))
	}
	if inv.GetVersion(inv.Head) == nil {
		return NewError(CorruptObject, "ShallowValidate", fmt.Errorf("head version %s missing from versions", inv.Head))
	}
	for vn, ver := range inv.Versions {
		if ver.State == nil {
			continue
		}
		var missing error
		ver.State.EachPath(func(_, dig string) bool {
			if !inv.Manifest.DigestExists(dig) {
				missing = fmt.Errorf("version %s state digest %s not in manifest", vn, dig)
				return false
			}
			return true
		})
		if missing != nil {
			return NewError(CorruptObject, "ShallowValidate", missing)
		}
	}
	for alg, fx := range inv.Fixity {
		var bad error
		fx.EachPath(func(p, _ string) bool {
			if !inv.Manifest.DigestExists(manifestDigestForPath(inv.Manifest, p)) {
				bad = fmt.Errorf("fixity[%s] path %s not present in manifest", alg, p)
				return false
			}
			return true
		})
		if bad != nil {
			return NewError(CorruptObject, "ShallowValidate", bad)
		}
	}
	return nil
}

// manifestDigestForPath finds the manifest digest that claims content path
// p, or "" if none does.
func manifestDigestForPath(m *digest.Map, p string) string {
	d, _ := m.GetDigest(p)
	return d
}
