// Package validate implements the Validator: a shallow, in-memory
// consistency pass run on every commit, and a deep, storage-backed pass
// that recomputes file digests and cross-checks version histories.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/carlmjohnson/workgroup"

	"github.com/ocflkit/ocflcore"
	"github.com/ocflkit/ocflcore/digest"
	"github.com/ocflkit/ocflcore/driver"
)

// DefaultDigestConcurrency bounds how many content files are re-hashed at
// once during a deep validation pass.
const DefaultDigestConcurrency = 8

// Shallow checks the structural invariants an inventory must satisfy
// before it is ever written to storage, enumerating every violation found
// (rather than failing on the first, as Inventory.ShallowValidate does).
func Shallow(inv *ocfl.Inventory) *Result {
	r := &Result{}
	if inv.ID == "" {
		r.AddFatal(E036, "inventory id is empty")
	} else if _, err := url.Parse(inv.ID); err != nil || !strings.Contains(inv.ID, ":") {
		r.AddWarn(W005, "inventory id %q should be a URI", inv.ID)
	}
	if inv.Type != ocfl.InventoryType {
		r.AddFatal(E036, "unexpected inventory type %q", inv.Type)
	}
	if !digest.ContentDigestAlgorithms[inv.DigestAlgorithm] {
		r.AddFatal(E025, "illegal digestAlgorithm %q", inv.DigestAlgorithm)
	} else if inv.DigestAlgorithm != digest.SHA512 {
		r.AddWarn(W004, "digestAlgorithm %q should be sha512", inv.DigestAlgorithm)
	}
	if err := ocfl.ValidateContentDirectory(inv.ContentDirectory); err != nil {
		r.AddFatal(E008, "%s", err)
	}

	vnums := inv.VNums()
	if err := vnums.Valid(); err != nil {
		switch {
		case strings.Contains(err.Error(), "missing version"):
			r.AddFatal(E010, "%s", err)
		case strings.Contains(err.Error(), "padding"):
			r.AddFatal(E011, "%s", err)
		default:
			r.AddFatal(E008, "%s", err)
		}
	} else {
		if vnums.Head() != inv.Head {
			r.AddFatal(E040, "head %s is not the highest version present", inv.Head)
		}
		if vnums[0].Padding() > 0 {
			r.AddWarn(W001, "version directory names are zero-padded")
		}
	}
	if inv.GetVersion(inv.Head) == nil {
		r.AddFatal(E040, "head version %s missing from versions", inv.Head)
	}

	for vn, ver := range inv.Versions {
		if ver == nil {
			continue
		}
		if _, err := time.Parse(time.RFC3339, ver.Created.Format(time.RFC3339)); err != nil {
			r.AddFatal(E008, "version %s created timestamp is not RFC3339", vn)
		}
		if ver.Message == "" || ver.User == nil {
			r.AddWarn(W007, "version %s should include message and user", vn)
		}
		if ver.User != nil && ver.User.Address != "" {
			if _, err := mail.ParseAddress(strings.TrimPrefix(ver.User.Address, "mailto:")); err != nil {
				if _, err := url.ParseRequestURI(ver.User.Address); err != nil {
					r.AddWarn(W009, "version %s user address should be a URI", vn)
				}
			}
		}
		if ver.State == nil {
			continue
		}
		var missing error
		ver.State.EachPath(func(lp, dig string) bool {
			if !inv.Manifest.DigestExists(dig) {
				missing = fmt.Errorf("version %s state digest %s (%s) not in manifest", vn, dig, lp)
				return false
			}
			return true
		})
		if missing != nil {
			r.AddFatal(E050, "%s", missing)
		}
	}

	for alg, fx := range inv.Fixity {
		fx.EachPath(func(p, _ string) bool {
			if d, ok := inv.Manifest.GetDigest(p); !ok || d == "" {
				r.AddFatal(E093, "fixity[%s] path %s not present in manifest", alg, p)
				return false
			}
			return true
		})
	}
	return r
}

// Deep fully validates a stored object at objectRoot: the NAMASTE
// declaration, the root inventory sidecar digest, every version directory's
// content against its manifest entries, and version-history consistency up
// to the head. concurrency bounds the file-rehashing fan-out; a
// non-positive value uses DefaultDigestConcurrency.
func Deep(ctx context.Context, d driver.Driver, objectRoot string, concurrency int) (*ocfl.Inventory, *Result) {
	r := &Result{}
	if concurrency <= 0 {
		concurrency = DefaultDigestConcurrency
	}

	decl, err := d.Download(ctx, path.Join(objectRoot, ocfl.NamasteObjectDeclaration))
	if err != nil {
		r.AddFatal(E007, "object declaration missing or unreadable: %s", err)
		return nil, r
	}
	if string(decl) != ocfl.NamasteObjectBody {
		r.AddFatal(E007, "object declaration content does not match %q", ocfl.NamasteObjectBody)
	}

	inv, rootSidecarAlg, err := loadAndVerifyInventory(ctx, d, objectRoot, r)
	if err != nil {
		return nil, r
	}
	if sr := Shallow(inv); !sr.Valid() {
		for _, f := range sr.Fatal() {
			r.AddFatal(f.Code, "%s", f.Message)
		}
	}

	validateExtensionsDir(ctx, d, objectRoot, r)

	var prev *ocfl.Inventory
	for _, vn := range inv.VNums() {
		cur := validateVersionDir(ctx, d, objectRoot, vn, inv, prev, rootSidecarAlg, concurrency, r)
		if cur != nil {
			prev = cur
		}
	}
	return inv, r
}

func loadAndVerifyInventory(ctx context.Context, d driver.Driver, objectRoot string, r *Result) (*ocfl.Inventory, string, error) {
	rootJSON, err := d.Download(ctx, path.Join(objectRoot, "inventory.json"))
	if err != nil {
		r.AddFatal(E063, "root inventory missing: %s", err)
		return nil, "", err
	}
	var probe struct {
		DigestAlgorithm string `json:"digestAlgorithm"`
	}
	_ = json.Unmarshal(rootJSON, &probe)
	if !digest.ContentDigestAlgorithms[probe.DigestAlgorithm] {
		r.AddFatal(E025, "root inventory declares illegal digestAlgorithm %q", probe.DigestAlgorithm)
		return nil, "", fmt.Errorf("illegal digest algorithm")
	}
	sidecarKey := path.Join(objectRoot, ocfl.SidecarName(probe.DigestAlgorithm))
	sidecar, err := d.Download(ctx, sidecarKey)
	if err != nil {
		r.AddFatal(E058, "root inventory sidecar missing: %s", err)
		return nil, "", err
	}
	inv, err := ocfl.DecodeInventory(rootJSON, sidecar)
	if err != nil {
		r.AddFatal(E060, "root inventory sidecar digest mismatch: %s", err)
		return nil, "", err
	}

	headDir := path.Join(objectRoot, inv.Head.String())
	headJSON, err := d.Download(ctx, path.Join(headDir, "inventory.json"))
	if err == nil {
		if string(headJSON) != string(rootJSON) {
			r.AddFatal(E064, "root inventory does not match head version %s inventory", inv.Head)
		}
	}
	return inv, probe.DigestAlgorithm, nil
}

func validateExtensionsDir(ctx context.Context, d driver.Driver, objectRoot string, r *Result) {
	entries, err := d.ListDirectory(ctx, path.Join(objectRoot, "extensions"))
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir {
			r.AddFatal(E067, "unexpected file in extensions directory: %s", e.Key)
		}
	}
}

// validateVersionDir recomputes digests for every file under vn's content
// directory, cross-checks them against the manifest, and (when prev is
// non-nil) checks that every logical path present as of vn still resolves
// to the same digest it had when first introduced.
func validateVersionDir(ctx context.Context, d driver.Driver, objectRoot string, vn ocfl.VersionNum, inv, prev *ocfl.Inventory, alg string, concurrency int, r *Result) *ocfl.Inventory {
	vDir := path.Join(objectRoot, vn.String())
	entries, err := d.ListDirectory(ctx, vDir)
	if err != nil {
		r.AddFatal(E008, "version directory %s unreadable: %s", vn, err)
		return nil
	}
	for _, e := range entries {
		base := path.Base(e.Key)
		if !e.IsDir && base != "inventory.json" && !strings.HasPrefix(base, "inventory.json.") {
			r.AddFatal(E015, "unexpected file in version directory %s: %s", vn, base)
		}
	}

	contentDir := inv.ContentDir()
	contentPrefix := path.Join(vDir, contentDir)
	files, err := d.List(ctx, contentPrefix)
	if err != nil {
		r.AddFatal(E023, "content directory for version %s unreadable: %s", vn, err)
		return nil
	}

	type job struct{ key, objectRel string }
	jobs := make([]job, 0, len(files))
	for _, f := range files {
		rel := strings.TrimPrefix(f.Key, objectRoot+"/")
		jobs = append(jobs, job{key: f.Key, objectRel: rel})
	}
	_ = workgroup.Process(concurrency, jobs, func(j job) error {
		dig, ok := inv.Manifest.GetDigest(j.objectRel)
		if !ok {
			r.AddFatal(E023, "file not referenced in manifest: %s", j.objectRel)
			return nil
		}
		content, err := d.Download(ctx, j.key)
		if err != nil {
			r.AddFatal(E092, "could not read %s: %s", j.objectRel, err)
			return nil
		}
		got := digest.New(alg)
		got.Write(content)
		if !strings.EqualFold(got.String(), dig) {
			r.AddFatal(E092, "content digest mismatch for %s", j.objectRel)
		}
		return nil
	})

	if ver := inv.GetVersion(vn); ver != nil {
		ver.State.EachPath(func(lp, dig string) bool {
			if paths := inv.Manifest.DigestPaths(dig); len(paths) == 0 {
				r.AddFatal(E092, "version %s state path %s has no manifest entry", vn, lp)
			}
			return true
		})
	}
	if prev != nil {
		if prevVer := prev.GetVersion(prev.Head); prevVer != nil {
			prevVer.State.EachPath(func(lp, prevDig string) bool {
				if curDig, ok := inv.GetVersion(vn).GetDigest(lp); ok && curDig != prevDig {
					r.AddFatal(E066, "version %s state for %s diverges from its introduction", vn, lp)
				}
				return true
			})
		}
	}

	snapshot := &ocfl.Inventory{
		ID:              inv.ID,
		Type:            inv.Type,
		DigestAlgorithm: inv.DigestAlgorithm,
		Head:            vn,
		Manifest:        inv.Manifest,
		Versions:        map[ocfl.VersionNum]*ocfl.Version{vn: inv.GetVersion(vn)},
	}
	return snapshot
}
