package repository

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ocflkit/ocflcore"
	"github.com/ocflkit/ocflcore/digest"
	"github.com/ocflkit/ocflcore/updater"
	"github.com/ocflkit/ocflcore/validate"
)

// FileMutation stages one logical path's content. Digest is computed from
// SourcePath when empty. Fixity records caller-asserted digests under
// additional algorithms, checked against SourcePath's content at staging
// time.
type FileMutation struct {
	LogicalPath string
	SourcePath  string
	Digest      string
	Overwrite   bool
	Fixity      map[string]string
}

// RenameMutation moves a logical path within the version being planned.
type RenameMutation struct {
	Src, Dst  string
	Overwrite bool
}

// ReinstateMutation restores a historical version's logical path into the
// version being planned.
type ReinstateMutation struct {
	SourceVersion     ocfl.VersionNum
	SourceLogicalPath string
	DestLogicalPath   string
	Overwrite         bool
}

// Mutation is one caller-supplied set of changes for a new version (or
// mutable-HEAD revision): files to add, remove, rename, or reinstate from
// history, plus the version's provenance.
type Mutation struct {
	Add       []FileMutation
	Remove    []string
	Rename    []RenameMutation
	Reinstate []ReinstateMutation
	Message   string
	User      *ocfl.User
}

// applyMutation plans m against stage, hashing any FileMutation without a
// precomputed Digest and checking each asserted Fixity digest against the
// SourcePath content.
func applyMutation(stage *updater.Stage, alg string, m Mutation) error {
	for _, f := range m.Add {
		dig := f.Digest
		if dig == "" {
			computed, err := hashFile(alg, f.SourcePath)
			if err != nil {
				return ocfl.NewError(ocfl.IO, "repository.applyMutation", err)
			}
			dig = computed
		}
		if _, err := stage.AddFile(dig, f.SourcePath, f.LogicalPath, f.Overwrite); err != nil {
			return err
		}
		for fixAlg, expected := range f.Fixity {
			if fixAlg == alg {
				continue
			}
			actual, err := hashFile(fixAlg, f.SourcePath)
			if err != nil {
				return ocfl.NewError(ocfl.FixityCheck, "repository.applyMutation", err)
			}
			if !strings.EqualFold(actual, expected) {
				return ocfl.NewError(ocfl.FixityCheck, "repository.applyMutation",
					fmt.Errorf("%s: asserted %s digest %s does not match computed %s", f.LogicalPath, fixAlg, expected, actual))
			}
			if err := stage.AddFileFixity(f.LogicalPath, fixAlg, expected); err != nil {
				return err
			}
		}
	}
	for _, lp := range m.Remove {
		if err := stage.RemoveFile(lp); err != nil {
			return err
		}
	}
	for _, rn := range m.Rename {
		if err := stage.RenameFile(rn.Src, rn.Dst, rn.Overwrite); err != nil {
			return err
		}
	}
	for _, re := range m.Reinstate {
		if err := stage.ReinstateFile(re.SourceVersion, re.SourceLogicalPath, re.DestLogicalPath, re.Overwrite); err != nil {
			return err
		}
	}
	stage.SetMessage(m.Message)
	stage.SetUser(m.User)
	return nil
}

func hashFile(alg, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	d := digest.New(alg)
	if d == nil {
		return "", fmt.Errorf("unknown digest algorithm %q", alg)
	}
	if _, err := io.Copy(d, f); err != nil {
		return "", err
	}
	return d.String(), nil
}

// validateBeforeCommit runs the shallow structural pass spec.md requires on
// every commit, refusing to write an inventory that fails it.
func validateBeforeCommit(op string, inv *ocfl.Inventory) error {
	result := validate.Shallow(inv)
	if !result.Valid() {
		return ocfl.NewError(ocfl.CorruptObject, op, result.Err())
	}
	return nil
}

// PutObject creates a brand-new object at id from m, failing if the id is
// already in use.
func (r *Repository) PutObject(ctx context.Context, id string, m Mutation) (*ocfl.Inventory, error) {
	if err := r.checkOpen("repository.PutObject"); err != nil {
		return nil, err
	}
	release, err := r.lockObject(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	root, err := r.resolveRoot(id)
	if err != nil {
		return nil, err
	}
	if exists, err := r.objectExists(ctx, root); err != nil {
		return nil, err
	} else if exists {
		return nil, ocfl.NewError(ocfl.ObjectOutOfSync, "repository.PutObject", fmt.Errorf("object %q already exists", id))
	}

	stage, err := updater.New(id, r.digestAlgorithm)
	if err != nil {
		return nil, err
	}
	if err := applyMutation(stage, r.digestAlgorithm, m); err != nil {
		return nil, err
	}
	inv, err := stage.FinalizeUpdate(time.Now())
	if err != nil {
		return nil, err
	}
	inv.SetObjectRootPath(root)
	if err := validateBeforeCommit("repository.PutObject", inv); err != nil {
		return nil, err
	}
	if err := r.writer.WriteNewVersion(ctx, root, nil, inv, stage); err != nil {
		return nil, err
	}
	r.cache.Put(id, inv)
	return inv, nil
}

// UpdateObject extends id's current HEAD with a new immutable version
// planned from m. mode must be updater.ModeInsert or updater.ModeUpdate.
// It fails if a mutable HEAD is currently active (stageChanges /
// commitStagedChanges own that path instead).
func (r *Repository) UpdateObject(ctx context.Context, id string, mode updater.Mode, m Mutation) (*ocfl.Inventory, error) {
	if err := r.checkOpen("repository.UpdateObject"); err != nil {
		return nil, err
	}
	release, err := r.lockObject(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	prior, err := r.loadInventory(ctx, id)
	if err != nil {
		return nil, err
	}
	if prior.MutableHead() {
		return nil, ocfl.NewError(ocfl.State, "repository.UpdateObject",
			fmt.Errorf("object %q has an active mutable HEAD; commit or purge it first", id))
	}

	stage, err := updater.Next(prior, mode)
	if err != nil {
		return nil, err
	}
	if err := applyMutation(stage, r.digestAlgorithm, m); err != nil {
		return nil, err
	}
	inv, err := stage.FinalizeUpdate(time.Now())
	if err != nil {
		return nil, err
	}
	if err := validateBeforeCommit("repository.UpdateObject", inv); err != nil {
		return nil, err
	}
	if err := r.writer.WriteNewVersion(ctx, prior.ObjectRootPath(), prior, inv, stage); err != nil {
		return nil, err
	}
	r.cache.Remove(id)
	inv.SetObjectRootPath(prior.ObjectRootPath())
	r.cache.Put(id, inv)
	return inv, nil
}

// ReplicateVersionAsHead copies version v's manifest entries (not its
// bytes — the same content paths are reused, since the digests already
// live in the manifest) forward as a brand-new HEAD version, without
// altering any file.
func (r *Repository) ReplicateVersionAsHead(ctx context.Context, id string, v ocfl.VersionNum, message string, user *ocfl.User) (*ocfl.Inventory, error) {
	if err := r.checkOpen("repository.ReplicateVersionAsHead"); err != nil {
		return nil, err
	}
	release, err := r.lockObject(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	prior, err := r.loadInventory(ctx, id)
	if err != nil {
		return nil, err
	}
	if prior.MutableHead() {
		return nil, ocfl.NewError(ocfl.State, "repository.ReplicateVersionAsHead",
			fmt.Errorf("object %q has an active mutable HEAD; commit or purge it first", id))
	}
	source := prior.GetVersion(v)
	if source == nil {
		return nil, ocfl.NewError(ocfl.NotFound, "repository.ReplicateVersionAsHead", fmt.Errorf("version %s not found", v))
	}

	stage, err := updater.Next(prior, updater.ModeInsert)
	if err != nil {
		return nil, err
	}
	var addErr error
	source.State.EachPath(func(lp, dig string) bool {
		if _, err := stage.AddFile(dig, "", lp, false); err != nil {
			addErr = err
			return false
		}
		return true
	})
	if addErr != nil {
		return nil, addErr
	}
	stage.SetMessage(message)
	stage.SetUser(user)

	inv, err := stage.FinalizeUpdate(time.Now())
	if err != nil {
		return nil, err
	}
	if err := validateBeforeCommit("repository.ReplicateVersionAsHead", inv); err != nil {
		return nil, err
	}
	if err := r.writer.WriteNewVersion(ctx, prior.ObjectRootPath(), prior, inv, stage); err != nil {
		return nil, err
	}
	r.cache.Remove(id)
	inv.SetObjectRootPath(prior.ObjectRootPath())
	r.cache.Put(id, inv)
	return inv, nil
}

// GetObject materializes id's HEAD version to destDir, verifying fixity on
// every file as it is downloaded.
func (r *Repository) GetObject(ctx context.Context, id, destDir string) error {
	return r.ReconstructObjectVersion(ctx, id, ocfl.HeadVersion, destDir)
}

// ReconstructObjectVersion materializes id's state as of v (the zero value
// means HEAD) to destDir, verifying fixity on every file as it is
// downloaded.
func (r *Repository) ReconstructObjectVersion(ctx context.Context, id string, v ocfl.VersionNum, destDir string) error {
	if err := r.checkOpen("repository.ReconstructObjectVersion"); err != nil {
		return err
	}
	inv, err := r.loadInventory(ctx, id)
	if err != nil {
		return err
	}
	ver := inv.GetVersion(v)
	if ver == nil {
		return ocfl.NewError(ocfl.NotFound, "repository.ReconstructObjectVersion", fmt.Errorf("version %s not found", v))
	}

	var outerErr error
	ver.State.EachPath(func(lp, dig string) bool {
		contentPath := inv.ContentPath(dig)
		if contentPath == "" {
			outerErr = ocfl.NewError(ocfl.CorruptObject, "repository.ReconstructObjectVersion",
				fmt.Errorf("no content path for digest %s (logical path %q)", dig, lp))
			return false
		}
		if err := r.downloadVerified(ctx, path.Join(inv.ObjectRootPath(), contentPath), inv.DigestAlgorithm, dig, filepath.Join(destDir, filepath.FromSlash(lp))); err != nil {
			outerErr = err
			return false
		}
		return true
	})
	return outerErr
}

func (r *Repository) downloadVerified(ctx context.Context, key, alg, expectedDigest, localPath string) error {
	rc, err := r.d.DownloadStream(ctx, key)
	if err != nil {
		return ocfl.NewError(ocfl.IO, "repository.downloadVerified", err)
	}
	defer rc.Close()
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return ocfl.NewError(ocfl.IO, "repository.downloadVerified", err)
	}
	out, err := os.OpenFile(localPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return ocfl.NewError(ocfl.IO, "repository.downloadVerified", err)
	}
	defer out.Close()

	d := digest.New(alg)
	if _, err := io.Copy(io.MultiWriter(out, d), rc); err != nil {
		return ocfl.NewError(ocfl.IO, "repository.downloadVerified", err)
	}
	if d.String() != expectedDigest {
		return ocfl.NewError(ocfl.FixityCheck, "repository.downloadVerified",
			fmt.Errorf("content at %s: expected %s got %s", key, expectedDigest, d.String()))
	}
	return nil
}

// verifyingReadCloser wraps a content stream with a running hash, checked
// against expected only when the stream is closed (spec.md's "streaming
// fixity" design note: a mismatch is raised retroactively at Close).
type verifyingReadCloser struct {
	rc       io.ReadCloser
	d        digest.Digester
	expected string
}

func (v *verifyingReadCloser) Read(p []byte) (int, error) {
	n, err := v.rc.Read(p)
	if n > 0 {
		v.d.Write(p[:n])
	}
	return n, err
}

func (v *verifyingReadCloser) Close() error {
	if err := v.rc.Close(); err != nil {
		return err
	}
	if v.d.String() != v.expected {
		return ocfl.NewError(ocfl.FixityCheck, "repository.GetObjectStreams",
			fmt.Errorf("expected digest %s, got %s", v.expected, v.d.String()))
	}
	return nil
}

// GetObjectStreams returns, for id's HEAD version, a lazy retriever per
// logical path: opening the stream begins the download; fixity is checked
// when the caller closes it.
func (r *Repository) GetObjectStreams(ctx context.Context, id string) (map[string]func() (io.ReadCloser, error), error) {
	if err := r.checkOpen("repository.GetObjectStreams"); err != nil {
		return nil, err
	}
	inv, err := r.loadInventory(ctx, id)
	if err != nil {
		return nil, err
	}
	ver := inv.GetVersion(inv.Head)
	out := map[string]func() (io.ReadCloser, error){}
	var outerErr error
	ver.State.EachPath(func(lp, dig string) bool {
		contentPath := inv.ContentPath(dig)
		if contentPath == "" {
			outerErr = ocfl.NewError(ocfl.CorruptObject, "repository.GetObjectStreams",
				fmt.Errorf("no content path for digest %s (logical path %q)", dig, lp))
			return false
		}
		key := path.Join(inv.ObjectRootPath(), contentPath)
		digAlg, expected := inv.DigestAlgorithm, dig
		out[lp] = func() (io.ReadCloser, error) {
			rc, err := r.d.DownloadStream(ctx, key)
			if err != nil {
				return nil, ocfl.NewError(ocfl.IO, "repository.GetObjectStreams", err)
			}
			return &verifyingReadCloser{rc: rc, d: digest.New(digAlg), expected: expected}, nil
		}
		return true
	})
	if outerErr != nil {
		return nil, outerErr
	}
	return out, nil
}

// ObjectDescription summarizes an object for describeObject.
type ObjectDescription struct {
	ID       string
	Head     ocfl.VersionNum
	Versions []ocfl.VersionNum
}

// DescribeObject returns id's head version number and the full list of
// version numbers present.
func (r *Repository) DescribeObject(ctx context.Context, id string) (*ObjectDescription, error) {
	if err := r.checkOpen("repository.DescribeObject"); err != nil {
		return nil, err
	}
	inv, err := r.loadInventory(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ObjectDescription{ID: inv.ID, Head: inv.Head, Versions: inv.VNums()}, nil
}

// DescribeVersion returns the Version recorded for v (the zero value means
// HEAD).
func (r *Repository) DescribeVersion(ctx context.Context, id string, v ocfl.VersionNum) (*ocfl.Version, error) {
	if err := r.checkOpen("repository.DescribeVersion"); err != nil {
		return nil, err
	}
	inv, err := r.loadInventory(ctx, id)
	if err != nil {
		return nil, err
	}
	ver := inv.GetVersion(v)
	if ver == nil {
		return nil, ocfl.NewError(ocfl.NotFound, "repository.DescribeVersion", fmt.Errorf("version %s not found", v))
	}
	return ver, nil
}

// ChangeKind distinguishes the two event kinds FileChangeHistory emits.
type ChangeKind int

const (
	ChangeUpdate ChangeKind = iota
	ChangeRemove
)

func (k ChangeKind) String() string {
	if k == ChangeRemove {
		return "REMOVE"
	}
	return "UPDATE"
}

// ChangeEvent is one entry of a logical path's change history.
type ChangeEvent struct {
	Version     ocfl.VersionNum
	Kind        ChangeKind
	ContentPath string // empty for ChangeRemove
}

// FileChangeHistory walks id's versions oldest-to-newest, emitting an
// UPDATE event for logicalPath each time its (digest, content path) pair
// first appears or changes, and a REMOVE event each time it disappears.
// Reinstating a path whose digest was seen before yields an UPDATE whose
// ContentPath is the original content path the manifest already recorded
// for that digest (content identity is preserved across reinstatement).
func (r *Repository) FileChangeHistory(ctx context.Context, id, logicalPath string) ([]ChangeEvent, error) {
	if err := r.checkOpen("repository.FileChangeHistory"); err != nil {
		return nil, err
	}
	inv, err := r.loadInventory(ctx, id)
	if err != nil {
		return nil, err
	}
	var events []ChangeEvent
	present := false
	var lastDigest string
	for _, vn := range inv.VNums() {
		ver := inv.GetVersion(vn)
		dig, ok := ver.GetDigest(logicalPath)
		switch {
		case ok && (!present || dig != lastDigest):
			events = append(events, ChangeEvent{Version: vn, Kind: ChangeUpdate, ContentPath: inv.ContentPath(dig)})
			present, lastDigest = true, dig
		case !ok && present:
			events = append(events, ChangeEvent{Version: vn, Kind: ChangeRemove})
			present = false
		}
	}
	return events, nil
}

// ExportObject copies every file under id's object root to destDir,
// preserving the on-disk layout exactly.
func (r *Repository) ExportObject(ctx context.Context, id, destDir string) error {
	if err := r.checkOpen("repository.ExportObject"); err != nil {
		return err
	}
	root, err := r.resolveRoot(id)
	if err != nil {
		return err
	}
	if exists, err := r.objectExists(ctx, root); err != nil {
		return err
	} else if !exists {
		return ocfl.NewError(ocfl.NotFound, "repository.ExportObject", fmt.Errorf("object %q not found", id))
	}
	keys, err := r.d.List(ctx, root)
	if err != nil {
		return ocfl.NewError(ocfl.IO, "repository.ExportObject", err)
	}
	for _, k := range keys {
		rel, err := filepath.Rel(filepath.FromSlash(root), filepath.FromSlash(k.Key))
		if err != nil {
			return ocfl.NewError(ocfl.IO, "repository.ExportObject", err)
		}
		if err := r.d.DownloadToPath(ctx, k.Key, filepath.Join(destDir, rel)); err != nil {
			return ocfl.NewError(ocfl.IO, "repository.ExportObject", err)
		}
	}
	return nil
}

// ExportVersion materializes id's logical state as of v to destDir; unlike
// ExportObject (which copies the raw on-disk layout), this reconstructs the
// caller-visible file tree, verifying fixity as it downloads.
func (r *Repository) ExportVersion(ctx context.Context, id string, v ocfl.VersionNum, destDir string) error {
	return r.ReconstructObjectVersion(ctx, id, v, destDir)
}

// ImportObject uploads every file under srcLocalDir to a new object root
// for id and deep-validates the result, refusing to leave a corrupt object
// behind.
func (r *Repository) ImportObject(ctx context.Context, srcLocalDir, id string) error {
	if err := r.checkOpen("repository.ImportObject"); err != nil {
		return err
	}
	release, err := r.lockObject(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	root, err := r.resolveRoot(id)
	if err != nil {
		return err
	}
	if exists, err := r.objectExists(ctx, root); err != nil {
		return err
	} else if exists {
		return ocfl.NewError(ocfl.ObjectOutOfSync, "repository.ImportObject", fmt.Errorf("object %q already exists", id))
	}

	walkErr := filepath.WalkDir(srcLocalDir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcLocalDir, p)
		if err != nil {
			return err
		}
		return r.d.Upload(ctx, p, path.Join(root, filepath.ToSlash(rel)), "", "application/octet-stream")
	})
	if walkErr != nil {
		return ocfl.NewError(ocfl.IO, "repository.ImportObject", walkErr)
	}

	_, result := validate.Deep(ctx, r.d, root, 0)
	if !result.Valid() {
		_ = r.d.DeletePath(ctx, root)
		return ocfl.NewError(ocfl.CorruptObject, "repository.ImportObject", result.Err())
	}
	r.cache.Remove(id)
	return nil
}

// ImportVersion uploads srcLocalDir's content into an already-existing
// object's next version directory (srcLocalDir must hold a complete
// vN/inventory.json, its sidecar, and content tree for the version being
// restored) and promotes it to the object root when it is the new head,
// deep-validating the whole object before committing it as the root
// inventory.
func (r *Repository) ImportVersion(ctx context.Context, id string, v ocfl.VersionNum, srcLocalDir string) error {
	if err := r.checkOpen("repository.ImportVersion"); err != nil {
		return err
	}
	release, err := r.lockObject(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	root, err := r.resolveRoot(id)
	if err != nil {
		return err
	}
	if exists, err := r.objectExists(ctx, root); err != nil {
		return err
	} else if !exists {
		return ocfl.NewError(ocfl.NotFound, "repository.ImportVersion", fmt.Errorf("object %q not found", id))
	}

	versionDir := path.Join(root, v.String())
	walkErr := filepath.WalkDir(srcLocalDir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcLocalDir, p)
		if err != nil {
			return err
		}
		return r.d.Upload(ctx, p, path.Join(versionDir, filepath.ToSlash(rel)), "", "application/octet-stream")
	})
	if walkErr != nil {
		return ocfl.NewError(ocfl.IO, "repository.ImportVersion", walkErr)
	}

	jsonBytes, err := r.d.Download(ctx, path.Join(versionDir, "inventory.json"))
	if err != nil {
		return ocfl.NewError(ocfl.IO, "repository.ImportVersion", err)
	}
	alg, err := probeDigestAlgorithm(jsonBytes)
	if err != nil {
		return ocfl.NewError(ocfl.CorruptObject, "repository.ImportVersion", err)
	}
	sidecarName := ocfl.SidecarName(alg)
	sidecar, err := r.d.Download(ctx, path.Join(versionDir, sidecarName))
	if err != nil {
		return ocfl.NewError(ocfl.IO, "repository.ImportVersion", err)
	}
	imported, err := ocfl.DecodeInventory(jsonBytes, sidecar)
	if err != nil {
		return err
	}
	if imported.Head != v {
		return ocfl.NewError(ocfl.CorruptObject, "repository.ImportVersion",
			fmt.Errorf("imported inventory head %s does not match target version %s", imported.Head, v))
	}

	if err := r.d.UploadBytes(ctx, path.Join(root, "inventory.json"), jsonBytes, "application/json"); err != nil {
		return ocfl.NewError(ocfl.IO, "repository.ImportVersion", err)
	}
	if err := r.d.UploadBytes(ctx, path.Join(root, sidecarName), sidecar, "text/plain"); err != nil {
		return ocfl.NewError(ocfl.IO, "repository.ImportVersion", err)
	}

	_, result := validate.Deep(ctx, r.d, root, 0)
	if !result.Valid() {
		return ocfl.NewError(ocfl.CorruptObject, "repository.ImportVersion", result.Err())
	}
	r.cache.Remove(id)
	return nil
}
