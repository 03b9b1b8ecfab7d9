// Package versionwriter implements the Version Writer: the atomic,
// rollback-capable write of a planned Inventory (from the Inventory
// Updater) to a storage driver, including the mutable-HEAD revision-marker
// allocation path described in spec.md section 4.4.
package versionwriter

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"

	"github.com/carlmjohnson/workgroup"
	"golang.org/x/sync/errgroup"

	"github.com/ocflkit/ocflcore"
	"github.com/ocflkit/ocflcore/driver"
)

// DefaultUploadConcurrency bounds how many content blobs are uploaded at
// once during a single commit.
const DefaultUploadConcurrency = 8

// SourceProvider resolves a digest staged by the Inventory Updater to the
// local filesystem path its bytes should be read from.
type SourceProvider interface {
	SourcePath(digest string) (string, bool)
}

// Writer writes planned Inventories to a storage driver. It holds no
// per-object state; every method takes the object's root path explicitly so
// a single Writer can serve every object in a repository.
type Writer struct {
	d                 driver.Driver
	uploadConcurrency int
	logger            *slog.Logger
}

// New returns a Writer over d. A nil logger disables logging.
func New(d driver.Driver, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	}
	return &Writer{d: d, uploadConcurrency: DefaultUploadConcurrency, logger: logger}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// WriteNewVersion commits inv as a new immutable version of the object
// rooted at objectRoot. stage supplies local source paths for newly-added
// digests. If this is the object's first version (inv.Head is v1 and prior
// is nil), the NAMASTE object declaration is written after the content
// uploads and before either inventory.
//
// On any failure after content uploads have begun, newly-uploaded blobs are
// deleted (best-effort) before the error is returned; if the root inventory
// had already been overwritten, it is restored from the previous version
// directory. Rollback errors are logged but never mask the original error.
func (w *Writer) WriteNewVersion(ctx context.Context, objectRoot string, prior *ocfl.Inventory, inv *ocfl.Inventory, sources SourceProvider) (err error) {
	logger := w.logger.With("object_root", objectRoot, "head", inv.Head.String())

	if prior != nil {
		if err := w.checkOptimisticConcurrency(ctx, objectRoot, prior); err != nil {
			return err
		}
	}
	versionDir := path.Join(objectRoot, inv.Head.String())
	if exists, err := w.dirNonEmpty(ctx, versionDir); err != nil {
		return ocfl.NewError(ocfl.IO, "versionwriter.WriteNewVersion", err)
	} else if exists {
		return ocfl.NewError(ocfl.ObjectOutOfSync, "versionwriter.WriteNewVersion",
			fmt.Errorf("version directory %q already exists", inv.Head))
	}

	uploaded, err := w.uploadNewContent(ctx, objectRoot, prior, inv, sources)
	if err != nil {
		w.rollback(ctx, objectRoot, prior, uploaded, logger)
		return err
	}

	if prior == nil {
		if err := w.writeDeclaration(ctx, objectRoot); err != nil {
			w.rollback(ctx, objectRoot, prior, uploaded, logger)
			return ocfl.NewError(ocfl.IO, "versionwriter.WriteNewVersion", err)
		}
	}

	if err := w.writeInventory(ctx, versionDir, inv); err != nil {
		w.rollback(ctx, objectRoot, prior, uploaded, logger)
		return err
	}
	if err := w.writeInventory(ctx, objectRoot, inv); err != nil {
		w.rollback(ctx, objectRoot, prior, uploaded, logger)
		return err
	}
	logger.DebugContext(ctx, "wrote new version")
	return nil
}

// AllocateRevision claims the mutable-HEAD revision marker for rev under
// objectRoot: a one-byte file at
// extensions/0005-mutable-head/revisions/r{n}. If a marker at or after rev
// already exists, the revision is ObjectOutOfSync (a concurrent writer won
// the race). When rev is the first revision of a new mutable HEAD, the
// current root sidecar is additionally snapshotted to
// extensions/0005-mutable-head/root-<sidecar-name> so the committer can
// later detect out-of-band root mutations.
func (w *Writer) AllocateRevision(ctx context.Context, objectRoot string, rev ocfl.RevisionNum, rootSidecarName string) error {
	revisionsDir := path.Join(objectRoot, ocfl.MutableHeadExtensionDir, "revisions")
	entries, err := w.d.ListDirectory(ctx, revisionsDir)
	if err != nil {
		return ocfl.NewError(ocfl.IO, "versionwriter.AllocateRevision", err)
	}
	for _, e := range entries {
		other, err := ocfl.ParseRevisionNum(path.Base(e.Key))
		if err != nil {
			continue
		}
		if other.Num() >= rev.Num() {
			return ocfl.NewError(ocfl.ObjectOutOfSync, "versionwriter.AllocateRevision",
				fmt.Errorf("revision marker %s already claimed", other))
		}
	}
	markerKey := path.Join(revisionsDir, rev.String())
	if err := w.d.UploadBytes(ctx, markerKey, []byte{0}, "application/octet-stream"); err != nil {
		return ocfl.NewError(ocfl.IO, "versionwriter.AllocateRevision", err)
	}
	if rev.Num() == 1 {
		rootKey := path.Join(objectRoot, rootSidecarName)
		snapshot, err := w.d.Download(ctx, rootKey)
		if err != nil {
			return ocfl.NewError(ocfl.IO, "versionwriter.AllocateRevision", err)
		}
		snapshotKey := path.Join(objectRoot, ocfl.MutableHeadExtensionDir, "root-"+path.Base(rootSidecarName))
		if err := w.d.UploadBytes(ctx, snapshotKey, snapshot, "text/plain"); err != nil {
			return ocfl.NewError(ocfl.IO, "versionwriter.AllocateRevision", err)
		}
	}
	return nil
}

// WriteMutableHeadRevision commits inv as the new state of the mutable-HEAD
// staging area (extensions/0005-mutable-head/head/...), without touching
// the object root or any version directory.
func (w *Writer) WriteMutableHeadRevision(ctx context.Context, objectRoot string, prior *ocfl.Inventory, inv *ocfl.Inventory, sources SourceProvider) error {
	uploaded, err := w.uploadNewContent(ctx, objectRoot, prior, inv, sources)
	if err != nil {
		w.d.SafeDeleteObjects(ctx, uploaded)
		return err
	}
	headDir := path.Join(objectRoot, ocfl.MutableHeadExtensionDir, "head")
	if err := w.writeInventory(ctx, headDir, inv); err != nil {
		w.d.SafeDeleteObjects(ctx, uploaded)
		return err
	}
	return nil
}

// CommitMutableHead promotes an active mutable-HEAD staging area into a new
// immutable version. relocations maps each of promoted's manifest content
// paths that used to live under extensions/0005-mutable-head/head/ to its
// final vN/contentDir/... location (see mutatehead.Relocations); these are
// moved server-side via the driver's CopyObject rather than uploaded from a
// local source, since the bytes already live in storage. rootSidecarName is
// the root inventory's current sidecar file name, checked against the
// snapshot taken when the mutable HEAD was first created to detect
// out-of-band root mutations. On success the mutable-HEAD extension
// directory is removed.
func (w *Writer) CommitMutableHead(ctx context.Context, objectRoot string, promoted *ocfl.Inventory, relocations map[string]string, rootSidecarName string) error {
	logger := w.logger.With("object_root", objectRoot, "head", promoted.Head.String())

	if err := w.checkMutableHeadSnapshot(ctx, objectRoot, rootSidecarName); err != nil {
		return err
	}
	versionDir := path.Join(objectRoot, promoted.Head.String())
	if exists, err := w.dirNonEmpty(ctx, versionDir); err != nil {
		return ocfl.NewError(ocfl.IO, "versionwriter.CommitMutableHead", err)
	} else if exists {
		return ocfl.NewError(ocfl.ObjectOutOfSync, "versionwriter.CommitMutableHead",
			fmt.Errorf("version directory %q already exists", promoted.Head))
	}

	relocated, err := w.relocateContent(ctx, objectRoot, relocations)
	if err != nil {
		w.rollbackRelocation(ctx, objectRoot, relocated, relocations, logger)
		return err
	}
	if err := w.writeInventory(ctx, versionDir, promoted); err != nil {
		w.rollbackRelocation(ctx, objectRoot, relocated, relocations, logger)
		return err
	}
	if err := w.writeInventory(ctx, objectRoot, promoted); err != nil {
		w.rollbackRelocation(ctx, objectRoot, relocated, relocations, logger)
		return err
	}
	if err := w.d.DeletePath(ctx, path.Join(objectRoot, ocfl.MutableHeadExtensionDir)); err != nil {
		logger.ErrorContext(ctx, "failed to purge mutable-HEAD extension directory after commit", "error", err)
	}
	logger.DebugContext(ctx, "promoted mutable HEAD")
	return nil
}

// checkMutableHeadSnapshot compares the object's current root sidecar
// against the copy snapshotted when the mutable HEAD was created, aborting
// with ObjectOutOfSync if the root inventory changed out from under it.
func (w *Writer) checkMutableHeadSnapshot(ctx context.Context, objectRoot, rootSidecarName string) error {
	snapshotKey := path.Join(objectRoot, ocfl.MutableHeadExtensionDir, "root-"+path.Base(rootSidecarName))
	snapshot, err := w.d.Download(ctx, snapshotKey)
	if err != nil {
		return ocfl.NewError(ocfl.IO, "versionwriter.checkMutableHeadSnapshot", err)
	}
	current, err := w.d.Download(ctx, path.Join(objectRoot, rootSidecarName))
	if err != nil {
		return ocfl.NewError(ocfl.IO, "versionwriter.checkMutableHeadSnapshot", err)
	}
	if string(snapshot) != string(current) {
		return ocfl.NewError(ocfl.ObjectOutOfSync, "versionwriter.checkMutableHeadSnapshot",
			fmt.Errorf("root inventory changed since mutable HEAD was created"))
	}
	return nil
}

// relocateContent server-side copies each relocations[src] -> dst pair
// (keys relative to objectRoot), fanning the transfers out across
// DefaultUploadConcurrency workers. It returns the destination keys moved
// so far, for rollback on a later failure.
func (w *Writer) relocateContent(ctx context.Context, objectRoot string, relocations map[string]string) ([]string, error) {
	type job struct{ src, dst string }
	jobs := make([]job, 0, len(relocations))
	for src, dst := range relocations {
		jobs = append(jobs, job{src: src, dst: dst})
	}
	var mu sync.Mutex
	var done []string
	err := workgroup.Process(w.uploadConcurrency, jobs, func(j job) error {
		srcKey, dstKey := path.Join(objectRoot, j.src), path.Join(objectRoot, j.dst)
		if err := w.d.CopyObject(ctx, srcKey, dstKey); err != nil {
			return ocfl.NewError(ocfl.IO, "versionwriter.relocateContent", err)
		}
		mu.Lock()
		done = append(done, j.dst)
		mu.Unlock()
		return nil
	})
	return done, err
}

// rollbackRelocation moves every already-relocated path in relocated back to
// its original location, best-effort.
func (w *Writer) rollbackRelocation(ctx context.Context, objectRoot string, relocated []string, relocations map[string]string, logger *slog.Logger) {
	moved := make(map[string]bool, len(relocated))
	for _, dst := range relocated {
		moved[dst] = true
	}
	for src, dst := range relocations {
		if !moved[dst] {
			continue
		}
		srcKey, dstKey := path.Join(objectRoot, src), path.Join(objectRoot, dst)
		if err := w.d.CopyObject(ctx, dstKey, srcKey); err != nil {
			logger.ErrorContext(ctx, "failed to restore relocated content during rollback", "path", dst, "error", err)
		}
	}
}

// checkOptimisticConcurrency re-reads the object's current root sidecar and
// compares it against prior.PreviousDigest(), aborting with
// ObjectOutOfSync on any mismatch.
func (w *Writer) checkOptimisticConcurrency(ctx context.Context, objectRoot string, prior *ocfl.Inventory) error {
	sidecarKey := path.Join(objectRoot, ocfl.SidecarName(prior.DigestAlgorithm))
	content, err := w.d.Download(ctx, sidecarKey)
	if driver.IsNotFound(err) {
		if prior.PreviousDigest() == "" {
			return nil
		}
		return ocfl.NewError(ocfl.ObjectOutOfSync, "versionwriter.checkOptimisticConcurrency",
			fmt.Errorf("root inventory sidecar disappeared"))
	}
	if err != nil {
		return ocfl.NewError(ocfl.IO, "versionwriter.checkOptimisticConcurrency", err)
	}
	current, err := ocfl.ParseSidecar(content)
	if err != nil {
		return ocfl.NewError(ocfl.CorruptObject, "versionwriter.checkOptimisticConcurrency", err)
	}
	if current != prior.PreviousDigest() {
		return ocfl.NewError(ocfl.ObjectOutOfSync, "versionwriter.checkOptimisticConcurrency",
			fmt.Errorf("root inventory digest changed: expected %s, found %s", prior.PreviousDigest(), current))
	}
	return nil
}

func (w *Writer) dirNonEmpty(ctx context.Context, dir string) (bool, error) {
	entries, err := w.d.ListDirectory(ctx, dir)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// uploadNewContent uploads every manifest entry in inv that prior did not
// already have (a fresh digest), fanning the transfers out across
// DefaultUploadConcurrency workers. It returns the keys it uploaded, for
// rollback on a later failure.
func (w *Writer) uploadNewContent(ctx context.Context, objectRoot string, prior *ocfl.Inventory, inv *ocfl.Inventory, sources SourceProvider) ([]string, error) {
	type job struct {
		digest string
		paths  []string
	}
	var jobs []job
	for _, dig := range inv.Manifest.AllDigests() {
		if prior != nil && prior.Manifest.DigestExists(dig) {
			continue
		}
		jobs = append(jobs, job{digest: dig, paths: inv.Manifest.DigestPaths(dig)})
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	var mu sync.Mutex
	var uploaded []string
	err := workgroup.Process(w.uploadConcurrency, jobs, func(j job) error {
		src, err := resolveSource(sources, j.digest)
		if err != nil {
			return ocfl.NewError(ocfl.Input, "versionwriter.uploadNewContent", err)
		}
		for _, p := range j.paths {
			dstKey := path.Join(objectRoot, p)
			if err := w.d.Upload(ctx, src, dstKey, "", "application/octet-stream"); err != nil {
				return ocfl.NewError(ocfl.IO, "versionwriter.uploadNewContent", err)
			}
			mu.Lock()
			uploaded = append(uploaded, dstKey)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return uploaded, err
	}
	return uploaded, nil
}

func resolveSource(provider SourceProvider, dig string) (string, error) {
	if provider == nil {
		return "", fmt.Errorf("no content source for digest %s", dig)
	}
	p, ok := provider.SourcePath(dig)
	if !ok {
		return "", fmt.Errorf("no content source for digest %s", dig)
	}
	return p, nil
}

func (w *Writer) writeInventory(ctx context.Context, dir string, inv *ocfl.Inventory) error {
	jsonBytes, digestHex, sidecar, err := ocfl.EncodeInventory(inv, inv.DigestAlgorithm)
	if err != nil {
		return ocfl.NewError(ocfl.IO, "versionwriter.writeInventory", err)
	}
	if err := w.d.UploadBytes(ctx, path.Join(dir, "inventory.json"), jsonBytes, "application/json"); err != nil {
		return ocfl.NewError(ocfl.IO, "versionwriter.writeInventory", err)
	}
	sidecarKey := path.Join(dir, ocfl.SidecarName(inv.DigestAlgorithm))
	if err := w.d.UploadBytes(ctx, sidecarKey, sidecar, "text/plain"); err != nil {
		return ocfl.NewError(ocfl.IO, "versionwriter.writeInventory", err)
	}
	inv.SetPreviousDigest(digestHex)
	return nil
}

func (w *Writer) writeDeclaration(ctx context.Context, objectRoot string) error {
	return w.d.UploadBytes(ctx, path.Join(objectRoot, ocfl.NamasteObjectDeclaration), []byte(ocfl.NamasteObjectBody), "text/plain")
}

// rollback deletes newly-uploaded content blobs and, if the root inventory
// may already have been overwritten, restores it from the previous version
// directory. Rollback errors are logged but never returned.
func (w *Writer) rollback(ctx context.Context, objectRoot string, prior *ocfl.Inventory, uploaded []string, logger *slog.Logger) {
	if len(uploaded) > 0 {
		w.d.SafeDeleteObjects(ctx, uploaded)
	}
	if prior == nil {
		return
	}
	grp, gctx := errgroup.WithContext(ctx)
	srcDir := path.Join(objectRoot, prior.Head.String())
	for _, name := range []string{"inventory.json", ocfl.SidecarName(prior.DigestAlgorithm)} {
		name := name
		grp.Go(func() error {
			content, err := w.d.Download(gctx, path.Join(srcDir, name))
			if err != nil {
				return err
			}
			return w.d.UploadBytes(gctx, path.Join(objectRoot, name), content, "application/json")
		})
	}
	if err := grp.Wait(); err != nil {
		logger.ErrorContext(ctx, "rollback failed to restore root inventory", "error", err)
	}
}
