// Package repository implements the Object Lifecycle Orchestrator: the
// glue layer that binds the inventory model, Inventory Updater, Version
// Writer, Mutable-Head Committer, Validator, Storage Layout Extension,
// per-object locking, and the inventory cache into the operations a caller
// needs to create, read, update, validate, export, import, roll back, and
// delete OCFL objects.
//
// It is a separate package from the root ocfl package (rather than living
// there, as a flatter layout might suggest) because every package it
// depends on — updater, versionwriter, layout, lock, ocflcache, validate,
// mutatehead — already imports ocfl; a Repository type defined in ocfl
// itself that imported any of them back would form an import cycle. This
// mirrors the teacher's own split between its root package and ocflv1.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ocflkit/ocflcore"
	"github.com/ocflkit/ocflcore/digest"
	"github.com/ocflkit/ocflcore/driver"
	"github.com/ocflkit/ocflcore/layout"
	"github.com/ocflkit/ocflcore/lock"
	"github.com/ocflkit/ocflcore/ocflcache"
	"github.com/ocflkit/ocflcore/validate"
	"github.com/ocflkit/ocflcore/versionwriter"
)

// Repository is an open OCFL storage root: a driver, a resolved storage
// layout, per-object locking, an inventory cache, and a version writer.
type Repository struct {
	d        driver.Driver
	layout   layout.Immutable
	locks    lock.Provider
	cache    *ocflcache.Cache
	writer   *versionwriter.Writer
	logger   *slog.Logger
	digestAlgorithm string

	mu     sync.RWMutex
	closed bool
}

// Option configures a Repository at Open time.
type Option func(*options)

type options struct {
	locks           lock.Provider
	cacheSize       int
	logger          *slog.Logger
	lockTimeout     time.Duration
	digestAlgorithm string
}

// WithLockProvider overrides the default in-process Locker, e.g. with a
// database-backed cross-process lock.
func WithLockProvider(p lock.Provider) Option { return func(o *options) { o.locks = p } }

// WithCacheSize overrides ocflcache.DefaultSize.
func WithCacheSize(n int) Option { return func(o *options) { o.cacheSize = n } }

// WithLogger sets the structured logger used for commit and rollback
// diagnostics. A nil logger (the default) discards everything.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithLockTimeout overrides lock.DefaultWaitTimeout.
func WithLockTimeout(d time.Duration) Option { return func(o *options) { o.lockTimeout = d } }

// WithDigestAlgorithm sets the content digest algorithm new objects are
// created with (default sha512, per spec.md's recommendation).
func WithDigestAlgorithm(alg string) Option { return func(o *options) { o.digestAlgorithm = alg } }

// Open opens the repository rooted at d. If a storage layout configuration
// is already persisted there, it is loaded and, when cfg.Name is non-empty,
// checked against cfg; a mismatch fails with a State error. If none is
// persisted yet, cfg is built and stored as the repository's layout; cfg
// must then be non-empty.
func Open(ctx context.Context, d driver.Driver, cfg layout.Config, opts ...Option) (*Repository, error) {
	o := &options{
		cacheSize:       ocflcache.DefaultSize,
		lockTimeout:     lock.DefaultWaitTimeout,
		digestAlgorithm: digest.SHA512,
	}
	for _, opt := range opts {
		opt(o)
	}

	lay, existingCfg, err := layout.Load(ctx, d)
	switch {
	case err == nil:
		im := layout.NewImmutable(lay, existingCfg)
		if cfg.Name != "" {
			if checkErr := im.CheckMatches(cfg); checkErr != nil {
				return nil, checkErr
			}
		}
		return newRepository(d, im, o)
	case isKind(err, ocfl.NotFound):
		if cfg.Name == "" {
			return nil, ocfl.NewError(ocfl.Input, "repository.Open", fmt.Errorf("no layout persisted yet and none requested"))
		}
		built, buildErr := layout.Build(cfg)
		if buildErr != nil {
			return nil, buildErr
		}
		if storeErr := layout.Store(ctx, d, cfg); storeErr != nil {
			return nil, storeErr
		}
		return newRepository(d, layout.NewImmutable(built, cfg), o)
	default:
		return nil, err
	}
}

func isKind(err error, kind ocfl.Kind) bool {
	var oerr *ocfl.Error
	return errors.As(err, &oerr) && oerr.Kind == kind
}

func newRepository(d driver.Driver, lay layout.Immutable, o *options) (*Repository, error) {
	locks := o.locks
	if locks == nil {
		locks = lock.NewLocker(o.lockTimeout)
	}
	cache, err := ocflcache.New(o.cacheSize)
	if err != nil {
		return nil, err
	}
	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	}
	return &Repository{
		d:               d,
		layout:          lay,
		locks:           locks,
		cache:           cache,
		writer:          versionwriter.New(d, logger),
		logger:          logger,
		digestAlgorithm: o.digestAlgorithm,
	}, nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// LayoutName returns the repository's storage layout name.
func (r *Repository) LayoutName() string { return r.layout.Name() }

func (r *Repository) checkOpen(op string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ocfl.NewError(ocfl.State, op, fmt.Errorf("repository is closed"))
	}
	return nil
}

// Close tears down the repository's in-memory state (inventory cache).
// After Close, every operation fails with a State error.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.cache.Purge()
	return nil
}

// InvalidateCache evicts id's cached inventory, or every cached inventory
// when id is empty.
func (r *Repository) InvalidateCache(id string) {
	if id == "" {
		r.cache.Purge()
		return
	}
	r.cache.Remove(id)
}

func (r *Repository) resolveRoot(id string) (string, error) {
	p, err := r.layout.Resolve(id)
	if err != nil {
		return "", ocfl.NewError(ocfl.PathConstraint, "repository.resolveRoot", err)
	}
	return p, nil
}

func (r *Repository) lockObject(ctx context.Context, id string) (func(), error) {
	return r.locks.Acquire(ctx, id)
}

// ContainsObject reports whether an object declaration exists at id's
// resolved root.
func (r *Repository) ContainsObject(ctx context.Context, id string) (bool, error) {
	if err := r.checkOpen("repository.ContainsObject"); err != nil {
		return false, err
	}
	root, err := r.resolveRoot(id)
	if err != nil {
		return false, err
	}
	return r.objectExists(ctx, root)
}

func (r *Repository) objectExists(ctx context.Context, root string) (bool, error) {
	_, err := r.d.Head(ctx, path.Join(root, ocfl.NamasteObjectDeclaration))
	if err != nil {
		if driver.IsNotFound(err) {
			return false, nil
		}
		return false, ocfl.NewError(ocfl.IO, "repository.objectExists", err)
	}
	return true, nil
}

// loadInventory resolves id's object root, verifies the NAMASTE
// declaration, downloads and fixity-verifies either the active
// mutable-HEAD inventory or the root inventory (preferring the mutable
// HEAD when present), checks the id matches, and caches the result.
func (r *Repository) loadInventory(ctx context.Context, id string) (*ocfl.Inventory, error) {
	if err := r.checkOpen("repository.loadInventory"); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ocfl.NewError(ocfl.Input, "repository.loadInventory", fmt.Errorf("object id is empty"))
	}
	if cached, ok := r.cache.Get(id); ok {
		return cached, nil
	}
	root, err := r.resolveRoot(id)
	if err != nil {
		return nil, err
	}
	exists, err := r.objectExists(ctx, root)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ocfl.NewError(ocfl.NotFound, "repository.loadInventory", fmt.Errorf("object %q not found", id))
	}

	inv, rev, err := r.readMutableHeadInventory(ctx, root)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		inv, err = r.readRootInventory(ctx, root)
		if err != nil {
			return nil, err
		}
	} else {
		inv.SetMutableHead(true, rev)
	}
	if inv.ID != id {
		return nil, ocfl.NewError(ocfl.CorruptObject, "repository.loadInventory",
			fmt.Errorf("object at %q declares id %q, expected %q", root, inv.ID, id))
	}
	inv.SetObjectRootPath(root)
	r.cache.Put(id, inv)
	return inv, nil
}

func (r *Repository) readRootInventory(ctx context.Context, root string) (*ocfl.Inventory, error) {
	jsonBytes, err := r.d.Download(ctx, path.Join(root, "inventory.json"))
	if err != nil {
		return nil, ocfl.NewError(ocfl.CorruptObject, "repository.readRootInventory", err)
	}
	alg, err := probeDigestAlgorithm(jsonBytes)
	if err != nil {
		return nil, ocfl.NewError(ocfl.CorruptObject, "repository.readRootInventory", err)
	}
	sidecar, err := r.d.Download(ctx, path.Join(root, ocfl.SidecarName(alg)))
	if err != nil {
		return nil, ocfl.NewError(ocfl.CorruptObject, "repository.readRootInventory", err)
	}
	return ocfl.DecodeInventory(jsonBytes, sidecar)
}

// readMutableHeadInventory returns (nil, zero, nil) when no mutable HEAD is
// active, rather than an error: callers fall back to the root inventory.
func (r *Repository) readMutableHeadInventory(ctx context.Context, root string) (*ocfl.Inventory, ocfl.RevisionNum, error) {
	headDir := path.Join(root, ocfl.MutableHeadExtensionDir, "head")
	jsonBytes, err := r.d.Download(ctx, path.Join(headDir, "inventory.json"))
	if err != nil {
		if driver.IsNotFound(err) {
			return nil, ocfl.RevisionNum{}, nil
		}
		return nil, ocfl.RevisionNum{}, ocfl.NewError(ocfl.IO, "repository.readMutableHeadInventory", err)
	}
	alg, err := probeDigestAlgorithm(jsonBytes)
	if err != nil {
		return nil, ocfl.RevisionNum{}, ocfl.NewError(ocfl.CorruptObject, "repository.readMutableHeadInventory", err)
	}
	sidecar, err := r.d.Download(ctx, path.Join(headDir, ocfl.SidecarName(alg)))
	if err != nil {
		return nil, ocfl.RevisionNum{}, ocfl.NewError(ocfl.CorruptObject, "repository.readMutableHeadInventory", err)
	}
	inv, err := ocfl.DecodeInventory(jsonBytes, sidecar)
	if err != nil {
		return nil, ocfl.RevisionNum{}, err
	}
	rev, err := r.latestRevision(ctx, root)
	if err != nil {
		return nil, ocfl.RevisionNum{}, err
	}
	return inv, rev, nil
}

func (r *Repository) latestRevision(ctx context.Context, root string) (ocfl.RevisionNum, error) {
	entries, err := r.d.ListDirectory(ctx, path.Join(root, ocfl.MutableHeadExtensionDir, "revisions"))
	if err != nil {
		return ocfl.RevisionNum{}, ocfl.NewError(ocfl.IO, "repository.latestRevision", err)
	}
	var max ocfl.RevisionNum
	for _, e := range entries {
		rv, err := ocfl.ParseRevisionNum(path.Base(e.Key))
		if err != nil {
			continue
		}
		if rv.Num() > max.Num() {
			max = rv
		}
	}
	return max, nil
}

func probeDigestAlgorithm(inventoryJSON []byte) (string, error) {
	var probe struct {
		DigestAlgorithm string `json:"digestAlgorithm"`
	}
	if err := json.Unmarshal(inventoryJSON, &probe); err != nil {
		return "", err
	}
	if !digest.ContentDigestAlgorithms[probe.DigestAlgorithm] {
		return "", fmt.Errorf("illegal digestAlgorithm %q", probe.DigestAlgorithm)
	}
	return probe.DigestAlgorithm, nil
}

// PurgeObject deletes every key under id's object root.
func (r *Repository) PurgeObject(ctx context.Context, id string) error {
	if err := r.checkOpen("repository.PurgeObject"); err != nil {
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
	if err := r.d.DeletePath(ctx, root); err != nil {
		return ocfl.NewError(ocfl.IO, "repository.PurgeObject", err)
	}
	r.cache.Remove(id)
	return nil
}

// RollbackToVersion discards every version after v: the object root
// inventory is restored from vN/inventory.json(.alg), every version
// directory numbered above v is deleted, and any active mutable HEAD is
// purged.
func (r *Repository) RollbackToVersion(ctx context.Context, id string, v ocfl.VersionNum) error {
	if err := r.checkOpen("repository.RollbackToVersion"); err != nil {
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
	exists, err := r.objectExists(ctx, root)
	if err != nil {
		return err
	}
	if !exists {
		return ocfl.NewError(ocfl.NotFound, "repository.RollbackToVersion", fmt.Errorf("object %q not found", id))
	}

	targetDir := path.Join(root, v.String())
	jsonBytes, err := r.d.Download(ctx, path.Join(targetDir, "inventory.json"))
	if err != nil {
		return ocfl.NewError(ocfl.NotFound, "repository.RollbackToVersion", err)
	}
	alg, err := probeDigestAlgorithm(jsonBytes)
	if err != nil {
		return ocfl.NewError(ocfl.CorruptObject, "repository.RollbackToVersion", err)
	}
	sidecarName := ocfl.SidecarName(alg)
	sidecar, err := r.d.Download(ctx, path.Join(targetDir, sidecarName))
	if err != nil {
		return ocfl.NewError(ocfl.CorruptObject, "repository.RollbackToVersion", err)
	}
	if _, err := ocfl.DecodeInventory(jsonBytes, sidecar); err != nil {
		return err
	}

	if err := r.d.UploadBytes(ctx, path.Join(root, "inventory.json"), jsonBytes, "application/json"); err != nil {
		return ocfl.NewError(ocfl.IO, "repository.RollbackToVersion", err)
	}
	if err := r.d.UploadBytes(ctx, path.Join(root, sidecarName), sidecar, "text/plain"); err != nil {
		return ocfl.NewError(ocfl.IO, "repository.RollbackToVersion", err)
	}

	entries, err := r.d.ListDirectory(ctx, root)
	if err != nil {
		return ocfl.NewError(ocfl.IO, "repository.RollbackToVersion", err)
	}
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		vn, err := ocfl.ParseVNum(path.Base(e.Key))
		if err != nil {
			continue
		}
		if vn.Num() > v.Num() {
			if err := r.d.DeletePath(ctx, path.Join(root, path.Base(e.Key))); err != nil {
				return ocfl.NewError(ocfl.IO, "repository.RollbackToVersion", err)
			}
		}
	}
	_ = r.d.DeletePath(ctx, path.Join(root, ocfl.MutableHeadExtensionDir))

	r.cache.Remove(id)
	return nil
}

// ValidateObject runs the Validator against id. deep=false runs only the
// shallow, in-memory pass over the currently loaded inventory; deep=true
// re-reads and re-hashes the object's entire on-disk tree.
func (r *Repository) ValidateObject(ctx context.Context, id string, deep bool) (*ocfl.Inventory, *validate.Result, error) {
	if err := r.checkOpen("repository.ValidateObject"); err != nil {
		return nil, nil, err
	}
	if !deep {
		inv, err := r.loadInventory(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		return inv, validate.Shallow(inv), nil
	}
	root, err := r.resolveRoot(id)
	if err != nil {
		return nil, nil, err
	}
	inv, result := validate.Deep(ctx, r.d, root, 0)
	return inv, result, nil
}

// ListObjectIds streams every object id found under the repository root: a
// directory counts as an object root iff it holds a NAMASTE declaration
// matching 0=ocfl_object_1.0, and extensions/ directories are skipped.
type ObjectIDResult struct {
	ID  string
	Err error
}

func (r *Repository) ListObjectIds(ctx context.Context) <-chan ObjectIDResult {
	out := make(chan ObjectIDResult)
	go func() {
		defer close(out)
		entries, err := r.d.List(ctx, "")
		if err != nil {
			sendResult(ctx, out, ObjectIDResult{Err: ocfl.NewError(ocfl.IO, "repository.ListObjectIds", err)})
			return
		}
		seen := map[string]bool{}
		for _, e := range entries {
			if path.Base(e.Key) != ocfl.NamasteObjectDeclaration {
				continue
			}
			root := path.Dir(e.Key)
			if isUnderExtensions(root) {
				continue
			}
			if seen[root] {
				continue
			}
			seen[root] = true
			id, err := r.objectIDAt(ctx, root)
			if !sendResult(ctx, out, ObjectIDResult{ID: id, Err: err}) {
				return
			}
		}
	}()
	return out
}

func sendResult(ctx context.Context, out chan<- ObjectIDResult, res ObjectIDResult) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

func isUnderExtensions(root string) bool {
	for _, seg := range strings.Split(root, "/") {
		if seg == "extensions" {
			return true
		}
	}
	return false
}

func (r *Repository) objectIDAt(ctx context.Context, root string) (string, error) {
	jsonBytes, err := r.d.Download(ctx, path.Join(root, "inventory.json"))
	if err != nil {
		return "", ocfl.NewError(ocfl.CorruptObject, "repository.objectIDAt", err)
	}
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(jsonBytes, &probe); err != nil {
		return "", ocfl.NewError(ocfl.CorruptObject, "repository.objectIDAt", err)
	}
	return probe.ID, nil
}
