package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ocflkit/ocflcore"
	"github.com/ocflkit/ocflcore/mutatehead"
	"github.com/ocflkit/ocflcore/updater"
)

// StageChanges applies m as the next revision of id's mutable HEAD,
// creating the mutable HEAD if none is active yet. While the mutable HEAD
// is active, loadInventory (and so GetObject, DescribeObject, ...) returns
// the staged inventory for id; CommitStagedChanges promotes it to an
// immutable version.
func (r *Repository) StageChanges(ctx context.Context, id string, m Mutation) (*ocfl.Inventory, error) {
	if err := r.checkOpen("repository.StageChanges"); err != nil {
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

	stage, err := updater.NextMutateHead(prior)
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
	inv.SetObjectRootPath(prior.ObjectRootPath())
	if err := validateBeforeCommit("repository.StageChanges", inv); err != nil {
		return nil, err
	}

	root := prior.ObjectRootPath()
	if err := r.writer.AllocateRevision(ctx, root, inv.RevisionNum(), ocfl.SidecarName(r.digestAlgorithm)); err != nil {
		return nil, err
	}
	if err := r.writer.WriteMutableHeadRevision(ctx, root, prior, inv, stage); err != nil {
		return nil, err
	}
	r.cache.Remove(id)
	return inv, nil
}

// HasStagedChanges reports whether id currently has an active mutable
// HEAD awaiting commit.
func (r *Repository) HasStagedChanges(ctx context.Context, id string) (bool, error) {
	if err := r.checkOpen("repository.HasStagedChanges"); err != nil {
		return false, err
	}
	root, err := r.resolveRoot(id)
	if err != nil {
		return false, err
	}
	if exists, err := r.objectExists(ctx, root); err != nil {
		return false, err
	} else if !exists {
		return false, ocfl.NewError(ocfl.NotFound, "repository.HasStagedChanges", fmt.Errorf("object %q not found", id))
	}
	_, rev, err := r.readMutableHeadInventory(ctx, root)
	if err != nil {
		return false, err
	}
	return !rev.IsZero(), nil
}

// PurgeStagedChanges discards id's active mutable HEAD entirely, leaving
// the last immutable version as HEAD again.
func (r *Repository) PurgeStagedChanges(ctx context.Context, id string) error {
	if err := r.checkOpen("repository.PurgeStagedChanges"); err != nil {
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
		return ocfl.NewError(ocfl.NotFound, "repository.PurgeStagedChanges", fmt.Errorf("object %q not found", id))
	}
	if err := r.d.DeletePath(ctx, root+"/"+ocfl.MutableHeadExtensionDir); err != nil {
		return ocfl.NewError(ocfl.IO, "repository.PurgeStagedChanges", err)
	}
	r.cache.Remove(id)
	return nil
}

// CommitStagedChanges promotes id's active mutable HEAD into an ordinary
// immutable version: it rewrites the staged content paths to their final
// vN/contentDir/... locations (mutatehead.Promote/Relocations), relocates
// the underlying blobs, and writes the promoted inventory as the object's
// root inventory, removing the mutable-HEAD extension directory.
func (r *Repository) CommitStagedChanges(ctx context.Context, id, message string, user *ocfl.User) (*ocfl.Inventory, error) {
	if err := r.checkOpen("repository.CommitStagedChanges"); err != nil {
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
	} else if !exists {
		return nil, ocfl.NewError(ocfl.NotFound, "repository.CommitStagedChanges", fmt.Errorf("object %q not found", id))
	}

	mutableInv, rev, err := r.readMutableHeadInventory(ctx, root)
	if err != nil {
		return nil, err
	}
	if rev.IsZero() || mutableInv == nil {
		return nil, ocfl.NewError(ocfl.State, "repository.CommitStagedChanges", fmt.Errorf("object %q has no staged changes", id))
	}
	mutableInv.SetObjectRootPath(root)

	relocations, err := mutatehead.Relocations(mutableInv)
	if err != nil {
		return nil, err
	}
	promoted, err := mutatehead.Promote(mutableInv, time.Now(), user, message)
	if err != nil {
		return nil, err
	}
	if err := validateBeforeCommit("repository.CommitStagedChanges", promoted); err != nil {
		return nil, err
	}

	sidecarName := ocfl.SidecarName(promoted.DigestAlgorithm)
	if err := r.writer.CommitMutableHead(ctx, root, promoted, relocations, sidecarName); err != nil {
		return nil, err
	}
	r.cache.Remove(id)
	promoted.SetObjectRootPath(root)
	r.cache.Put(id, promoted)
	return promoted, nil
}
