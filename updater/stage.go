// Package updater implements the Inventory Updater: a single-use builder
// that plans a new Inventory version (or mutable-HEAD revision) from a
// caller's file mutations.
package updater

import (
	"fmt"
	"strings"
	"time"

	"github.com/ocflkit/ocflcore"
	"github.com/ocflkit/ocflcore/digest"
)

// Mode selects how a Stage's initial state and manifest are seeded.
type Mode int8

const (
	// ModeNew seeds an empty manifest and state for a brand-new object (v1).
	ModeNew Mode = iota
	// ModeInsert copies the prior inventory but starts the new version's
	// state empty.
	ModeInsert
	// ModeUpdate copies the prior inventory and starts the new version's
	// state as a copy of the head version's state.
	ModeUpdate
	// ModeMutateHead stages a mutable-HEAD revision instead of a regular
	// version.
	ModeMutateHead
)

// Stage is a single-use builder for a new Inventory version. Create one
// with New, mutate it with AddFile/RemoveFile/RenameFile/..., and call
// FinalizeUpdate exactly once. Any call after FinalizeUpdate returns
// ocfl.ErrState.
type Stage struct {
	mode Mode

	id               string
	digestAlgorithm  string
	contentDirectory string
	prior            *ocfl.Inventory // nil for ModeNew

	targetVersion VersionTarget
	revision      ocfl.RevisionNum // valid only in ModeMutateHead

	manifest *digest.MapMaker // content path -> digest, seeded from prior
	state    *digest.MapMaker // logical path -> digest, for the version being planned
	fixity   map[string]*digest.MapMaker

	// sources maps a digest to the absolute local filesystem path the
	// version writer should read it from.
	sources map[string]string

	message string
	user    *ocfl.User

	finalized bool
}

// VersionTarget names the version (or mutable-HEAD revision) a Stage plans.
type VersionTarget struct {
	Version  ocfl.VersionNum
	Revision ocfl.RevisionNum // set only when staging a mutable-HEAD revision
}

// New starts a Stage for a brand-new object.
func New(id string, alg string) (*Stage, error) {
	if id == "" {
		return nil, ocfl.NewError(ocfl.Input, "updater.New", fmt.Errorf("object id is empty"))
	}
	if !digest.ContentDigestAlgorithms[alg] {
		return nil, ocfl.NewError(ocfl.Input, "updater.New", fmt.Errorf("illegal content digestAlgorithm %q", alg))
	}
	return &Stage{
		mode:             ModeNew,
		id:               id,
		digestAlgorithm:  alg,
		contentDirectory: ocfl.DefaultContentDirectory,
		targetVersion:    VersionTarget{Version: ocfl.V(1)},
		manifest:         digest.NewMapMaker(),
		state:            digest.NewMapMaker(),
		fixity:           map[string]*digest.MapMaker{},
		sources:          map[string]string{},
	}, nil
}

// Next starts a Stage that extends prior with a new version. mode must be
// ModeInsert or ModeUpdate.
func Next(prior *ocfl.Inventory, mode Mode) (*Stage, error) {
	if mode != ModeInsert && mode != ModeUpdate {
		return nil, ocfl.NewError(ocfl.Input, "updater.Next", fmt.Errorf("invalid mode for Next"))
	}
	next, err := prior.Head.Next()
	if err != nil {
		return nil, ocfl.NewError(ocfl.PathConstraint, "updater.Next", err)
	}
	s, err := newFromPrior(prior, mode)
	if err != nil {
		return nil, err
	}
	s.targetVersion = VersionTarget{Version: next}
	if mode == ModeUpdate {
		head := prior.GetVersion(prior.Head)
		if head != nil && head.State != nil {
			head.State.EachPath(func(p, d string) bool {
				_ = s.state.Add(d, p)
				return true
			})
		}
	}
	return s, nil
}

// NextMutateHead starts a Stage that stages a mutable-HEAD revision:
// revision r1 if no mutable HEAD is active yet (in which case the target
// version is prior.Head+1), or the next revision of the currently active
// mutable HEAD (in which case the target version is unchanged, since the
// mutable HEAD has not yet been promoted).
func NextMutateHead(prior *ocfl.Inventory) (*Stage, error) {
	s, err := newFromPrior(prior, ModeMutateHead)
	if err != nil {
		return nil, err
	}
	if prior.MutableHead() {
		s.targetVersion = VersionTarget{Version: prior.Head, Revision: prior.RevisionNum().Next()}
		head := prior.GetVersion(prior.Head)
		if head != nil && head.State != nil {
			head.State.EachPath(func(p, d string) bool {
				_ = s.state.Add(d, p)
				return true
			})
		}
	} else {
		next, err := prior.Head.Next()
		if err != nil {
			return nil, ocfl.NewError(ocfl.PathConstraint, "updater.NextMutateHead", err)
		}
		s.targetVersion = VersionTarget{Version: next, Revision: ocfl.FirstRevision}
		head := prior.GetVersion(prior.Head)
		if head != nil && head.State != nil {
			head.State.EachPath(func(p, d string) bool {
				_ = s.state.Add(d, p)
				return true
			})
		}
	}
	s.revision = s.targetVersion.Revision
	return s, nil
}

func newFromPrior(prior *ocfl.Inventory, mode Mode) (*Stage, error) {
	if prior == nil {
		return nil, ocfl.NewError(ocfl.Input, "updater", fmt.Errorf("prior inventory is nil"))
	}
	s := &Stage{
		mode:             mode,
		id:               prior.ID,
		digestAlgorithm:  prior.DigestAlgorithm,
		contentDirectory: prior.ContentDir(),
		prior:            prior,
		manifest:         digest.NewMapMaker(),
		state:            digest.NewMapMaker(),
		fixity:           map[string]*digest.MapMaker{},
		sources:          map[string]string{},
	}
	prior.Manifest.EachPath(func(p, d string) bool {
		_ = s.manifest.Add(d, p)
		return true
	})
	for alg, fx := range prior.Fixity {
		mk := digest.NewMapMaker()
		fx.EachPath(func(p, d string) bool {
			_ = mk.Add(d, p)
			return true
		})
		s.fixity[alg] = mk
	}
	return s, nil
}

func (s *Stage) checkOpen(op string) error {
	if s.finalized {
		return ocfl.NewError(ocfl.State, op, fmt.Errorf("stage already finalized"))
	}
	return nil
}

// contentPathFor returns the content path a new manifest entry for
// logicalPath should use under this stage's target version/revision.
func (s *Stage) contentPathFor(logicalPath string) string {
	if s.mode == ModeMutateHead {
		return ocfl.MutableHeadContentPath(s.targetVersion.Revision, s.contentDirectory, logicalPath)
	}
	return ocfl.JoinContentPath(s.targetVersion.Version, s.contentDirectory, logicalPath)
}

// SetMessage records the commit message for the version being planned.
func (s *Stage) SetMessage(msg string) { s.message = msg }

// SetUser records the user for the version being planned.
func (s *Stage) SetUser(u *ocfl.User) { s.user = u }

// AddFile stages digest at logicalPath, reading its bytes from
// absoluteSourcePath when the version writer later copies content blobs.
// If the digest is new to the manifest, a content path is allocated for it
// at the target version/revision; otherwise the existing content path is
// reused, and the blob is not re-uploaded. Returns whether the digest was
// new to the manifest.
func (s *Stage) AddFile(dig, absoluteSourcePath, logicalPath string, overwrite bool) (bool, error) {
	if err := s.checkOpen("AddFile"); err != nil {
		return false, err
	}
	if err := ocfl.ValidateLogicalPath(logicalPath); err != nil {
		return false, ocfl.NewError(ocfl.PathConstraint, "AddFile", err)
	}
	if _, ok := s.stateDigest(logicalPath); ok {
		if !overwrite {
			return false, ocfl.NewError(ocfl.Overwrite, "AddFile",
				fmt.Errorf("logical path %q already exists in this version", logicalPath))
		}
		s.state.Remove(logicalPath)
	}

	isNew := !s.manifest.Has(dig)
	if isNew {
		cp := s.contentPathFor(logicalPath)
		if err := s.manifest.Add(dig, cp); err != nil {
			return false, ocfl.NewError(ocfl.PathConstraint, "AddFile", err)
		}
		s.sources[dig] = absoluteSourcePath
	}
	if err := s.state.Add(dig, logicalPath); err != nil {
		return false, ocfl.NewError(ocfl.PathConstraint, "AddFile", err)
	}
	return isNew, nil
}

// stateDigest returns the digest currently staged at logicalPath, if any.
func (s *Stage) stateDigest(logicalPath string) (string, bool) {
	m, err := s.state.Map()
	if err != nil {
		return "", false
	}
	return m.GetDigest(logicalPath)
}

// RemoveFile drops logicalPath from the version's state. In mutate-head
// mode, if the removed digest's content path lies in the mutable-HEAD
// staging area and no remaining logical path references it, the manifest
// entry for that content path is dropped too.
func (s *Stage) RemoveFile(logicalPath string) error {
	if err := s.checkOpen("RemoveFile"); err != nil {
		return err
	}
	dig, ok := s.stateDigest(logicalPath)
	if !ok {
		return ocfl.NewError(ocfl.NotFound, "RemoveFile", fmt.Errorf("logical path %q not in version state", logicalPath))
	}
	s.state.Remove(logicalPath)
	if s.mode != ModeMutateHead {
		return nil
	}
	stillReferenced := false
	if m, err := s.state.Map(); err == nil {
		stillReferenced = m.DigestExists(dig)
	}
	if !stillReferenced {
		for _, cp := range s.manifest.Paths(dig) {
			if strings.HasPrefix(cp, ocfl.MutableHeadExtensionDir) {
				s.manifest.Remove(cp)
			}
		}
	}
	return nil
}

// RenameFile moves a logical path, honoring the same overwrite semantics as
// AddFile.
func (s *Stage) RenameFile(src, dst string, overwrite bool) error {
	if err := s.checkOpen("RenameFile"); err != nil {
		return err
	}
	dig, ok := s.stateDigest(src)
	if !ok {
		return ocfl.NewError(ocfl.NotFound, "RenameFile", fmt.Errorf("logical path %q not in version state", src))
	}
	if _, ok := s.stateDigest(dst); ok && !overwrite {
		return ocfl.NewError(ocfl.Overwrite, "RenameFile", fmt.Errorf("logical path %q already exists", dst))
	}
	s.state.Remove(src)
	s.state.Remove(dst)
	return s.state.Add(dig, dst)
}

// ReinstateFile looks up the digest at sourceLogicalPath within
// sourceVersion of the prior inventory and adds it to the current state at
// dstLogicalPath.
func (s *Stage) ReinstateFile(sourceVersion ocfl.VersionNum, sourceLogicalPath, dstLogicalPath string, overwrite bool) error {
	if err := s.checkOpen("ReinstateFile"); err != nil {
		return err
	}
	if s.prior == nil {
		return ocfl.NewError(ocfl.Input, "ReinstateFile", fmt.Errorf("no prior inventory to reinstate from"))
	}
	ver := s.prior.GetVersion(sourceVersion)
	if ver == nil {
		return ocfl.NewError(ocfl.NotFound, "ReinstateFile", fmt.Errorf("version %s not found", sourceVersion))
	}
	dig, ok := ver.GetDigest(sourceLogicalPath)
	if !ok {
		return ocfl.NewError(ocfl.NotFound, "ReinstateFile",
			fmt.Errorf("version %s has no path %q", sourceVersion, sourceLogicalPath))
	}
	if _, ok := s.stateDigest(dstLogicalPath); ok && !overwrite {
		return ocfl.NewError(ocfl.Overwrite, "ReinstateFile", fmt.Errorf("logical path %q already exists", dstLogicalPath))
	}
	s.state.Remove(dstLogicalPath)
	return s.state.Add(dig, dstLogicalPath)
}

// ClearVersionState drops every entry from the version being planned,
// leaving historical versions untouched.
func (s *Stage) ClearVersionState() error {
	if err := s.checkOpen("ClearVersionState"); err != nil {
		return err
	}
	s.state = digest.NewMapMaker()
	return nil
}

// AddFileFixity records a caller-asserted digest for logicalPath under a
// non-content algorithm. The path must already have been added to this
// stage (or the algorithm must be the content digest algorithm, in which
// case the assertion is checked against the already-known digest).
func (s *Stage) AddFileFixity(logicalPath, alg, expectedDigest string) error {
	if err := s.checkOpen("AddFileFixity"); err != nil {
		return err
	}
	known, ok := s.stateDigest(logicalPath)
	if !ok {
		return ocfl.NewError(ocfl.Input, "AddFileFixity", fmt.Errorf("logical path %q is not staged", logicalPath))
	}
	if alg == s.digestAlgorithm {
		if known != expectedDigest {
			return ocfl.NewError(ocfl.FixityCheck, "AddFileFixity",
				fmt.Errorf("asserted %s digest %s does not match known digest %s", alg, expectedDigest, known))
		}
		return nil
	}
	contentPaths := s.manifest.Paths(known)
	if len(contentPaths) == 0 {
		return ocfl.NewError(ocfl.Input, "AddFileFixity", fmt.Errorf("no content path recorded for %q", logicalPath))
	}
	mk, ok := s.fixity[alg]
	if !ok {
		mk = digest.NewMapMaker()
		s.fixity[alg] = mk
	}
	for _, cp := range contentPaths {
		if err := mk.Add(expectedDigest, cp); err != nil {
			return ocfl.NewError(ocfl.FixityCheck, "AddFileFixity", err)
		}
	}
	return nil
}

// SourcePath returns the local filesystem path staged content for dig
// should be read from, for the version writer.
func (s *Stage) SourcePath(dig string) (string, bool) {
	p, ok := s.sources[dig]
	return p, ok
}

// FinalizeUpdate produces the immutable Inventory for this Stage's planned
// version. The Stage refuses all further mutation afterward.
func (s *Stage) FinalizeUpdate(createdAt time.Time) (*ocfl.Inventory, error) {
	if err := s.checkOpen("FinalizeUpdate"); err != nil {
		return nil, err
	}
	manifest, err := s.manifest.Map()
	if err != nil {
		return nil, ocfl.NewError(ocfl.PathConstraint, "FinalizeUpdate", err)
	}
	state, err := s.state.Map()
	if err != nil {
		return nil, ocfl.NewError(ocfl.PathConstraint, "FinalizeUpdate", err)
	}

	versions := map[ocfl.VersionNum]*ocfl.Version{}
	head := s.targetVersion.Version
	if s.prior != nil {
		for vn, ver := range s.prior.Versions {
			versions[vn] = ver
		}
	}
	versions[head] = &ocfl.Version{
		Created: createdAt,
		State:   state,
		Message: s.message,
		User:    s.user,
	}

	fixity := map[string]*digest.Map{}
	for alg, mk := range s.fixity {
		m, err := mk.Map()
		if err != nil {
			return nil, ocfl.NewError(ocfl.PathConstraint, "FinalizeUpdate", err)
		}
		fixity[alg] = m
	}

	inv := &ocfl.Inventory{
		ID:               s.id,
		Type:             ocfl.InventoryType,
		DigestAlgorithm:  s.digestAlgorithm,
		Head:             head,
		ContentDirectory: nonDefaultContentDir(s.contentDirectory),
		Manifest:         manifest,
		Versions:         versions,
		Fixity:           fixity,
	}
	if s.prior != nil {
		inv.SetPreviousDigest(s.prior.PreviousDigest())
		inv.SetObjectRootPath(s.prior.ObjectRootPath())
	}
	if s.mode == ModeMutateHead {
		inv.SetMutableHead(true, s.targetVersion.Revision)
	}
	s.finalized = true
	return inv, nil
}

func nonDefaultContentDir(dir string) string {
	if dir == ocfl.DefaultContentDirectory {
		return ""
	}
	return dir
}
