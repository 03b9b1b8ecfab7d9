package versionwriter_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"

	"github.com/ocflkit/ocflcore"
	"github.com/ocflkit/ocflcore/digest"
	"github.com/ocflkit/ocflcore/driver/local"
	"github.com/ocflkit/ocflcore/versionwriter"
)

type srcMap map[string]string

func (m srcMap) SourcePath(d string) (string, bool) {
	p, ok := m[d]
	return p, ok
}

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "blob")
	is.New(t).NoErr(os.WriteFile(p, []byte(contents), 0644))
	return p
}

func newInventory(t *testing.T, head ocfl.VersionNum, digestToPath map[string]string, digestToContent map[string]string) (*ocfl.Inventory, srcMap) {
	t.Helper()
	mk := digest.NewMapMaker()
	sources := srcMap{}
	for d, lp := range digestToPath {
		is.New(t).NoErr(mk.Add(d, lp))
		if content, ok := digestToContent[d]; ok {
			sources[d] = writeTempFile(t, content)
		}
	}
	manifest, err := mk.Map()
	is.New(t).NoErr(err)

	stateMk := digest.NewMapMaker()
	for d, lp := range digestToPath {
		is.New(t).NoErr(stateMk.Add(d, lp))
	}
	state, err := stateMk.Map()
	is.New(t).NoErr(err)

	return &ocfl.Inventory{
		ID:              "test-object",
		Type:            ocfl.InventoryType,
		DigestAlgorithm: "sha512",
		Head:            head,
		Manifest:        manifest,
		Versions: map[ocfl.VersionNum]*ocfl.Version{
			head: {State: state},
		},
	}, sources
}

func TestWriteNewVersionFirstVersion(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	d, err := local.New(t.TempDir())
	is.NoErr(err)
	w := versionwriter.New(d, nil)

	inv, sources := newInventory(t, ocfl.V(1),
		map[string]string{"dig1": "v1/content/a.txt"},
		map[string]string{"dig1": "hello"},
	)

	err = w.WriteNewVersion(ctx, "obj1", nil, inv, sources)
	is.NoErr(err)

	_, err = d.Download(ctx, "obj1/"+ocfl.NamasteObjectDeclaration)
	is.NoErr(err)
	_, err = d.Download(ctx, "obj1/inventory.json")
	is.NoErr(err)
	_, err = d.Download(ctx, "obj1/v1/inventory.json")
	is.NoErr(err)
	content, err := d.Download(ctx, "obj1/v1/content/a.txt")
	is.NoErr(err)
	is.Equal(string(content), "hello")
	is.True(inv.PreviousDigest() != "")
}

func TestWriteNewVersionSequentialSucceedsOnMatchingDigest(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	d, err := local.New(t.TempDir())
	is.NoErr(err)
	w := versionwriter.New(d, nil)

	v1, v1Sources := newInventory(t, ocfl.V(1),
		map[string]string{"dig1": "v1/content/a.txt"},
		map[string]string{"dig1": "hello"},
	)
	is.NoErr(w.WriteNewVersion(ctx, "obj1", nil, v1, v1Sources))

	v2, v2Sources := newInventory(t, ocfl.V(2),
		map[string]string{"dig1": "v1/content/a.txt", "dig2": "v2/content/b.txt"},
		map[string]string{"dig2": "world"},
	)
	err = w.WriteNewVersion(ctx, "obj1", v1, v2, v2Sources)
	is.NoErr(err)

	content, err := d.Download(ctx, "obj1/v2/content/b.txt")
	is.NoErr(err)
	is.Equal(string(content), "world")
}

func TestWriteNewVersionRejectsStaleOptimisticConcurrency(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	d, err := local.New(t.TempDir())
	is.NoErr(err)
	w := versionwriter.New(d, nil)

	v1, v1Sources := newInventory(t, ocfl.V(1),
		map[string]string{"dig1": "v1/content/a.txt"},
		map[string]string{"dig1": "hello"},
	)
	is.NoErr(w.WriteNewVersion(ctx, "obj1", nil, v1, v1Sources))

	staleV1, _ := newInventory(t, ocfl.V(1),
		map[string]string{"dig1": "v1/content/a.txt"},
		nil,
	)
	staleV1.SetPreviousDigest("not-the-real-digest")

	v2, v2Sources := newInventory(t, ocfl.V(2),
		map[string]string{"dig1": "v1/content/a.txt", "dig2": "v2/content/b.txt"},
		map[string]string{"dig2": "world"},
	)

	err = w.WriteNewVersion(ctx, "obj1", staleV1, v2, v2Sources)
	is.True(err != nil)

	var ocflErr *ocfl.Error
	is.True(asOcflError(err, &ocflErr))
	is.Equal(ocflErr.Kind, ocfl.ObjectOutOfSync)
}

func TestWriteNewVersionRejectsExistingVersionDirectory(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	d, err := local.New(t.TempDir())
	is.NoErr(err)
	w := versionwriter.New(d, nil)

	v1, v1Sources := newInventory(t, ocfl.V(1),
		map[string]string{"dig1": "v1/content/a.txt"},
		map[string]string{"dig1": "hello"},
	)
	is.NoErr(w.WriteNewVersion(ctx, "obj1", nil, v1, v1Sources))

	// Attempt v1 again over the same object root: the version directory
	// already exists and is non-empty.
	v1Again, v1AgainSources := newInventory(t, ocfl.V(1),
		map[string]string{"dig1": "v1/content/a.txt"},
		map[string]string{"dig1": "hello"},
	)
	err = w.WriteNewVersion(ctx, "obj1", nil, v1Again, v1AgainSources)
	is.True(err != nil)

	var ocflErr *ocfl.Error
	is.True(asOcflError(err, &ocflErr))
	is.Equal(ocflErr.Kind, ocfl.ObjectOutOfSync)
}

func TestWriteNewVersionRollsBackOnUploadFailure(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	d, err := local.New(t.TempDir())
	is.NoErr(err)
	w := versionwriter.New(d, nil)

	v1, v1Sources := newInventory(t, ocfl.V(1),
		map[string]string{"dig1": "v1/content/a.txt"},
		map[string]string{"dig1": "hello"},
	)
	is.NoErr(w.WriteNewVersion(ctx, "obj1", nil, v1, v1Sources))
	rootBefore, err := d.Download(ctx, "obj1/inventory.json")
	is.NoErr(err)

	v2, _ := newInventory(t, ocfl.V(2),
		map[string]string{"dig1": "v1/content/a.txt", "dig2": "v2/content/b.txt"},
		nil, // no source registered for dig2: upload must fail
	)
	err = w.WriteNewVersion(ctx, "obj1", v1, v2, srcMap{})
	is.True(err != nil)

	rootAfter, err := d.Download(ctx, "obj1/inventory.json")
	is.NoErr(err)
	is.Equal(string(rootAfter), string(rootBefore))

	entries, err := d.ListDirectory(ctx, "obj1/v2")
	is.NoErr(err)
	is.Equal(len(entries), 0)
}

func TestAllocateRevisionFirstSnapshotsRootSidecar(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	d, err := local.New(t.TempDir())
	is.NoErr(err)
	w := versionwriter.New(d, nil)

	v1, v1Sources := newInventory(t, ocfl.V(1),
		map[string]string{"dig1": "v1/content/a.txt"},
		map[string]string{"dig1": "hello"},
	)
	is.NoErr(w.WriteNewVersion(ctx, "obj1", nil, v1, v1Sources))

	err = w.AllocateRevision(ctx, "obj1", ocfl.FirstRevision, ocfl.SidecarName(v1.DigestAlgorithm))
	is.NoErr(err)

	_, err = d.Download(ctx, "obj1/extensions/0005-mutable-head/revisions/r1")
	is.NoErr(err)
	_, err = d.Download(ctx, "obj1/extensions/0005-mutable-head/root-"+ocfl.SidecarName(v1.DigestAlgorithm))
	is.NoErr(err)
}

func TestAllocateRevisionRejectsWhenMarkerAlreadyClaimed(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	d, err := local.New(t.TempDir())
	is.NoErr(err)
	w := versionwriter.New(d, nil)

	v1, v1Sources := newInventory(t, ocfl.V(1),
		map[string]string{"dig1": "v1/content/a.txt"},
		map[string]string{"dig1": "hello"},
	)
	is.NoErr(w.WriteNewVersion(ctx, "obj1", nil, v1, v1Sources))

	is.NoErr(w.AllocateRevision(ctx, "obj1", ocfl.FirstRevision, ocfl.SidecarName(v1.DigestAlgorithm)))

	err = w.AllocateRevision(ctx, "obj1", ocfl.FirstRevision, ocfl.SidecarName(v1.DigestAlgorithm))
	is.True(err != nil)

	var ocflErr *ocfl.Error
	is.True(asOcflError(err, &ocflErr))
	is.Equal(ocflErr.Kind, ocfl.ObjectOutOfSync)
}

func asOcflError(err error, target **ocfl.Error) bool {
	for err != nil {
		if e, ok := err.(*ocfl.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
