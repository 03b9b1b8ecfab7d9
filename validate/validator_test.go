package validate_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/ocflkit/ocflcore"
	"github.com/ocflkit/ocflcore/digest"
	"github.com/ocflkit/ocflcore/driver/local"
	"github.com/ocflkit/ocflcore/validate"
)

func validInventory(t *testing.T) *ocfl.Inventory {
	t.Helper()
	is := is.New(t)
	mk := digest.NewMapMaker()
	is.NoErr(mk.Add("d1", "v1/content/a.txt"))
	manifest, err := mk.Map()
	is.NoErr(err)

	stateMk := digest.NewMapMaker()
	is.NoErr(stateMk.Add("d1", "a.txt"))
	state, err := stateMk.Map()
	is.NoErr(err)

	return &ocfl.Inventory{
		ID:              "urn:example:obj1",
		Type:            ocfl.InventoryType,
		DigestAlgorithm: digest.SHA512,
		Head:            ocfl.V(1),
		Manifest:        manifest,
		Versions: map[ocfl.VersionNum]*ocfl.Version{
			ocfl.V(1): {Created: time.Now(), State: state, Message: "initial", User: &ocfl.User{Name: "tester"}},
		},
	}
}

func TestShallowAcceptsValidInventory(t *testing.T) {
	is := is.New(t)
	r := validate.Shallow(validInventory(t))
	is.True(r.Valid())
}

func TestShallowRejectsBadDigestAlgorithm(t *testing.T) {
	is := is.New(t)
	inv := validInventory(t)
	inv.DigestAlgorithm = "md5"
	r := validate.Shallow(inv)
	is.True(!r.Valid())
}

func TestShallowRejectsStateDigestMissingFromManifest(t *testing.T) {
	is := is.New(t)
	inv := validInventory(t)
	stateMk := digest.NewMapMaker()
	is.NoErr(stateMk.Add("not-in-manifest", "b.txt"))
	state, err := stateMk.Map()
	is.NoErr(err)
	inv.Versions[ocfl.V(1)].State = state

	r := validate.Shallow(inv)
	is.True(!r.Valid())
}

func TestShallowRejectsHeadNotHighestVersion(t *testing.T) {
	is := is.New(t)
	inv := validInventory(t)
	inv.Head = ocfl.V(2)
	r := validate.Shallow(inv)
	is.True(!r.Valid())
}

func writeObject(t *testing.T, d *local.Driver, root string, alg string) {
	t.Helper()
	is := is.New(t)
	ctx := context.Background()

	contentPath := filepath.Join(t.TempDir(), "a.txt")
	is.NoErr(os.WriteFile(contentPath, []byte("hello"), 0644))
	dg := digest.New(alg)
	dg.Write([]byte("hello"))
	sum := dg.String()

	mk := digest.NewMapMaker()
	is.NoErr(mk.Add(sum, "v1/content/a.txt"))
	manifest, err := mk.Map()
	is.NoErr(err)

	stateMk := digest.NewMapMaker()
	is.NoErr(stateMk.Add(sum, "a.txt"))
	state, err := stateMk.Map()
	is.NoErr(err)

	inv := &ocfl.Inventory{
		ID:              "urn:example:obj1",
		Type:            ocfl.InventoryType,
		DigestAlgorithm: alg,
		Head:            ocfl.V(1),
		Manifest:        manifest,
		Versions: map[ocfl.VersionNum]*ocfl.Version{
			ocfl.V(1): {Created: time.Now(), State: state, Message: "initial", User: &ocfl.User{Name: "tester"}},
		},
	}

	jsonBytes, _, sidecar, err := ocfl.EncodeInventory(inv, alg)
	is.NoErr(err)

	is.NoErr(d.UploadBytes(ctx, root+"/"+ocfl.NamasteObjectDeclaration, []byte(ocfl.NamasteObjectBody), "text/plain"))
	is.NoErr(d.UploadBytes(ctx, root+"/inventory.json", jsonBytes, "application/json"))
	is.NoErr(d.UploadBytes(ctx, root+"/"+ocfl.SidecarName(alg), sidecar, "text/plain"))
	is.NoErr(d.UploadBytes(ctx, root+"/v1/inventory.json", jsonBytes, "application/json"))
	is.NoErr(d.UploadBytes(ctx, root+"/v1/"+ocfl.SidecarName(alg), sidecar, "text/plain"))
	is.NoErr(d.Upload(ctx, contentPath, root+"/v1/content/a.txt", "", "application/octet-stream"))
}

func TestDeepAcceptsWellFormedObject(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	d, err := local.New(t.TempDir())
	is.NoErr(err)
	writeObject(t, d, "obj1", digest.SHA512)

	_, r := validate.Deep(ctx, d, "obj1", 0)
	for _, f := range r.Fatal() {
		t.Logf("unexpected fatal: %s", f)
	}
	is.True(r.Valid())
}

func TestDeepDetectsContentDigestMismatch(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	d, err := local.New(t.TempDir())
	is.NoErr(err)
	writeObject(t, d, "obj1", digest.SHA512)

	// corrupt the content file after the fact
	is.NoErr(d.UploadBytes(ctx, "obj1/v1/content/a.txt", []byte("tampered"), "application/octet-stream"))

	_, r := validate.Deep(ctx, d, "obj1", 0)
	is.True(!r.Valid())
}

func TestDeepDetectsMissingNamaste(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	d, err := local.New(t.TempDir())
	is.NoErr(err)
	writeObject(t, d, "obj1", digest.SHA512)
	is.NoErr(d.DeletePath(ctx, "obj1/"+ocfl.NamasteObjectDeclaration))

	_, r := validate.Deep(ctx, d, "obj1", 0)
	is.True(!r.Valid())
}
