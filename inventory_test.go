package ocfl

import (
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/ocflkit/ocflcore/digest"
)

func newTestInventory(t *testing.T) *Inventory {
	t.Helper()
	mk := digest.NewMapMaker()
	if err := mk.Add("d1", "v1/content/a.txt"); err != nil {
		t.Fatal(err)
	}
	manifest, err := mk.Map()
	if err != nil {
		t.Fatal(err)
	}
	stateMk := digest.NewMapMaker()
	if err := stateMk.Add("d1", "a.txt"); err != nil {
		t.Fatal(err)
	}
	state, err := stateMk.Map()
	if err != nil {
		t.Fatal(err)
	}
	return &Inventory{
		ID:              "o1",
		Type:            InventoryType,
		DigestAlgorithm: digest.SHA512,
		Head:            V(1),
		Manifest:        manifest,
		Versions: map[VersionNum]*Version{
			V(1): {Created: time.Now(), State: state},
		},
	}
}

func TestInventoryShallowValidate(t *testing.T) {
	is := is.New(t)
	inv := newTestInventory(t)
	is.NoErr(inv.ShallowValidate())
}

func TestInventoryShallowValidateRejectsMissingManifestDigest(t *testing.T) {
	is := is.New(t)
	inv := newTestInventory(t)
	stateMk := digest.NewMapMaker()
	is.NoErr(stateMk.Add("dangling", "b.txt"))
	state, err := stateMk.Map()
	is.NoErr(err)
	inv.Versions[V(1)].State = state
	is.True(inv.ShallowValidate() != nil)
}

func TestInventoryShallowValidateRejectsWrongHead(t *testing.T) {
	is := is.New(t)
	inv := newTestInventory(t)
	inv.Head = V(2)
	is.True(inv.ShallowValidate() != nil)
}

func TestInventoryGetVersionResolvesHead(t *testing.T) {
	is := is.New(t)
	inv := newTestInventory(t)
	is.Equal(inv.GetVersion(HeadVersion), inv.GetVersion(V(1)))
}

func TestInventoryContentPath(t *testing.T) {
	is := is.New(t)
	inv := newTestInventory(t)
	is.Equal(inv.ContentPath("d1"), "v1/content/a.txt")
	is.Equal(inv.ContentPath("missing"), "")
}

func TestInventoryContentDirDefault(t *testing.T) {
	is := is.New(t)
	inv := newTestInventory(t)
	is.Equal(inv.ContentDir(), DefaultContentDirectory)
	inv.ContentDirectory = "data"
	is.Equal(inv.ContentDir(), "data")
}
