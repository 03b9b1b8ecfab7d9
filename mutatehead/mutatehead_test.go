package mutatehead_test

import (
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/ocflkit/ocflcore"
	"github.com/ocflkit/ocflcore/digest"
	"github.com/ocflkit/ocflcore/mutatehead"
)

func stagedInventory(t *testing.T) *ocfl.Inventory {
	t.Helper()
	mk := digest.NewMapMaker()
	if err := mk.Add("d1", "v1/content/a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := mk.Add("d2", "extensions/0005-mutable-head/head/content/r1/b.txt"); err != nil {
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
	if err := stateMk.Add("d2", "b.txt"); err != nil {
		t.Fatal(err)
	}
	state, err := stateMk.Map()
	if err != nil {
		t.Fatal(err)
	}
	inv := &ocfl.Inventory{
		ID:              "o1",
		Type:            ocfl.InventoryType,
		DigestAlgorithm: digest.SHA512,
		Head:            ocfl.V(2),
		Manifest:        manifest,
		Versions: map[ocfl.VersionNum]*ocfl.Version{
			ocfl.V(1): {Created: time.Now(), State: state},
			ocfl.V(2): {Created: time.Now(), State: state},
		},
	}
	inv.SetMutableHead(true, ocfl.R(1))
	return inv
}

func TestPromoteRewritesMutableHeadPaths(t *testing.T) {
	is := is.New(t)
	inv := stagedInventory(t)
	out, err := mutatehead.Promote(inv, time.Now(), nil, "promote")
	is.NoErr(err)
	is.Equal(out.MutableHead(), false)
	is.Equal(out.ContentPath("d1"), "v1/content/a.txt")
	is.Equal(out.ContentPath("d2"), "v2/content/b.txt")
	is.NoErr(out.ShallowValidate())
}

func TestPromoteRejectsInventoryWithoutMutableHead(t *testing.T) {
	is := is.New(t)
	inv := stagedInventory(t)
	inv.SetMutableHead(false, ocfl.RevisionNum{})
	_, err := mutatehead.Promote(inv, time.Now(), nil, "")
	is.True(err != nil)
}

func TestPromotePreservesLogicalState(t *testing.T) {
	is := is.New(t)
	inv := stagedInventory(t)
	out, err := mutatehead.Promote(inv, time.Now(), &ocfl.User{Name: "tester"}, "msg")
	is.NoErr(err)
	v := out.GetVersion(ocfl.V(2))
	is.Equal(v.Message, "msg")
	is.Equal(v.User.Name, "tester")
	d, ok := v.GetDigest("b.txt")
	is.True(ok)
	is.Equal(d, "d2")
}
