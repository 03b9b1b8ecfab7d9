package ocflcache_test

import (
	"testing"

	"github.com/matryer/is"
	"github.com/ocflkit/ocflcore"
	"github.com/ocflkit/ocflcore/ocflcache"
)

func TestPutGetRoundTrip(t *testing.T) {
	is := is.New(t)
	c, err := ocflcache.New(2)
	is.NoErr(err)

	inv := &ocfl.Inventory{ID: "o1", Head: ocfl.V(1)}
	c.Put("o1", inv)

	got, ok := c.Get("o1")
	is.True(ok)
	is.Equal(got.ID, "o1")
}

func TestRemoveEvicts(t *testing.T) {
	is := is.New(t)
	c, err := ocflcache.New(2)
	is.NoErr(err)
	c.Put("o1", &ocfl.Inventory{ID: "o1"})
	c.Remove("o1")

	_, ok := c.Get("o1")
	is.True(!ok)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	is := is.New(t)
	c, err := ocflcache.New(1)
	is.NoErr(err)
	c.Put("o1", &ocfl.Inventory{ID: "o1"})
	c.Put("o2", &ocfl.Inventory{ID: "o2"})

	_, ok := c.Get("o1")
	is.True(!ok)
	_, ok = c.Get("o2")
	is.True(ok)
	is.Equal(c.Len(), 1)
}

func TestPurgeClearsAll(t *testing.T) {
	is := is.New(t)
	c, err := ocflcache.New(4)
	is.NoErr(err)
	c.Put("o1", &ocfl.Inventory{ID: "o1"})
	c.Put("o2", &ocfl.Inventory{ID: "o2"})
	c.Purge()
	is.Equal(c.Len(), 0)
}
