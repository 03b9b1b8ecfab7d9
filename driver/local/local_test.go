package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
	"github.com/ocflkit/ocflcore/driver"
	"github.com/ocflkit/ocflcore/driver/local"
)

func TestUploadDownloadRoundTrip(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	d, err := local.New(t.TempDir())
	is.NoErr(err)

	is.NoErr(d.UploadBytes(ctx, "a/b/c.txt", []byte("hello"), ""))
	got, err := d.Download(ctx, "a/b/c.txt")
	is.NoErr(err)
	is.Equal(string(got), "hello")

	is.NoErr(d.CopyObject(ctx, "a/b/c.txt", "a/b/d.txt"))
	got, err = d.Download(ctx, "a/b/d.txt")
	is.NoErr(err)
	is.Equal(string(got), "hello")

	_, err = d.Download(ctx, "missing")
	is.True(driver.IsNotFound(err))
}

func TestListDirectory(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	d, err := local.New(t.TempDir())
	is.NoErr(err)
	is.NoErr(d.UploadBytes(ctx, "v1/content/a.txt", []byte("a"), ""))
	is.NoErr(d.UploadBytes(ctx, "v1/inventory.json", []byte("{}"), ""))

	entries, err := d.ListDirectory(ctx, "v1")
	is.NoErr(err)
	is.Equal(len(entries), 2)
}

func TestUploadFromLocalFile(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	dir := t.TempDir()
	d, err := local.New(filepath.Join(dir, "repo"))
	is.NoErr(err)

	src := filepath.Join(dir, "src.txt")
	is.NoErr(os.WriteFile(src, []byte("payload"), 0644))
	is.NoErr(d.Upload(ctx, src, "v1/content/src.txt", "", ""))
	got, err := d.Download(ctx, "v1/content/src.txt")
	is.NoErr(err)
	is.Equal(string(got), "payload")
}
