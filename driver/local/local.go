// Package local implements ocfl/driver.Driver over the host filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/ocflkit/ocflcore/driver"
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

// Driver adapts a directory on the host filesystem to ocfl/driver.Driver.
type Driver struct {
	root string // absolute os-native path to the repository root
}

var _ driver.Driver = (*Driver)(nil)

// New returns a Driver rooted at root, creating it if it does not exist.
func New(root string) (*Driver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("local driver: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("local driver: %w", err)
	}
	return &Driver{root: abs}, nil
}

func (d *Driver) full(key string) string {
	return filepath.Join(d.root, filepath.FromSlash(key))
}

func (d *Driver) Bucket() string { return d.root }
func (d *Driver) Prefix() string { return "" }

func (d *Driver) BucketExists(ctx context.Context) (bool, error) {
	info, err := os.Stat(d.root)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (d *Driver) Upload(ctx context.Context, localPath, remoteKey, precomputedMD5, contentType string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()
	return d.writeFrom(remoteKey, src)
}

func (d *Driver) UploadBytes(ctx context.Context, key string, data []byte, contentType string) error {
	return d.writeFrom(key, bytesReader(data))
}

func (d *Driver) writeFrom(key string, r io.Reader) error {
	full := d.full(key)
	if err := os.MkdirAll(filepath.Dir(full), dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".ocfl-upload-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), filePerm); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), full)
}

func (d *Driver) Download(ctx context.Context, key string) ([]byte, error) {
	b, err := os.ReadFile(d.full(key))
	if err != nil {
		return nil, mapNotFound(err)
	}
	return b, nil
}

func (d *Driver) DownloadStream(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(d.full(key))
	if err != nil {
		return nil, mapNotFound(err)
	}
	return f, nil
}

func (d *Driver) DownloadToPath(ctx context.Context, key, localPath string) error {
	r, err := d.DownloadStream(ctx, key)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := os.MkdirAll(filepath.Dir(localPath), dirPerm); err != nil {
		return err
	}
	out, err := os.OpenFile(localPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, r)
	return err
}

// CopyObject renames src to dst when they share a volume (the common case),
// falling back to copy-then-remove otherwise, grounding spec.md's
// "rename-or-copy-then-delete" requirement.
func (d *Driver) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	fullSrc, fullDst := d.full(srcKey), d.full(dstKey)
	if err := os.MkdirAll(filepath.Dir(fullDst), dirPerm); err != nil {
		return err
	}
	if err := os.Rename(fullSrc, fullDst); err == nil {
		return nil
	} else if !isCrossDevice(err) {
		return err
	}
	src, err := os.Open(fullSrc)
	if err != nil {
		return mapNotFound(err)
	}
	defer src.Close()
	if err := d.writeFrom(dstKey, src); err != nil {
		return err
	}
	return os.Remove(fullSrc)
}

func (d *Driver) List(ctx context.Context, prefix string) ([]Listing, error) {
	return d.listRecursive(prefix)
}

// ListDirectory returns dir's immediate children: sub-directories and
// files, without descending further.
func (d *Driver) ListDirectory(ctx context.Context, dir string) ([]Listing, error) {
	entries, err := os.ReadDir(d.full(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Listing, 0, len(entries))
	for _, e := range entries {
		key := e.Name()
		if dir != "" {
			key = dir + "/" + key
		}
		if e.IsDir() {
			out = append(out, Listing{Key: key, IsDir: true})
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, Listing{Key: key, Attrs: driver.Attrs{Size: info.Size(), LastModified: info.ModTime()}})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (d *Driver) Head(ctx context.Context, key string) (driver.Attrs, error) {
	info, err := os.Stat(d.full(key))
	if err != nil {
		return driver.Attrs{}, mapNotFound(err)
	}
	return driver.Attrs{Size: info.Size(), LastModified: info.ModTime()}, nil
}

func (d *Driver) DeletePath(ctx context.Context, prefix string) error {
	return os.RemoveAll(d.full(prefix))
}

func (d *Driver) DeleteObjects(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := os.Remove(d.full(k)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (d *Driver) SafeDeleteObjects(ctx context.Context, keys []string) {
	for _, k := range keys {
		_ = os.Remove(d.full(k))
	}
}

func mapNotFound(err error) error {
	if os.IsNotExist(err) {
		return fmt.Errorf("%s: %w", err, driver.ErrKeyNotFound)
	}
	return err
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr)
}

func bytesReader(b []byte) io.Reader { return &sliceReader{b: b} }

type sliceReader struct {
	b []byte
	i int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}

func (d *Driver) listRecursive(prefix string) ([]Listing, error) {
	var out []Listing
	root := d.full(prefix)
	err := filepath.WalkDir(root, func(p string, entry os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		out = append(out, Listing{
			Key:   filepath.ToSlash(rel),
			Attrs: driver.Attrs{Size: info.Size(), LastModified: info.ModTime()},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Listing mirrors driver.Listing; kept as a local alias so listRecursive's
// signature reads naturally.
type Listing = driver.Listing
