// Package cloud implements ocfl/driver.Driver over a gocloud.dev/blob
// Bucket, giving a single backend that works across every provider a
// gocloud.dev driver plugin exists for (S3, Azure Blob, GCS, ...). Callers
// blank-import the provider package they need
// (e.g. "gocloud.dev/blob/s3blob") and open the bucket with blob.OpenBucket.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/ocflkit/ocflcore/driver"
)

// Driver adapts a *blob.Bucket to ocfl/driver.Driver.
type Driver struct {
	bucket *blob.Bucket
	prefix string
	name   string // bucket identifier, for Bucket()
	log    *slog.Logger
}

var _ driver.Driver = (*Driver)(nil)

// Option configures a Driver at construction time.
type Option func(*Driver)

// WithLogger attaches a structured logger for debug-level driver calls,
// matching the teacher's cloud backend's debugLog convention.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// WithPrefix scopes every key the Driver uses under prefix (e.g. when
// several repositories share one bucket).
func WithPrefix(prefix string) Option {
	return func(d *Driver) { d.prefix = strings.TrimSuffix(prefix, "/") }
}

// New wraps bucket, identified by name (used only for Bucket()'s return
// value, e.g. for logging).
func New(bucket *blob.Bucket, name string, opts ...Option) *Driver {
	d := &Driver{bucket: bucket, name: name}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) key(k string) string {
	if d.prefix == "" {
		return k
	}
	return d.prefix + "/" + k
}

func (d *Driver) debugLog(ctx context.Context, method string, args ...any) {
	if d.log == nil {
		return
	}
	d.log.DebugContext(ctx, method, args...)
}

func (d *Driver) Bucket() string { return d.name }
func (d *Driver) Prefix() string { return d.prefix }

func (d *Driver) BucketExists(ctx context.Context) (bool, error) {
	return d.bucket.IsAccessible(ctx)
}

func (d *Driver) Upload(ctx context.Context, localPath, remoteKey, precomputedMD5, contentType string) error {
	d.debugLog(ctx, "upload", "key", remoteKey)
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return d.writeFrom(ctx, remoteKey, f, contentType)
}

func (d *Driver) UploadBytes(ctx context.Context, key string, data []byte, contentType string) error {
	d.debugLog(ctx, "uploadbytes", "key", key)
	return d.writeFrom(ctx, key, bytesReader(data), contentType)
}

func (d *Driver) writeFrom(ctx context.Context, key string, r io.Reader, contentType string) error {
	var opts *blob.WriterOptions
	if contentType != "" {
		opts = &blob.WriterOptions{ContentType: contentType}
	}
	w, err := d.bucket.NewWriter(ctx, d.key(key), opts)
	if err != nil {
		return mapErr(err)
	}
	if _, err := w.ReadFrom(r); err != nil {
		w.Close()
		return mapErr(err)
	}
	return w.Close()
}

func (d *Driver) Download(ctx context.Context, key string) ([]byte, error) {
	d.debugLog(ctx, "download", "key", key)
	b, err := d.bucket.ReadAll(ctx, d.key(key))
	if err != nil {
		return nil, mapErr(err)
	}
	return b, nil
}

func (d *Driver) DownloadStream(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := d.bucket.NewReader(ctx, d.key(key), nil)
	if err != nil {
		return nil, mapErr(err)
	}
	return r, nil
}

func (d *Driver) DownloadToPath(ctx context.Context, key, localPath string) error {
	r, err := d.DownloadStream(ctx, key)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	out, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, r)
	return err
}

// CopyObject performs a server-side copy within the bucket.
func (d *Driver) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	d.debugLog(ctx, "copy", "src", srcKey, "dst", dstKey)
	if err := d.bucket.Copy(ctx, d.key(dstKey), d.key(srcKey), nil); err != nil {
		return mapErr(err)
	}
	return nil
}

func (d *Driver) List(ctx context.Context, prefix string) ([]driver.Listing, error) {
	var out []driver.Listing
	iter := d.bucket.List(&blob.ListOptions{Prefix: d.key(prefix)})
	for {
		item, err := iter.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, mapErr(err)
		}
		out = append(out, driver.Listing{
			Key: item.Key,
			Attrs: driver.Attrs{
				Size:         item.Size,
				LastModified: item.ModTime,
			},
		})
	}
	return out, nil
}

// ListDirectory synthesizes a directory listing using the "/" delimiter,
// the way a cloud object store fakes hierarchical listing (grounded on the
// teacher's cloud.FS.ReadDir, which uses the same blob.ListOptions.Delimiter
// strategy).
func (d *Driver) ListDirectory(ctx context.Context, dir string) ([]driver.Listing, error) {
	opts := &blob.ListOptions{Delimiter: "/"}
	if dir != "" {
		opts.Prefix = d.key(dir) + "/"
	} else if d.prefix != "" {
		opts.Prefix = d.prefix + "/"
	}
	var out []driver.Listing
	iter := d.bucket.List(opts)
	for {
		item, err := iter.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, mapErr(err)
		}
		out = append(out, driver.Listing{
			Key:   path.Base(strings.TrimSuffix(item.Key, "/")),
			IsDir: item.IsDir,
			Attrs: driver.Attrs{Size: item.Size, LastModified: item.ModTime},
		})
	}
	return out, nil
}

func (d *Driver) Head(ctx context.Context, key string) (driver.Attrs, error) {
	attrs, err := d.bucket.Attributes(ctx, d.key(key))
	if err != nil {
		return driver.Attrs{}, mapErr(err)
	}
	return driver.Attrs{
		Size:         attrs.Size,
		ETag:         attrs.ETag,
		LastModified: attrs.ModTime,
		ContentType:  attrs.ContentType,
	}, nil
}

func (d *Driver) DeletePath(ctx context.Context, prefix string) error {
	iter := d.bucket.List(&blob.ListOptions{Prefix: d.key(prefix)})
	for {
		item, err := iter.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return mapErr(err)
		}
		if err := d.bucket.Delete(ctx, item.Key); err != nil {
			return mapErr(err)
		}
	}
}

func (d *Driver) DeleteObjects(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := d.bucket.Delete(ctx, d.key(k)); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return mapErr(err)
		}
	}
	return nil
}

func (d *Driver) SafeDeleteObjects(ctx context.Context, keys []string) {
	for _, k := range keys {
		_ = d.bucket.Delete(ctx, d.key(k))
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%w: %s", driver.ErrKeyNotFound, err)
	}
	return err
}

func bytesReader(b []byte) io.Reader { return &byteReader{b: b} }

type byteReader struct {
	b []byte
	i int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}
