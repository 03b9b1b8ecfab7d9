// Package driver defines the Storage Driver contract: the narrow set of
// key/blob operations the object lifecycle engine needs from a backend,
// whether a local filesystem or a cloud object store. Concrete backends
// live in the driver/local, driver/cloud, and driver/s3 subpackages.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrKeyNotFound is returned (wrapped) by Head, Download, and friends when
// key does not exist in the bucket.
var ErrKeyNotFound = fmt.Errorf("key not found")

// IsNotFound reports whether err indicates a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// Attrs describes metadata about a stored object, returned by Head.
type Attrs struct {
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

// Listing is one entry returned by List or ListDirectory.
type Listing struct {
	Key   string
	IsDir bool
	Attrs Attrs
}

// Driver is the uniform key/blob contract over a bucket-like namespace.
// Every operation takes a context since it may block on network or disk
// I/O; implementations must respect cancellation where the underlying
// transport allows it.
type Driver interface {
	// Upload copies the file at localPath to remoteKey. When
	// precomputedMD5 is non-empty, backends that support end-to-end
	// integrity headers (e.g. S3's Content-MD5) must send it.
	Upload(ctx context.Context, localPath, remoteKey string, precomputedMD5, contentType string) error
	// UploadBytes writes data directly to key.
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) error
	// Download returns the full contents of key.
	Download(ctx context.Context, key string) ([]byte, error)
	// DownloadStream returns a reader over key's contents; the caller must
	// close it.
	DownloadStream(ctx context.Context, key string) (io.ReadCloser, error)
	// DownloadToPath writes key's contents to localPath, creating parent
	// directories as needed.
	DownloadToPath(ctx context.Context, key, localPath string) error
	// CopyObject copies srcKey to dstKey, server-side where the backend
	// supports it. driver/local moves the file instead (rename, or copy
	// then remove), so srcKey no longer exists afterwards.
	CopyObject(ctx context.Context, srcKey, dstKey string) error
	// List returns every object key with the given prefix, recursively; no
	// directory entries are synthesized.
	List(ctx context.Context, prefix string) ([]Listing, error)
	// ListDirectory returns the immediate children of dir: both
	// sub-directories (synthesized from the "/" delimiter) and objects.
	ListDirectory(ctx context.Context, dir string) ([]Listing, error)
	// Head returns metadata for key without downloading its contents. It
	// returns an error satisfying IsNotFound when key does not exist.
	Head(ctx context.Context, key string) (Attrs, error)
	// DeletePath removes every key with the given prefix, failing fast.
	DeletePath(ctx context.Context, prefix string) error
	// DeleteObjects removes the given keys, failing fast on the first
	// error.
	DeleteObjects(ctx context.Context, keys []string) error
	// SafeDeleteObjects removes the given keys, swallowing per-key errors;
	// used for best-effort rollback cleanup.
	SafeDeleteObjects(ctx context.Context, keys []string)
	// BucketExists reports whether the backing bucket/volume exists and is
	// reachable.
	BucketExists(ctx context.Context) (bool, error)
	// Bucket returns the backend's bucket/volume identifier (a path for
	// driver/local, a bucket name for cloud backends).
	Bucket() string
	// Prefix returns the repository's key prefix within the bucket, which
	// may be empty.
	Prefix() string
}
