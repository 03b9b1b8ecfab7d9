// Package s3 implements ocfl/driver.Driver directly on
// github.com/aws/aws-sdk-go (v1), rather than through gocloud.dev/blob. It
// exists to exercise S3's PutObject Content-MD5 header for end-to-end
// integrity checking independent of the OCFL digest algorithm, which
// gocloud.dev's portable Bucket interface does not expose.
package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/ocflkit/ocflcore/driver"
)

// Driver adapts an S3 bucket to ocfl/driver.Driver using the AWS SDK v1
// client directly, so precomputed MD5 digests can be sent as PutObject's
// Content-MD5 header.
type Driver struct {
	client *s3.S3
	bucket string
	prefix string
}

var _ driver.Driver = (*Driver)(nil)

// New wraps an s3.S3 client for bucket, scoping keys under prefix (may be
// empty).
func New(client *s3.S3, bucket, prefix string) *Driver {
	return &Driver{
		client: client,
		bucket: bucket,
		prefix: strings.TrimSuffix(prefix, "/"),
	}
}

func (d *Driver) key(k string) string {
	if d.prefix == "" {
		return k
	}
	return d.prefix + "/" + k
}

func (d *Driver) Bucket() string { return d.bucket }
func (d *Driver) Prefix() string { return d.prefix }

func (d *Driver) BucketExists(ctx context.Context) (bool, error) {
	_, err := d.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(d.bucket)})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Upload sends localPath's contents via PutObject, attaching precomputedMD5
// (base64-encoded, per S3's Content-MD5 contract) when provided, so S3
// itself rejects the upload on transport corruption before the object
// lifecycle engine ever gets to its own digest verification pass.
func (d *Driver) Upload(ctx context.Context, localPath, remoteKey, precomputedMD5, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return d.put(ctx, remoteKey, f, precomputedMD5, contentType)
}

func (d *Driver) UploadBytes(ctx context.Context, key string, data []byte, contentType string) error {
	return d.put(ctx, key, bytes.NewReader(data), "", contentType)
}

func (d *Driver) put(ctx context.Context, key string, body io.ReadSeeker, precomputedMD5, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(key)),
		Body:   body,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if precomputedMD5 != "" {
		b64, err := md5HexToBase64(precomputedMD5)
		if err != nil {
			return fmt.Errorf("s3 upload: %w", err)
		}
		in.ContentMD5 = aws.String(b64)
	}
	_, err := d.client.PutObjectWithContext(ctx, in)
	return err
}

func md5HexToBase64(hexDigest string) (string, error) {
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (d *Driver) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := d.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(key)),
	})
	if err != nil {
		return nil, mapErr(err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (d *Driver) DownloadStream(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := d.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(key)),
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return out.Body, nil
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

// CopyObject uses S3's native server-side CopyObject API.
func (d *Driver) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	_, err := d.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		CopySource: aws.String(path.Join(d.bucket, d.key(srcKey))),
		Key:        aws.String(d.key(dstKey)),
	})
	return mapErr(err)
}

func (d *Driver) List(ctx context.Context, prefix string) ([]driver.Listing, error) {
	var out []driver.Listing
	err := d.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(d.key(prefix)),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			out = append(out, driver.Listing{
				Key: aws.StringValue(obj.Key),
				Attrs: driver.Attrs{
					Size:         aws.Int64Value(obj.Size),
					ETag:         aws.StringValue(obj.ETag),
					LastModified: aws.TimeValue(obj.LastModified),
				},
			})
		}
		return true
	})
	return out, mapErr(err)
}

func (d *Driver) ListDirectory(ctx context.Context, dir string) ([]driver.Listing, error) {
	prefix := d.key(dir)
	if prefix != "" {
		prefix += "/"
	}
	var out []driver.Listing
	err := d.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, cp := range page.CommonPrefixes {
			out = append(out, driver.Listing{
				Key:   path.Base(strings.TrimSuffix(aws.StringValue(cp.Prefix), "/")),
				IsDir: true,
			})
		}
		for _, obj := range page.Contents {
			out = append(out, driver.Listing{
				Key: path.Base(aws.StringValue(obj.Key)),
				Attrs: driver.Attrs{
					Size:         aws.Int64Value(obj.Size),
					LastModified: aws.TimeValue(obj.LastModified),
				},
			})
		}
		return true
	})
	return out, mapErr(err)
}

func (d *Driver) Head(ctx context.Context, key string) (driver.Attrs, error) {
	out, err := d.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(key)),
	})
	if err != nil {
		return driver.Attrs{}, mapErr(err)
	}
	return driver.Attrs{
		Size:         aws.Int64Value(out.ContentLength),
		ETag:         aws.StringValue(out.ETag),
		LastModified: aws.TimeValue(out.LastModified),
		ContentType:  aws.StringValue(out.ContentType),
	}, nil
}

func (d *Driver) DeletePath(ctx context.Context, prefix string) error {
	listing, err := d.List(ctx, prefix)
	if err != nil {
		return err
	}
	keys := make([]string, len(listing))
	for i, l := range listing {
		keys[i] = strings.TrimPrefix(l.Key, d.prefix+"/")
	}
	return d.DeleteObjects(ctx, keys)
}

func (d *Driver) DeleteObjects(ctx context.Context, keys []string) error {
	for _, batch := range chunk(keys, 1000) {
		objs := make([]*s3.ObjectIdentifier, len(batch))
		for i, k := range batch {
			objs[i] = &s3.ObjectIdentifier{Key: aws.String(d.key(k))}
		}
		_, err := d.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(d.bucket),
			Delete: &s3.Delete{Objects: objs},
		})
		if err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (d *Driver) SafeDeleteObjects(ctx context.Context, keys []string) {
	_ = d.DeleteObjects(ctx, keys)
}

func chunk(keys []string, size int) [][]string {
	var out [][]string
	for len(keys) > 0 {
		n := size
		if n > len(keys) {
			n = len(keys)
		}
		out = append(out, keys[:n])
		keys = keys[n:]
	}
	return out
}

func isNotFound(err error) bool {
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}
	return false
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", driver.ErrKeyNotFound, err)
	}
	return err
}
