package s3_test

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/matryer/is"

	"github.com/ocflkit/ocflcore/driver"
	"github.com/ocflkit/ocflcore/driver/s3"
)

const testBucket = "ocfl-test-bucket"

// memS3 is a minimal in-memory S3-compatible HTTP server: just enough of
// the REST API (PutObject, CopyObject, GetObject, HeadObject,
// ListObjectsV2, DeleteObjects) for driver/s3's Driver to be driven
// end to end over a real aws-sdk-go v1 client pointed at it, the way the
// teacher's mock.S3API stands in for a bucket in backend/s3/fs_test.go.
type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	headers map[string]http.Header
}

func newMemS3() *memS3 {
	return &memS3{objects: map[string][]byte{}, headers: map[string]http.Header{}}
}

func (m *memS3) headerFor(key string) http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headers[key]
}

func (m *memS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := "/" + testBucket
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	rest = strings.TrimPrefix(rest, "/")

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case rest == "" && r.URL.Query().Get("list-type") == "2":
		m.listObjectsV2(w, r)
	case rest == "" && r.Method == http.MethodHead:
		// HeadBucket: the bucket itself always exists in this stub.
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost && r.URL.Query().Has("delete"):
		m.deleteObjects(w, r)
	case r.Method == http.MethodPut:
		m.putObject(w, r, rest)
	case r.Method == http.MethodGet:
		m.getObject(w, rest)
	case r.Method == http.MethodHead:
		m.headObject(w, rest)
	default:
		http.NotFound(w, r)
	}
}

func (m *memS3) putObject(w http.ResponseWriter, r *http.Request, key string) {
	if copySrc := r.Header.Get("X-Amz-Copy-Source"); copySrc != "" {
		copySrc = strings.TrimPrefix(copySrc, "/")
		if unescaped, err := url.QueryUnescape(copySrc); err == nil {
			copySrc = unescaped
		}
		srcKey := strings.TrimPrefix(copySrc, testBucket+"/")
		data, ok := m.objects[srcKey]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<Error><Code>NoSuchKey</Code></Error>`)
			return
		}
		m.objects[key] = append([]byte(nil), data...)
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<CopyObjectResult></CopyObjectResult>`)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	m.objects[key] = body
	hdr := make(http.Header)
	hdr.Set("Content-MD5", r.Header.Get("Content-MD5"))
	m.headers[key] = hdr
	w.WriteHeader(http.StatusOK)
}

func (m *memS3) getObject(w http.ResponseWriter, key string) {
	data, ok := m.objects[key]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<Error><Code>NoSuchKey</Code></Error>`)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (m *memS3) headObject(w http.ResponseWriter, key string) {
	data, ok := m.objects[key]
	if !ok {
		// A HEAD response carries no body, so aws-sdk-go synthesizes a
		// "NotFound" error code from the bare 404 status.
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
}

func (m *memS3) listObjectsV2(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	delimiter := r.URL.Query().Get("delimiter")
	var keys []string
	dirs := map[string]bool{}
	for k := range m.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if delimiter != "" {
			rest := strings.TrimPrefix(k, prefix)
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				dirs[prefix+rest[:idx+len(delimiter)]] = true
				continue
			}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf strings.Builder
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&buf, `<Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><IsTruncated>false</IsTruncated>`,
		testBucket, prefix, len(keys)+len(dirs))
	for _, k := range keys {
		data := m.objects[k]
		fmt.Fprintf(&buf, `<Contents><Key>%s</Key><Size>%d</Size><LastModified>%s</LastModified></Contents>`,
			k, len(data), time.Now().UTC().Format(time.RFC3339))
	}
	var sortedDirs []string
	for d := range dirs {
		sortedDirs = append(sortedDirs, d)
	}
	sort.Strings(sortedDirs)
	for _, d := range sortedDirs {
		fmt.Fprintf(&buf, `<CommonPrefixes><Prefix>%s</Prefix></CommonPrefixes>`, d)
	}
	buf.WriteString(`</ListBucketResult>`)
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(buf.String()))
}

type deleteRequest struct {
	XMLName xml.Name `xml:"Delete"`
	Objects []struct {
		Key string `xml:"Key"`
	} `xml:"Object"`
}

func (m *memS3) deleteObjects(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req deleteRequest
	_ = xml.Unmarshal(body, &req)
	for _, o := range req.Objects {
		delete(m.objects, o.Key)
	}
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, `<DeleteResult></DeleteResult>`)
}

func newTestServer(t *testing.T) (*memS3, *s3.Driver) {
	t.Helper()
	is := is.New(t)
	mem := newMemS3()
	srv := httptest.NewServer(mem)
	t.Cleanup(srv.Close)

	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String("us-east-1"),
		Endpoint:         aws.String(srv.URL),
		Credentials:      credentials.NewStaticCredentials("test", "test", ""),
		S3ForcePathStyle: aws.Bool(true),
		DisableSSL:       aws.Bool(true),
	})
	is.NoErr(err)
	client := awss3.New(sess)
	return mem, s3.New(client, testBucket, "")
}

func TestUploadBytesThenDownload(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	_, d := newTestServer(t)

	is.NoErr(d.UploadBytes(ctx, "a/b.txt", []byte("hello"), "text/plain"))
	got, err := d.Download(ctx, "a/b.txt")
	is.NoErr(err)
	is.Equal(string(got), "hello")
}

func TestUploadSendsPrecomputedContentMD5Header(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	mem, d := newTestServer(t)

	src := filepath.Join(t.TempDir(), "src.txt")
	is.NoErr(os.WriteFile(src, []byte("hello"), 0644))
	sum := md5.Sum([]byte("hello"))
	hexDigest := hex.EncodeToString(sum[:])

	is.NoErr(d.Upload(ctx, src, "a.txt", hexDigest, "text/plain"))

	hdr := mem.headerFor("a.txt")
	is.True(hdr != nil)
	raw := hdr.Get("Content-MD5")
	is.True(raw != "")
	decoded, err := base64.StdEncoding.DecodeString(raw)
	is.NoErr(err)
	is.Equal(hex.EncodeToString(decoded), hexDigest)
}

func TestDownloadStream(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	_, d := newTestServer(t)

	is.NoErr(d.UploadBytes(ctx, "stream.txt", []byte("streamed"), "text/plain"))
	rc, err := d.DownloadStream(ctx, "stream.txt")
	is.NoErr(err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	is.NoErr(err)
	is.Equal(string(got), "streamed")
}

func TestDownloadMissingKeyIsNotFound(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	_, d := newTestServer(t)

	_, err := d.Download(ctx, "missing.txt")
	is.True(err != nil)
	is.True(driver.IsNotFound(err))
}

func TestHead(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	_, d := newTestServer(t)

	is.NoErr(d.UploadBytes(ctx, "a.txt", []byte("12345"), "text/plain"))
	attrs, err := d.Head(ctx, "a.txt")
	is.NoErr(err)
	is.Equal(attrs.Size, int64(5))
}

func TestHeadMissingKeyIsNotFound(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	_, d := newTestServer(t)

	_, err := d.Head(ctx, "missing.txt")
	is.True(err != nil)
	is.True(driver.IsNotFound(err))
}

func TestCopyObject(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	_, d := newTestServer(t)

	is.NoErr(d.UploadBytes(ctx, "src.txt", []byte("copy me"), "text/plain"))
	is.NoErr(d.CopyObject(ctx, "src.txt", "dst.txt"))

	got, err := d.Download(ctx, "dst.txt")
	is.NoErr(err)
	is.Equal(string(got), "copy me")
}

func TestList(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	_, d := newTestServer(t)

	is.NoErr(d.UploadBytes(ctx, "obj1/v1/content/a.txt", []byte("a"), "text/plain"))
	is.NoErr(d.UploadBytes(ctx, "obj1/v1/content/b.txt", []byte("b"), "text/plain"))
	is.NoErr(d.UploadBytes(ctx, "obj2/v1/content/c.txt", []byte("c"), "text/plain"))

	listing, err := d.List(ctx, "obj1")
	is.NoErr(err)
	is.Equal(len(listing), 2)
}

func TestListDirectorySynthesizesSubdirectories(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	_, d := newTestServer(t)

	is.NoErr(d.UploadBytes(ctx, "obj1/v1/inventory.json", []byte("{}"), "application/json"))
	is.NoErr(d.UploadBytes(ctx, "obj1/v2/inventory.json", []byte("{}"), "application/json"))
	is.NoErr(d.UploadBytes(ctx, "obj1/inventory.json", []byte("{}"), "application/json"))

	entries, err := d.ListDirectory(ctx, "obj1")
	is.NoErr(err)

	var dirs, files int
	for _, e := range entries {
		if e.IsDir {
			dirs++
		} else {
			files++
		}
	}
	is.Equal(dirs, 2)
	is.Equal(files, 1)
}

func TestDeleteObjects(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	_, d := newTestServer(t)

	is.NoErr(d.UploadBytes(ctx, "a.txt", []byte("a"), "text/plain"))
	is.NoErr(d.UploadBytes(ctx, "b.txt", []byte("b"), "text/plain"))

	is.NoErr(d.DeleteObjects(ctx, []string{"a.txt"}))

	_, err := d.Head(ctx, "a.txt")
	is.True(driver.IsNotFound(err))
	_, err = d.Head(ctx, "b.txt")
	is.NoErr(err)
}

func TestDeletePathRemovesEveryKeyWithPrefix(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	_, d := newTestServer(t)

	is.NoErr(d.UploadBytes(ctx, "obj1/a.txt", []byte("a"), "text/plain"))
	is.NoErr(d.UploadBytes(ctx, "obj1/b.txt", []byte("b"), "text/plain"))
	is.NoErr(d.UploadBytes(ctx, "obj2/c.txt", []byte("c"), "text/plain"))

	is.NoErr(d.DeletePath(ctx, "obj1"))

	_, err := d.Head(ctx, "obj1/a.txt")
	is.True(driver.IsNotFound(err))
	_, err = d.Head(ctx, "obj2/c.txt")
	is.NoErr(err)
}

func TestBucketExists(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	_, d := newTestServer(t)
	exists, err := d.BucketExists(ctx)
	is.NoErr(err)
	is.True(exists)
}
