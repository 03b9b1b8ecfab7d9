package repository_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"

	"github.com/ocflkit/ocflcore"
	"github.com/ocflkit/ocflcore/digest"
	"github.com/ocflkit/ocflcore/driver/local"
	"github.com/ocflkit/ocflcore/layout"
	"github.com/ocflkit/ocflcore/repository"
	"github.com/ocflkit/ocflcore/updater"
)

func openRepo(t *testing.T) *repository.Repository {
	t.Helper()
	is := is.New(t)
	d, err := local.New(t.TempDir())
	is.NoErr(err)
	r, err := repository.Open(context.Background(), d, layout.Config{Name: "0006-flat-layout"})
	is.NoErr(err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "src.txt")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

// Boundary scenario 1: fresh object, single version.
func TestPutObjectThenGetObjectRoundTrips(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	r := openRepo(t)

	src1 := writeTempFile(t, "Test file 1")
	src2 := writeTempFile(t, "Test file 2")
	_, err := r.PutObject(ctx, "o1", repository.Mutation{
		Add: []repository.FileMutation{
			{LogicalPath: "file1", SourcePath: src1},
			{LogicalPath: "dir1/dir2/file2", SourcePath: src2},
		},
		Message: "initial",
		User:    &ocfl.User{Name: "tester"},
	})
	is.NoErr(err)

	desc, err := r.DescribeObject(ctx, "o1")
	is.NoErr(err)
	is.Equal(desc.Head, ocfl.V(1))

	dst := t.TempDir()
	is.NoErr(r.GetObject(ctx, "o1", dst))

	got1, err := os.ReadFile(filepath.Join(dst, "file1"))
	is.NoErr(err)
	is.Equal(string(got1), "Test file 1")

	got2, err := os.ReadFile(filepath.Join(dst, "dir1", "dir2", "file2"))
	is.NoErr(err)
	is.Equal(string(got2), "Test file 2")
}

// Boundary scenario 2: three sequential puts.
func TestUpdateObjectThreeVersions(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	r := openRepo(t)

	srcV1 := writeTempFile(t, "file2 v1")
	_, err := r.PutObject(ctx, "o1", repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "file2", SourcePath: srcV1}},
	})
	is.NoErr(err)

	srcSibling := writeTempFile(t, "sibling")
	srcV2 := writeTempFile(t, "file2 v2")
	_, err = r.UpdateObject(ctx, "o1", updater.ModeUpdate, repository.Mutation{
		Add: []repository.FileMutation{
			{LogicalPath: "file2", SourcePath: srcV2, Overwrite: true},
			{LogicalPath: "sibling", SourcePath: srcSibling},
		},
	})
	is.NoErr(err)

	srcV3 := writeTempFile(t, "file2 v3")
	_, err = r.UpdateObject(ctx, "o1", updater.ModeUpdate, repository.Mutation{
		Add:    []repository.FileMutation{{LogicalPath: "file2", SourcePath: srcV3, Overwrite: true}},
		Remove: []string{"sibling"},
	})
	is.NoErr(err)

	desc, err := r.DescribeObject(ctx, "o1")
	is.NoErr(err)
	is.Equal(desc.Head, ocfl.V(3))

	dst := t.TempDir()
	is.NoErr(r.ReconstructObjectVersion(ctx, "o1", ocfl.V(2), dst))
	got, err := os.ReadFile(filepath.Join(dst, "file2"))
	is.NoErr(err)
	is.Equal(string(got), "file2 v2")
	_, err = os.Stat(filepath.Join(dst, "sibling"))
	is.NoErr(err)
}

// Boundary scenario 3: overwrite protection.
func TestUpdateObjectRejectsPathConflict(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	r := openRepo(t)

	src1 := writeTempFile(t, "file1 content")
	_, err := r.PutObject(ctx, "o1", repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "file1", SourcePath: src1}},
	})
	is.NoErr(err)

	src2 := writeTempFile(t, "nested content")
	_, err = r.UpdateObject(ctx, "o1", updater.ModeUpdate, repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "file1/file2", SourcePath: src2}},
	})
	is.True(err != nil)
	var oerr *ocfl.Error
	is.True(errors.As(err, &oerr))
	is.Equal(oerr.Kind, ocfl.PathConstraint)
}

// Boundary scenario 4: fixity reject.
func TestUpdateObjectRejectsFixityMismatch(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	r := openRepo(t)

	src1 := writeTempFile(t, "first")
	_, err := r.PutObject(ctx, "o1", repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "file1", SourcePath: src1}},
	})
	is.NoErr(err)

	src2 := writeTempFile(t, "second content")
	_, err = r.UpdateObject(ctx, "o1", updater.ModeUpdate, repository.Mutation{
		Add: []repository.FileMutation{{
			LogicalPath: "file2",
			SourcePath:  src2,
			Fixity:      map[string]string{"md5": "bogus"},
		}},
	})
	is.True(err != nil)
	var oerr *ocfl.Error
	is.True(errors.As(err, &oerr))
	is.Equal(oerr.Kind, ocfl.FixityCheck)

	desc, err := r.DescribeObject(ctx, "o1")
	is.NoErr(err)
	is.Equal(desc.Head, ocfl.V(1))
}

// Boundary scenario 6: mutable-head commit.
func TestStageChangesTwiceThenCommit(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	r := openRepo(t)

	src1 := writeTempFile(t, "base")
	_, err := r.PutObject(ctx, "o1", repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "file1", SourcePath: src1}},
	})
	is.NoErr(err)

	srcA := writeTempFile(t, "staged a")
	_, err = r.StageChanges(ctx, "o1", repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "stagedA", SourcePath: srcA}},
	})
	is.NoErr(err)

	srcB := writeTempFile(t, "staged b")
	_, err = r.StageChanges(ctx, "o1", repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "stagedB", SourcePath: srcB}},
	})
	is.NoErr(err)

	has, err := r.HasStagedChanges(ctx, "o1")
	is.NoErr(err)
	is.True(has)

	inv, err := r.CommitStagedChanges(ctx, "o1", "promote", &ocfl.User{Name: "tester"})
	is.NoErr(err)
	is.Equal(inv.Head, ocfl.V(2))

	inv.Manifest.EachPath(func(p, _ string) bool {
		is.True(!bytes.Contains([]byte(p), []byte("extensions/0005-mutable-head")))
		return true
	})

	has, err = r.HasStagedChanges(ctx, "o1")
	is.NoErr(err)
	is.True(!has)
}

// Boundary scenario 7: change history across update / remove / reinstate.
func TestFileChangeHistoryUpdateRemoveReinstate(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	r := openRepo(t)

	src1 := writeTempFile(t, "f1 v1")
	_, err := r.PutObject(ctx, "o1", repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "f1", SourcePath: src1}},
	})
	is.NoErr(err)

	_, err = r.UpdateObject(ctx, "o1", updater.ModeUpdate, repository.Mutation{
		Remove: []string{"f1"},
	})
	is.NoErr(err)

	_, err = r.UpdateObject(ctx, "o1", updater.ModeUpdate, repository.Mutation{
		Reinstate: []repository.ReinstateMutation{{
			SourceVersion:     ocfl.V(1),
			SourceLogicalPath: "f1",
			DestLogicalPath:   "f1",
		}},
	})
	is.NoErr(err)

	events, err := r.FileChangeHistory(ctx, "o1", "f1")
	is.NoErr(err)
	is.Equal(len(events), 3)
	is.Equal(events[0].Version, ocfl.V(1))
	is.Equal(events[0].Kind, repository.ChangeUpdate)
	is.Equal(events[1].Version, ocfl.V(2))
	is.Equal(events[1].Kind, repository.ChangeRemove)
	is.Equal(events[2].Version, ocfl.V(3))
	is.Equal(events[2].Kind, repository.ChangeUpdate)
	is.Equal(events[2].ContentPath, events[0].ContentPath)
}

func TestPutObjectRejectsDuplicateID(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	r := openRepo(t)

	src := writeTempFile(t, "content")
	_, err := r.PutObject(ctx, "o1", repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "file1", SourcePath: src}},
	})
	is.NoErr(err)

	_, err = r.PutObject(ctx, "o1", repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "file1", SourcePath: src}},
	})
	is.True(err != nil)
	var oerr *ocfl.Error
	is.True(errors.As(err, &oerr))
	is.Equal(oerr.Kind, ocfl.ObjectOutOfSync)
}

func TestGetObjectStreamsVerifiesFixityOnClose(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	r := openRepo(t)

	src := writeTempFile(t, "stream me")
	_, err := r.PutObject(ctx, "o1", repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "file1", SourcePath: src}},
	})
	is.NoErr(err)

	streams, err := r.GetObjectStreams(ctx, "o1")
	is.NoErr(err)
	open, ok := streams["file1"]
	is.True(ok)

	rc, err := open()
	is.NoErr(err)
	data, err := io.ReadAll(rc)
	is.NoErr(err)
	is.Equal(string(data), "stream me")
	is.NoErr(rc.Close())
}

func TestPurgeObjectRemovesEverything(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	r := openRepo(t)

	src := writeTempFile(t, "gone soon")
	_, err := r.PutObject(ctx, "o1", repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "file1", SourcePath: src}},
	})
	is.NoErr(err)

	is.NoErr(r.PurgeObject(ctx, "o1"))
	exists, err := r.ContainsObject(ctx, "o1")
	is.NoErr(err)
	is.True(!exists)
}

func TestRollbackToVersionDiscardsLaterVersions(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	r := openRepo(t)

	src1 := writeTempFile(t, "v1")
	_, err := r.PutObject(ctx, "o1", repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "file1", SourcePath: src1}},
	})
	is.NoErr(err)

	src2 := writeTempFile(t, "v2")
	_, err = r.UpdateObject(ctx, "o1", updater.ModeUpdate, repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "file1", SourcePath: src2, Overwrite: true}},
	})
	is.NoErr(err)

	is.NoErr(r.RollbackToVersion(ctx, "o1", ocfl.V(1)))

	desc, err := r.DescribeObject(ctx, "o1")
	is.NoErr(err)
	is.Equal(desc.Head, ocfl.V(1))
}

func TestListObjectIdsFindsPutObjects(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	r := openRepo(t)

	src := writeTempFile(t, "data")
	_, err := r.PutObject(ctx, "o1", repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "file1", SourcePath: src}},
	})
	is.NoErr(err)
	_, err = r.PutObject(ctx, "o2", repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "file1", SourcePath: src}},
	})
	is.NoErr(err)

	found := map[string]bool{}
	for res := range r.ListObjectIds(ctx) {
		is.NoErr(res.Err)
		found[res.ID] = true
	}
	is.True(found["o1"])
	is.True(found["o2"])
}

func TestValidateObjectShallowAndDeep(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	r := openRepo(t)

	src := writeTempFile(t, "valid content")
	_, err := r.PutObject(ctx, "o1", repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "file1", SourcePath: src}},
	})
	is.NoErr(err)

	_, shallow, err := r.ValidateObject(ctx, "o1", false)
	is.NoErr(err)
	is.True(shallow.Valid())

	_, deep, err := r.ValidateObject(ctx, "o1", true)
	is.NoErr(err)
	is.True(deep.Valid())
}

func TestDigestAlgorithmOption(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	d, err := local.New(t.TempDir())
	is.NoErr(err)
	r, err := repository.Open(ctx, d, layout.Config{Name: "0006-flat-layout"}, repository.WithDigestAlgorithm(digest.SHA256))
	is.NoErr(err)
	t.Cleanup(func() { _ = r.Close() })

	src := writeTempFile(t, "sha256 me")
	inv, err := r.PutObject(ctx, "o1", repository.Mutation{
		Add: []repository.FileMutation{{LogicalPath: "file1", SourcePath: src}},
	})
	is.NoErr(err)
	is.Equal(inv.DigestAlgorithm, digest.SHA256)
}
