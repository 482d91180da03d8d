// Package testsuites provides a storage-driver conformance suite that any
// backend implementation can run against, exercising the common semantics
// every driver is expected to honor regardless of what it stores bytes on.
package testsuites

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	storagedriver "github.com/ocireg/registry/registry/storage/driver"
)

// DriverConstructor builds a fresh driver instance for a single test.
type DriverConstructor func() (storagedriver.StorageDriver, error)

// Suite runs the full conformance suite against drivers built by construct.
func Suite(t *testing.T, construct DriverConstructor) {
	t.Run("PutGetContent", func(t *testing.T) { testPutGetContent(t, construct) })
	t.Run("GetContentNotFound", func(t *testing.T) { testGetContentNotFound(t, construct) })
	t.Run("WriterCommit", func(t *testing.T) { testWriterCommit(t, construct) })
	t.Run("WriterCancel", func(t *testing.T) { testWriterCancel(t, construct) })
	t.Run("WriterAppend", func(t *testing.T) { testWriterAppend(t, construct) })
	t.Run("ReaderOffset", func(t *testing.T) { testReaderOffset(t, construct) })
	t.Run("ReaderInvalidOffset", func(t *testing.T) { testReaderInvalidOffset(t, construct) })
	t.Run("Stat", func(t *testing.T) { testStat(t, construct) })
	t.Run("List", func(t *testing.T) { testList(t, construct) })
	t.Run("Move", func(t *testing.T) { testMove(t, construct) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, construct) })
	t.Run("Walk", func(t *testing.T) { testWalk(t, construct) })
	t.Run("ConcurrentStreams", func(t *testing.T) { testConcurrentStreams(t, construct) })
}

func randomBytes(size int) []byte {
	b := make([]byte, size)
	src := rand.NewSource(int64(size) + 1)
	r := rand.New(src)
	r.Read(b)
	return b
}

func testPutGetContent(t *testing.T, construct DriverConstructor) {
	d, err := construct()
	require.NoError(t, err)
	ctx := context.Background()

	content := randomBytes(1024)
	require.NoError(t, d.PutContent(ctx, "/a/b/c", content))

	got, err := d.GetContent(ctx, "/a/b/c")
	require.NoError(t, err)
	require.Equal(t, content, got)

	overwrite := randomBytes(512)
	require.NoError(t, d.PutContent(ctx, "/a/b/c", overwrite))
	got, err = d.GetContent(ctx, "/a/b/c")
	require.NoError(t, err)
	require.Equal(t, overwrite, got)
}

func testGetContentNotFound(t *testing.T, construct DriverConstructor) {
	d, err := construct()
	require.NoError(t, err)
	ctx := context.Background()

	_, err = d.GetContent(ctx, "/does/not/exist")
	require.Error(t, err)
	_, ok := err.(storagedriver.PathNotFoundError)
	require.True(t, ok, "expected PathNotFoundError, got %T", err)
}

func testWriterCommit(t *testing.T, construct DriverConstructor) {
	d, err := construct()
	require.NoError(t, err)
	ctx := context.Background()

	w, err := d.Writer(ctx, "/upload/1", false)
	require.NoError(t, err)

	content := randomBytes(2048)
	n, err := w.Write(content)
	require.NoError(t, err)
	require.Equal(t, len(content), n)
	require.Equal(t, int64(len(content)), w.Size())

	require.NoError(t, w.Commit(ctx))
	require.NoError(t, w.Close())

	got, err := d.GetContent(ctx, "/upload/1")
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func testWriterCancel(t *testing.T, construct DriverConstructor) {
	d, err := construct()
	require.NoError(t, err)
	ctx := context.Background()

	w, err := d.Writer(ctx, "/upload/2", false)
	require.NoError(t, err)

	_, err = w.Write(randomBytes(128))
	require.NoError(t, err)
	require.NoError(t, w.Cancel(ctx))

	_, err = d.GetContent(ctx, "/upload/2")
	require.Error(t, err)
}

func testWriterAppend(t *testing.T, construct DriverConstructor) {
	d, err := construct()
	require.NoError(t, err)
	ctx := context.Background()

	first := randomBytes(512)
	w, err := d.Writer(ctx, "/upload/3", false)
	require.NoError(t, err)
	_, err = w.Write(first)
	require.NoError(t, err)
	require.NoError(t, w.Commit(ctx))
	require.NoError(t, w.Close())

	second := randomBytes(256)
	w2, err := d.Writer(ctx, "/upload/3", true)
	require.NoError(t, err)
	require.Equal(t, int64(len(first)), w2.Size())
	_, err = w2.Write(second)
	require.NoError(t, err)
	require.NoError(t, w2.Commit(ctx))
	require.NoError(t, w2.Close())

	got, err := d.GetContent(ctx, "/upload/3")
	require.NoError(t, err)
	require.Equal(t, append(first, second...), got)
}

func testReaderOffset(t *testing.T, construct DriverConstructor) {
	d, err := construct()
	require.NoError(t, err)
	ctx := context.Background()

	content := randomBytes(1000)
	require.NoError(t, d.PutContent(ctx, "/r", content))

	rc, err := d.Reader(ctx, "/r", 400)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, content[400:], got)
}

func testReaderInvalidOffset(t *testing.T, construct DriverConstructor) {
	d, err := construct()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, d.PutContent(ctx, "/r2", randomBytes(10)))

	_, err = d.Reader(ctx, "/r2", 100)
	require.Error(t, err)
	_, ok := err.(storagedriver.InvalidOffsetError)
	require.True(t, ok, "expected InvalidOffsetError, got %T", err)
}

func testStat(t *testing.T, construct DriverConstructor) {
	d, err := construct()
	require.NoError(t, err)
	ctx := context.Background()

	content := randomBytes(777)
	require.NoError(t, d.PutContent(ctx, "/s/file", content))

	fi, err := d.Stat(ctx, "/s/file")
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), fi.Size())
	require.False(t, fi.IsDir())

	_, err = d.Stat(ctx, "/s/missing")
	require.Error(t, err)
}

func testList(t *testing.T, construct DriverConstructor) {
	d, err := construct()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, d.PutContent(ctx, "/l/a", []byte("a")))
	require.NoError(t, d.PutContent(ctx, "/l/b", []byte("b")))
	require.NoError(t, d.PutContent(ctx, "/l/c", []byte("c")))

	entries, err := d.List(ctx, "/l")
	require.NoError(t, err)
	sort.Strings(entries)
	require.Len(t, entries, 3)
}

func testMove(t *testing.T, construct DriverConstructor) {
	d, err := construct()
	require.NoError(t, err)
	ctx := context.Background()

	content := randomBytes(200)
	require.NoError(t, d.PutContent(ctx, "/m/src", content))
	require.NoError(t, d.Move(ctx, "/m/src", "/m/dst"))

	_, err = d.GetContent(ctx, "/m/src")
	require.Error(t, err)

	got, err := d.GetContent(ctx, "/m/dst")
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func testDelete(t *testing.T, construct DriverConstructor) {
	d, err := construct()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, d.PutContent(ctx, "/del/f", []byte("x")))
	require.NoError(t, d.Delete(ctx, "/del/f"))

	_, err = d.GetContent(ctx, "/del/f")
	require.Error(t, err)

	err = d.Delete(ctx, "/del/missing")
	require.Error(t, err)
}

func testWalk(t *testing.T, construct DriverConstructor) {
	d, err := construct()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, d.PutContent(ctx, "/w/a/1", []byte("1")))
	require.NoError(t, d.PutContent(ctx, "/w/a/2", []byte("2")))
	require.NoError(t, d.PutContent(ctx, "/w/b/3", []byte("3")))

	var files []string
	err = d.Walk(ctx, "/w", func(fi storagedriver.FileInfo) error {
		if !fi.IsDir() {
			files = append(files, fi.Path())
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, files, 3)
}

func testConcurrentStreams(t *testing.T, construct DriverConstructor) {
	d, err := construct()
	require.NoError(t, err)
	ctx := context.Background()

	const n = 10
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			path := fmt.Sprintf("/concurrent/%d", i)
			content := bytes.Repeat([]byte{byte(i)}, 100)
			if err := d.PutContent(ctx, path, content); err != nil {
				errs <- err
				return
			}
			got, err := d.GetContent(ctx, path)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(got, content) {
				errs <- fmt.Errorf("content mismatch for %s", path)
				return
			}
			errs <- nil
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
}
