package upload_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tendant/mangashelf/pkg/mangashelf"
	"github.com/tendant/mangashelf/pkg/mangashelf/catalog"
	repomemory "github.com/tendant/mangashelf/pkg/mangashelf/repo/memory"
	blobmemory "github.com/tendant/mangashelf/pkg/mangashelf/storage/memory"
	"github.com/tendant/mangashelf/pkg/mangashelf/tasks"
	"github.com/tendant/mangashelf/pkg/mangashelf/upload"
)

type fixture struct {
	engine   *upload.Engine
	catalog  *catalog.Catalog
	blobs    *blobmemory.Backend
	runner   *tasks.Runner
	tempPath string
	admin    mangashelf.Caller
	uploader mangashelf.Caller
	manga    *mangashelf.Manga
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f, _ := newFaultyFixture(t)
	return f
}

// newFaultyFixture builds a fixture whose engine writes through a store
// that fails on demand. fixture.blobs stays the underlying backend.
func newFaultyFixture(t *testing.T) (*fixture, *faultyStore) {
	t.Helper()
	blobs := blobmemory.New()
	faulty := &faultyStore{BlobStore: blobs}
	cat, err := catalog.New(repomemory.New(), faulty)
	require.NoError(t, err)
	runner := tasks.New(tasks.WithWorkers(2))
	t.Cleanup(func() { _ = runner.Close(context.Background()) })

	tempPath := t.TempDir()
	engine, err := upload.New(cat, runner, upload.WithTempPath(tempPath))
	require.NoError(t, err)

	f := &fixture{
		engine:   engine,
		catalog:  cat,
		blobs:    blobs,
		runner:   runner,
		tempPath: tempPath,
		admin:    mangashelf.NewCaller(uuid.New(), mangashelf.RoleAdmin),
		uploader: mangashelf.NewCaller(uuid.New(), mangashelf.RoleUploader),
	}
	f.manga = &mangashelf.Manga{Title: "Blue Period"}
	require.NoError(t, cat.CreateManga(context.Background(), f.admin, f.manga))
	return f, faulty
}

var errStoreDown = errors.New("store unavailable")

// faultyStore fails the switched on operations. A failing Put still
// stores the bytes, as a request that timed out after landing would.
type faultyStore struct {
	mangashelf.BlobStore
	failPut  atomic.Bool
	failList atomic.Bool
}

func (s *faultyStore) Put(ctx context.Context, key string, r io.Reader) error {
	if err := s.BlobStore.Put(ctx, key, r); err != nil {
		return err
	}
	if s.failPut.Load() {
		return errStoreDown
	}
	return nil
}

func (s *faultyStore) List(ctx context.Context, prefix string) ([]string, error) {
	if s.failList.Load() {
		return nil, errStoreDown
	}
	return s.BlobStore.List(ctx, prefix)
}

// chapter stores a chapter of the fixture manga with n pages of the given width
func (f *fixture) chapter(t *testing.T, n, width int) *mangashelf.Chapter {
	t.Helper()
	ctx := context.Background()
	ch := &mangashelf.Chapter{
		Name:      "Chapter 1",
		ScanGroup: "group",
		Number:    1,
		Length:    n,
		MangaID:   f.manga.ID,
	}
	require.NoError(t, f.catalog.CreateChapter(ctx, ch))
	for i := 1; i <= n; i++ {
		key := mangashelf.PageKey(f.manga.ID, ch.ID, i)
		require.NoError(t, f.blobs.Put(ctx, key, bytes.NewReader(jpegBytes(t, width, width*(i+1)))))
	}
	return ch
}

func (f *fixture) begin(t *testing.T, caller mangashelf.Caller) *upload.SessionView {
	t.Helper()
	view, err := f.engine.Begin(context.Background(), caller, f.manga.ID, nil)
	require.NoError(t, err)
	return view
}

func (f *fixture) add(t *testing.T, caller mangashelf.Caller, sessionID uuid.UUID, files ...upload.File) []*mangashelf.UploadedBlob {
	t.Helper()
	blobs, err := f.engine.AddFiles(context.Background(), caller, sessionID, files)
	require.NoError(t, err)
	return blobs
}

func (f *fixture) stagedKeys(t *testing.T) []string {
	t.Helper()
	keys, err := f.blobs.List(context.Background(), "blobs/")
	require.NoError(t, err)
	return keys
}

func (f *fixture) decodePage(t *testing.T, key string) image.Image {
	t.Helper()
	rc, err := f.blobs.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	img, err := jpeg.Decode(rc)
	require.NoError(t, err)
	return img
}

func ids(blobs []*mangashelf.UploadedBlob) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(blobs))
	for _, b := range blobs {
		out = append(out, b.ID)
	}
	return out
}

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(w, h)))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solid(w, h), nil))
	return buf.Bytes()
}

func pngFile(t *testing.T, name string, w, h int) upload.File {
	return upload.File{Name: name, ContentType: "image/png", Content: bytes.NewReader(pngBytes(t, w, h))}
}

// archiveFile loads a checked-in archive from testdata
func archiveFile(t *testing.T, name, contentType string) upload.File {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return upload.File{Name: name, ContentType: contentType, Content: bytes.NewReader(data)}
}

func zipFile(t *testing.T, name string, entries map[string][]byte) upload.File {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for entry, data := range entries {
		w, err := zw.Create(entry)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return upload.File{Name: name, ContentType: "application/zip", Content: bytes.NewReader(buf.Bytes())}
}
