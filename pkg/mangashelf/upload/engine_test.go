package upload_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/mangashelf/internal/testutil"
	"github.com/tendant/mangashelf/pkg/mangashelf"
	"github.com/tendant/mangashelf/pkg/mangashelf/upload"
)

func TestBegin(t *testing.T) {
	ctx := context.Background()

	t.Run("new chapter session", func(t *testing.T) {
		f := newFixture(t)
		view := f.begin(t, f.uploader)
		assert.Equal(t, f.manga.ID, view.MangaID)
		assert.Nil(t, view.ChapterID)
		assert.Empty(t, view.Blobs)
		require.NotNil(t, view.OwnerID)
		assert.Equal(t, f.uploader.UserID, *view.OwnerID)
		assert.DirExists(t, filepath.Join(f.tempPath, view.ID.String(), "incoming"))
		assert.DirExists(t, filepath.Join(f.tempPath, view.ID.String(), "files"))
	})

	t.Run("callers without create", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Begin(ctx, mangashelf.Anonymous(), f.manga.ID, nil)
		assert.ErrorIs(t, err, mangashelf.ErrUnauthenticated)

		reader := mangashelf.NewCaller(uuid.New(), mangashelf.RoleUser)
		_, err = f.engine.Begin(ctx, reader, f.manga.ID, nil)
		assert.ErrorIs(t, err, mangashelf.ErrPermissionDenied)
	})

	t.Run("unknown manga", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Begin(ctx, f.uploader, uuid.New(), nil)
		assert.ErrorIs(t, err, mangashelf.ErrNotFound)
	})

	t.Run("chapter of another manga", func(t *testing.T) {
		f := newFixture(t)
		ch := f.chapter(t, 1, 10)
		other := &mangashelf.Manga{Title: "Other"}
		require.NoError(t, f.catalog.CreateManga(ctx, f.admin, other))

		_, err := f.engine.Begin(ctx, f.admin, other.ID, &ch.ID)
		assert.ErrorIs(t, err, mangashelf.ErrValidation)

		missing := uuid.New()
		_, err = f.engine.Begin(ctx, f.admin, f.manga.ID, &missing)
		assert.ErrorIs(t, err, mangashelf.ErrNotFound)
	})

	t.Run("uploader cannot edit a chapter they do not own", func(t *testing.T) {
		f := newFixture(t)
		ch := f.chapter(t, 1, 10)
		_, err := f.engine.Begin(ctx, f.uploader, f.manga.ID, &ch.ID)
		assert.ErrorIs(t, err, mangashelf.ErrPermissionDenied)
	})

	t.Run("edit session copies existing pages", func(t *testing.T) {
		f := newFixture(t)
		ch := f.chapter(t, 3, 10)
		view, err := f.engine.Begin(ctx, f.admin, f.manga.ID, &ch.ID)
		require.NoError(t, err)
		require.Len(t, view.Blobs, 3)
		for i, b := range view.Blobs {
			assert.Equal(t, i+1, b.Position)
			original := testutil.ReadBlob(t, f.blobs, mangashelf.PageKey(f.manga.ID, ch.ID, i+1))
			assert.Equal(t, original, testutil.ReadBlob(t, f.blobs, mangashelf.BlobKey(b.ID)))
		}

		got, err := f.engine.Get(ctx, f.admin, view.ID)
		require.NoError(t, err)
		assert.Equal(t, ids(view.Blobs), ids(got.Blobs))
	})

	t.Run("failed seeding tears the session down", func(t *testing.T) {
		f := newFixture(t)
		ch := f.chapter(t, 2, 10)
		require.NoError(t, f.blobs.DeleteMany(ctx, []string{mangashelf.PageKey(f.manga.ID, ch.ID, 2)}))

		_, err := f.engine.Begin(ctx, f.admin, f.manga.ID, &ch.ID)
		require.Error(t, err)

		sessions, err := f.catalog.Sessions.FetchAll(ctx, nil, 0)
		require.NoError(t, err)
		assert.Empty(t, sessions)
		blobs, err := f.catalog.Blobs.FetchAll(ctx, nil, 0)
		require.NoError(t, err)
		assert.Empty(t, blobs)
		assert.Empty(t, f.stagedKeys(t))
		entries, err := os.ReadDir(f.tempPath)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestSessionAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	view := f.begin(t, f.uploader)

	other := mangashelf.NewCaller(uuid.New(), mangashelf.RoleUploader)
	_, err := f.engine.Get(ctx, other, view.ID)
	assert.ErrorIs(t, err, mangashelf.ErrPermissionDenied)
	_, err = f.engine.AddFiles(ctx, other, view.ID, []upload.File{pngFile(t, "a.png", 4, 4)})
	assert.ErrorIs(t, err, mangashelf.ErrPermissionDenied)

	_, err = f.engine.Get(ctx, f.admin, view.ID)
	assert.NoError(t, err)

	perms, err := f.engine.Permissions(ctx, f.uploader, view.ID)
	require.NoError(t, err)
	assert.True(t, perms[mangashelf.ActionView])
	assert.True(t, perms[mangashelf.ActionEdit])

	perms, err = f.engine.Permissions(ctx, other, view.ID)
	require.NoError(t, err)
	assert.False(t, perms[mangashelf.ActionEdit])

	_, err = f.engine.Get(ctx, f.uploader, uuid.New())
	assert.ErrorIs(t, err, mangashelf.ErrNotFound)
}

func TestAddFiles(t *testing.T) {
	ctx := context.Background()

	t.Run("images become jpeg blobs", func(t *testing.T) {
		f := newFixture(t)
		view := f.begin(t, f.uploader)
		blobs := f.add(t, f.uploader, view.ID, pngFile(t, "one.png", 8, 12), pngFile(t, "two.png", 8, 20))
		require.Len(t, blobs, 2)
		assert.Equal(t, "one.png", blobs[0].Name)
		assert.Equal(t, 1, blobs[0].Position)
		assert.Equal(t, 2, blobs[1].Position)

		img := f.decodePage(t, mangashelf.BlobKey(blobs[1].ID))
		assert.Equal(t, 8, img.Bounds().Dx())
		assert.Equal(t, 20, img.Bounds().Dy())

		more := f.add(t, f.uploader, view.ID, pngFile(t, "three.png", 8, 8))
		assert.Equal(t, 3, more[0].Position)

		got, err := f.engine.Get(ctx, f.uploader, view.ID)
		require.NoError(t, err)
		assert.Len(t, got.Blobs, 3)
	})

	t.Run("archive pages in natural order", func(t *testing.T) {
		f := newFixture(t)
		view := f.begin(t, f.uploader)
		blobs := f.add(t, f.uploader, view.ID, zipFile(t, "chapter.zip", map[string][]byte{
			"pages/10.png":      pngBytes(t, 6, 6),
			"pages/2.png":       pngBytes(t, 6, 6),
			"pages/1.jpg":       jpegBytes(t, 6, 6),
			"notes.txt":         []byte("not a page"),
			"__MACOSX/._10.png": []byte("resource fork"),
		}))
		require.Len(t, blobs, 3)
		assert.Equal(t, "1.jpg", blobs[0].Name)
		assert.Equal(t, "2.png", blobs[1].Name)
		assert.Equal(t, "10.png", blobs[2].Name)
	})

	formats := []struct {
		file        string
		contentType string
		names       []string
		heights     []int
	}{
		{"chapter.7z", "application/x-7z-compressed", []string{"1.png", "2.png", "10.png"}, []int{6, 8, 10}},
		{"chapter.rar", "application/vnd.rar", []string{"1.png", "2.png", "10.png"}, []int{6, 8, 10}},
		{"chapter.tar.xz", "application/x-xz", []string{"1.png", "2.png", "10.png"}, []int{6, 8, 10}},
		// a tarball is recognized by content when the name does not say so
		{"bundle.xz", "application/x-xz", []string{"1.png", "2.png", "10.png"}, []int{6, 8, 10}},
		{"page.png.xz", "application/x-xz", []string{"page.png"}, []int{8}},
	}
	for _, tc := range formats {
		t.Run(tc.file, func(t *testing.T) {
			f := newFixture(t)
			view := f.begin(t, f.uploader)
			blobs := f.add(t, f.uploader, view.ID, archiveFile(t, tc.file, tc.contentType))
			require.Len(t, blobs, len(tc.names))
			for i, b := range blobs {
				assert.Equal(t, tc.names[i], b.Name)
				assert.Equal(t, i+1, b.Position)
				img := f.decodePage(t, mangashelf.BlobKey(b.ID))
				assert.Equal(t, 6, img.Bounds().Dx())
				assert.Equal(t, tc.heights[i], img.Bounds().Dy())
			}
			assert.Len(t, f.stagedKeys(t), len(tc.names))
		})
	}

	t.Run("failed page write leaves nothing staged", func(t *testing.T) {
		f, store := newFaultyFixture(t)
		view := f.begin(t, f.uploader)
		kept := f.add(t, f.uploader, view.ID, pngFile(t, "kept.png", 4, 4))

		store.failPut.Store(true)
		_, err := f.engine.AddFiles(ctx, f.uploader, view.ID, []upload.File{pngFile(t, "lost.png", 4, 4)})
		require.ErrorIs(t, err, errStoreDown)

		assert.Equal(t, []string{mangashelf.BlobKey(kept[0].ID)}, f.stagedKeys(t))
		records, err := f.catalog.Blobs.FetchAll(ctx, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, ids(kept), ids(records))
	})

	t.Run("unsupported type is rejected before any work", func(t *testing.T) {
		f := newFixture(t)
		view := f.begin(t, f.uploader)
		_, err := f.engine.AddFiles(ctx, f.uploader, view.ID, []upload.File{
			pngFile(t, "ok.png", 4, 4),
			{Name: "doc.pdf", ContentType: "application/pdf", Content: bytes.NewReader([]byte("%PDF"))},
		})
		assert.ErrorIs(t, err, mangashelf.ErrValidation)
		assert.Empty(t, f.stagedKeys(t))
	})

	t.Run("undecodable image rolls back the call", func(t *testing.T) {
		f := newFixture(t)
		view := f.begin(t, f.uploader)
		kept := f.add(t, f.uploader, view.ID, pngFile(t, "kept.png", 4, 4))

		_, err := f.engine.AddFiles(ctx, f.uploader, view.ID, []upload.File{
			pngFile(t, "good.png", 4, 4),
			{Name: "broken.png", ContentType: "image/png", Content: bytes.NewReader([]byte("garbage"))},
		})
		require.ErrorIs(t, err, mangashelf.ErrValidation)
		assert.Contains(t, err.Error(), "broken.png")

		got, err := f.engine.Get(ctx, f.uploader, view.ID)
		require.NoError(t, err)
		assert.Equal(t, ids(kept), ids(got.Blobs))
		assert.Equal(t, []string{mangashelf.BlobKey(kept[0].ID)}, f.stagedKeys(t))
	})

	t.Run("archive entries escaping the target are rejected", func(t *testing.T) {
		f := newFixture(t)
		view := f.begin(t, f.uploader)
		_, err := f.engine.AddFiles(ctx, f.uploader, view.ID, []upload.File{
			zipFile(t, "evil.zip", map[string][]byte{"../../evil.png": pngBytes(t, 4, 4)}),
		})
		assert.ErrorIs(t, err, mangashelf.ErrValidation)
		assert.NoFileExists(t, filepath.Join(f.tempPath, "evil.png"))
		assert.Empty(t, f.stagedKeys(t))
	})
}

func TestCommit(t *testing.T) {
	ctx := context.Background()
	draft := mangashelf.ChapterDraft{Name: "Chapter 1", ScanGroup: "Night Owls", Number: 1}

	t.Run("new chapter then the session is gone", func(t *testing.T) {
		f := newFixture(t)
		view := f.begin(t, f.uploader)
		blobs := f.add(t, f.uploader, view.ID, pngFile(t, "a.png", 5, 7), pngFile(t, "b.png", 5, 9))

		res, err := f.engine.Commit(ctx, f.uploader, view.ID, []uuid.UUID{blobs[1].ID, blobs[0].ID}, draft)
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.Equal(t, 2, res.Chapter.Length)
		assert.Equal(t, f.manga.ID, res.Chapter.MangaID)
		require.NotNil(t, res.Chapter.OwnerID)
		assert.Equal(t, f.uploader.UserID, *res.Chapter.OwnerID)

		stored, err := f.catalog.Chapters.Find(ctx, res.Chapter.ID)
		require.NoError(t, err)
		assert.Equal(t, "Night Owls", stored.ScanGroup)
		assert.Equal(t, 9, f.decodePage(t, mangashelf.PageKey(f.manga.ID, stored.ID, 1)).Bounds().Dy())
		assert.Equal(t, 7, f.decodePage(t, mangashelf.PageKey(f.manga.ID, stored.ID, 2)).Bounds().Dy())

		groups, err := f.catalog.ScanGroupNames(ctx)
		require.NoError(t, err)
		assert.Contains(t, groups, "Night Owls")

		_, err = f.engine.Slice(ctx, f.uploader, view.ID, ids(blobs))
		assert.ErrorIs(t, err, mangashelf.ErrNotFound)
		err = f.engine.Delete(ctx, f.uploader, view.ID)
		assert.ErrorIs(t, err, mangashelf.ErrNotFound)

		f.runner.Wait()
		assert.Empty(t, f.stagedKeys(t))
		left, err := f.catalog.Blobs.FetchAll(ctx, nil, 0)
		require.NoError(t, err)
		assert.Empty(t, left)
		assert.NoDirExists(t, filepath.Join(f.tempPath, view.ID.String()))
	})

	t.Run("unused blobs are discarded", func(t *testing.T) {
		f := newFixture(t)
		view := f.begin(t, f.uploader)
		blobs := f.add(t, f.uploader, view.ID, pngFile(t, "a.png", 5, 5), pngFile(t, "b.png", 5, 5))

		res, err := f.engine.Commit(ctx, f.uploader, view.ID, []uuid.UUID{blobs[0].ID}, draft)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Chapter.Length)
		f.runner.Wait()
		assert.Empty(t, f.stagedKeys(t))
	})

	invalid := []struct {
		name  string
		order func(blobs []*mangashelf.UploadedBlob) []uuid.UUID
		draft mangashelf.ChapterDraft
	}{
		{
			name:  "empty page order",
			order: func([]*mangashelf.UploadedBlob) []uuid.UUID { return nil },
			draft: draft,
		},
		{
			name: "foreign blob id",
			order: func(blobs []*mangashelf.UploadedBlob) []uuid.UUID {
				return []uuid.UUID{blobs[0].ID, uuid.New()}
			},
			draft: draft,
		},
		{
			name: "duplicate blob id",
			order: func(blobs []*mangashelf.UploadedBlob) []uuid.UUID {
				return []uuid.UUID{blobs[0].ID, blobs[0].ID}
			},
			draft: draft,
		},
		{
			name:  "invalid draft",
			order: ids,
			draft: mangashelf.ChapterDraft{ScanGroup: "x", Number: 1},
		},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			view := f.begin(t, f.uploader)
			blobs := f.add(t, f.uploader, view.ID, pngFile(t, "a.png", 5, 5), pngFile(t, "b.png", 5, 5))
			before := f.stagedKeys(t)

			_, err := f.engine.Commit(ctx, f.uploader, view.ID, tc.order(blobs), tc.draft)
			require.ErrorIs(t, err, mangashelf.ErrValidation)

			chapters, err := f.catalog.Chapters.FetchAll(ctx, nil, 0)
			require.NoError(t, err)
			assert.Empty(t, chapters)
			assert.Equal(t, before, f.stagedKeys(t))
			keys, err := f.blobs.List(ctx, mangashelf.MangaPrefix(f.manga.ID))
			require.NoError(t, err)
			assert.Empty(t, keys)

			got, err := f.engine.Get(ctx, f.uploader, view.ID)
			require.NoError(t, err)
			assert.Len(t, got.Blobs, 2)
		})
	}

	t.Run("edit session drops a page", func(t *testing.T) {
		f := newFixture(t)
		ch := f.chapter(t, 3, 10)
		view, err := f.engine.Begin(ctx, f.admin, f.manga.ID, &ch.ID)
		require.NoError(t, err)
		require.Len(t, view.Blobs, 3)

		order := []uuid.UUID{view.Blobs[0].ID, view.Blobs[2].ID}
		res, err := f.engine.Commit(ctx, f.admin, view.ID, order, mangashelf.ChapterDraft{
			Name: "Renamed", ScanGroup: "group", Number: 1.5,
		})
		require.NoError(t, err)
		assert.False(t, res.Created)
		assert.Equal(t, ch.ID, res.Chapter.ID)
		assert.Equal(t, 2, res.Chapter.Length)

		stored, err := f.catalog.Chapters.Find(ctx, ch.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", stored.Name)
		assert.Equal(t, 2, stored.Length)
		assert.Equal(t, ch.Version+1, stored.Version)

		keys, err := f.blobs.List(ctx, mangashelf.ChapterPrefix(f.manga.ID, ch.ID))
		require.NoError(t, err)
		assert.Equal(t, []string{
			mangashelf.PageKey(f.manga.ID, ch.ID, 1),
			mangashelf.PageKey(f.manga.ID, ch.ID, 2),
		}, keys)
		// page 3 (height 40) moved into slot 2
		assert.Equal(t, 40, f.decodePage(t, mangashelf.PageKey(f.manga.ID, ch.ID, 2)).Bounds().Dy())

		f.runner.Wait()
		assert.Empty(t, f.stagedKeys(t))
	})

	t.Run("failed edit keeps the published pages", func(t *testing.T) {
		f, store := newFaultyFixture(t)
		ch := f.chapter(t, 2, 10)
		published := [][]byte{
			testutil.ReadBlob(t, f.blobs, mangashelf.PageKey(f.manga.ID, ch.ID, 1)),
			testutil.ReadBlob(t, f.blobs, mangashelf.PageKey(f.manga.ID, ch.ID, 2)),
		}
		view, err := f.engine.Begin(ctx, f.admin, f.manga.ID, &ch.ID)
		require.NoError(t, err)
		extra := f.add(t, f.admin, view.ID, pngFile(t, "new.png", 10, 50))
		order := []uuid.UUID{extra[0].ID, view.Blobs[1].ID, view.Blobs[0].ID}
		staged := f.stagedKeys(t)

		store.failList.Store(true)
		_, err = f.engine.Commit(ctx, f.admin, view.ID, order, draft)
		require.ErrorIs(t, err, errStoreDown)

		keys, err := f.blobs.List(ctx, mangashelf.ChapterPrefix(f.manga.ID, ch.ID))
		require.NoError(t, err)
		assert.Equal(t, []string{
			mangashelf.PageKey(f.manga.ID, ch.ID, 1),
			mangashelf.PageKey(f.manga.ID, ch.ID, 2),
		}, keys)
		for i, want := range published {
			assert.Equal(t, want, testutil.ReadBlob(t, f.blobs, mangashelf.PageKey(f.manga.ID, ch.ID, i+1)))
		}
		stored, err := f.catalog.Chapters.Find(ctx, ch.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, stored.Length)
		assert.Equal(t, ch.Version, stored.Version)
		assert.Equal(t, staged, f.stagedKeys(t))
		backups, err := f.blobs.List(ctx, mangashelf.BackupRoot)
		require.NoError(t, err)
		assert.Empty(t, backups)

		store.failList.Store(false)
		res, err := f.engine.Commit(ctx, f.admin, view.ID, order, draft)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Chapter.Length)
		assert.Equal(t, 50, f.decodePage(t, mangashelf.PageKey(f.manga.ID, ch.ID, 1)).Bounds().Dy())
		f.runner.Wait()
		backups, err = f.blobs.List(ctx, mangashelf.BackupRoot)
		require.NoError(t, err)
		assert.Empty(t, backups)
	})

	t.Run("commit builds on the latest chapter version", func(t *testing.T) {
		f := newFixture(t)
		ch := f.chapter(t, 1, 10)
		view, err := f.engine.Begin(ctx, f.admin, f.manga.ID, &ch.ID)
		require.NoError(t, err)

		_, err = f.catalog.UpdateChapter(ctx, f.admin, ch.ID, mangashelf.ChapterDraft{Name: "x", ScanGroup: "g", Number: 2}, ch.Version)
		require.NoError(t, err)
		edited, err := f.catalog.Chapters.Find(ctx, ch.ID)
		require.NoError(t, err)

		res, err := f.engine.Commit(ctx, f.admin, view.ID, ids(view.Blobs), draft)
		require.NoError(t, err)
		assert.Equal(t, edited.Version+1, res.Chapter.Version)
		assert.Equal(t, draft.Name, res.Chapter.Name)
	})
}

func TestSlice(t *testing.T) {
	ctx := context.Background()

	t.Run("bands of twice the width", func(t *testing.T) {
		f := newFixture(t)
		view := f.begin(t, f.uploader)
		const w = 20
		blobs := f.add(t, f.uploader, view.ID,
			pngFile(t, "a.png", w, 2*w),
			pngFile(t, "b.png", w, w+w/2),
			pngFile(t, "c.png", w, w+w/2),
		)
		keep := f.add(t, f.uploader, view.ID, pngFile(t, "other.png", 10, 10))

		bands, err := f.engine.Slice(ctx, f.uploader, view.ID, ids(blobs))
		require.NoError(t, err)
		require.Len(t, bands, 3)
		heights := make([]int, 0, len(bands))
		for i, b := range bands {
			assert.Equal(t, fmt.Sprintf("slice_%d.jpg", i+1), b.Name)
			img := f.decodePage(t, mangashelf.BlobKey(b.ID))
			assert.Equal(t, w, img.Bounds().Dx())
			heights = append(heights, img.Bounds().Dy())
		}
		assert.Equal(t, []int{2 * w, 2 * w, w}, heights)

		got, err := f.engine.Get(ctx, f.uploader, view.ID)
		require.NoError(t, err)
		assert.Equal(t, append(ids(keep), ids(bands)...), ids(got.Blobs))

		f.runner.Wait()
		for _, b := range blobs {
			assert.False(t, testutil.BlobExists(t, f.blobs, mangashelf.BlobKey(b.ID)))
		}
	})

	t.Run("differing widths delete nothing", func(t *testing.T) {
		f := newFixture(t)
		view := f.begin(t, f.uploader)
		blobs := f.add(t, f.uploader, view.ID, pngFile(t, "a.png", 10, 10), pngFile(t, "b.png", 12, 10))

		_, err := f.engine.Slice(ctx, f.uploader, view.ID, ids(blobs))
		require.ErrorIs(t, err, mangashelf.ErrValidation)

		f.runner.Wait()
		got, err := f.engine.Get(ctx, f.uploader, view.ID)
		require.NoError(t, err)
		assert.Equal(t, ids(blobs), ids(got.Blobs))
		assert.Len(t, f.stagedKeys(t), 2)
	})

	t.Run("ids must belong to the session", func(t *testing.T) {
		f := newFixture(t)
		view := f.begin(t, f.uploader)
		blobs := f.add(t, f.uploader, view.ID, pngFile(t, "a.png", 10, 10))

		_, err := f.engine.Slice(ctx, f.uploader, view.ID, nil)
		assert.ErrorIs(t, err, mangashelf.ErrValidation)
		_, err = f.engine.Slice(ctx, f.uploader, view.ID, []uuid.UUID{blobs[0].ID, uuid.New()})
		assert.ErrorIs(t, err, mangashelf.ErrValidation)
		_, err = f.engine.Slice(ctx, f.uploader, view.ID, []uuid.UUID{blobs[0].ID, blobs[0].ID})
		assert.ErrorIs(t, err, mangashelf.ErrValidation)
	})
}

func TestDeleteBlobs(t *testing.T) {
	ctx := context.Background()

	t.Run("single blob", func(t *testing.T) {
		f := newFixture(t)
		view := f.begin(t, f.uploader)
		blobs := f.add(t, f.uploader, view.ID, pngFile(t, "a.png", 4, 4), pngFile(t, "b.png", 4, 4))

		require.NoError(t, f.engine.DeleteBlob(ctx, f.uploader, view.ID, blobs[0].ID))
		got, err := f.engine.Get(ctx, f.uploader, view.ID)
		require.NoError(t, err)
		assert.Equal(t, ids(blobs[1:]), ids(got.Blobs))

		f.runner.Wait()
		assert.Equal(t, []string{mangashelf.BlobKey(blobs[1].ID)}, f.stagedKeys(t))

		err = f.engine.DeleteBlob(ctx, f.uploader, view.ID, blobs[0].ID)
		assert.ErrorIs(t, err, mangashelf.ErrValidation)
	})

	t.Run("blob of another session", func(t *testing.T) {
		f := newFixture(t)
		first := f.begin(t, f.uploader)
		second := f.begin(t, f.uploader)
		blobs := f.add(t, f.uploader, first.ID, pngFile(t, "a.png", 4, 4))

		err := f.engine.DeleteBlob(ctx, f.uploader, second.ID, blobs[0].ID)
		assert.ErrorIs(t, err, mangashelf.ErrValidation)
		assert.True(t, testutil.BlobExists(t, f.blobs, mangashelf.BlobKey(blobs[0].ID)))
	})

	t.Run("all blobs", func(t *testing.T) {
		f := newFixture(t)
		view := f.begin(t, f.uploader)
		f.add(t, f.uploader, view.ID, pngFile(t, "a.png", 4, 4), pngFile(t, "b.png", 4, 4))

		require.NoError(t, f.engine.DeleteAllBlobs(ctx, f.uploader, view.ID))
		got, err := f.engine.Get(ctx, f.uploader, view.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Blobs)
		f.runner.Wait()
		assert.Empty(t, f.stagedKeys(t))
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	view := f.begin(t, f.uploader)
	f.add(t, f.uploader, view.ID, pngFile(t, "a.png", 4, 4))

	require.NoError(t, f.engine.Delete(ctx, f.uploader, view.ID))
	_, err := f.engine.Get(ctx, f.uploader, view.ID)
	assert.ErrorIs(t, err, mangashelf.ErrNotFound)

	f.runner.Wait()
	assert.Empty(t, f.stagedKeys(t))
	assert.NoDirExists(t, filepath.Join(f.tempPath, view.ID.String()))
}

func TestFlush(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.begin(t, f.uploader)
	second := f.begin(t, f.admin)
	f.add(t, f.uploader, first.ID, pngFile(t, "a.png", 4, 4))
	f.add(t, f.admin, second.ID, pngFile(t, "b.png", 4, 4), pngFile(t, "c.png", 4, 4))

	orphan := uuid.New()
	require.NoError(t, os.MkdirAll(filepath.Join(f.tempPath, orphan.String(), "files"), 0o755))
	require.NoError(t, f.blobs.Put(ctx, mangashelf.BlobKey(uuid.New()), bytes.NewReader([]byte("x"))))
	require.NoError(t, f.blobs.Put(ctx, mangashelf.BackupKey(uuid.New(), 1), bytes.NewReader([]byte("y"))))
	unrelated := filepath.Join(f.tempPath, "keep-me")
	require.NoError(t, os.Mkdir(unrelated, 0o755))

	report, err := f.engine.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sessions)
	assert.Equal(t, 4, report.Blobs)
	assert.Equal(t, 3, report.Workspaces)

	sessions, err := f.catalog.Sessions.FetchAll(ctx, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Empty(t, f.stagedKeys(t))
	backups, err := f.blobs.List(ctx, mangashelf.BackupRoot)
	require.NoError(t, err)
	assert.Empty(t, backups)
	assert.DirExists(t, unrelated)
	assert.NoDirExists(t, filepath.Join(f.tempPath, orphan.String()))
}
