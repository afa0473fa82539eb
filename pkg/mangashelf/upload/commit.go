package upload

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tendant/mangashelf/pkg/mangashelf"
	"github.com/tendant/mangashelf/pkg/mangashelf/metrics"
)

// Commit turns the session into chapter pages in pageOrder and ends the
// session. Blobs left out of pageOrder are discarded.
func (e *Engine) Commit(ctx context.Context, caller mangashelf.Caller, sessionID uuid.UUID, pageOrder []uuid.UUID, draft mangashelf.ChapterDraft) (*CommitResult, error) {
	s, err := e.loadSession(ctx, caller, sessionID, mangashelf.ActionEdit)
	if err != nil {
		return nil, err
	}
	blobs, err := e.sessionBlobs(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	if err := requireMembers(pageOrder, blobs); err != nil {
		return nil, err
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	var chapter *mangashelf.Chapter
	created := s.ChapterID == nil
	if created {
		if _, err := e.catalog.Manga.Find(ctx, s.MangaID); err != nil {
			return nil, err
		}
		chapter = &mangashelf.Chapter{
			Base:    mangashelf.Base{ID: uuid.New()},
			OwnerID: s.OwnerID,
			MangaID: s.MangaID,
		}
	} else {
		if chapter, err = e.catalog.Chapters.Find(ctx, *s.ChapterID); err != nil {
			return nil, err
		}
	}

	var backup []int
	if !created {
		if backup, err = e.backupPages(ctx, s.ID, chapter); err != nil {
			e.rollback(ctx, s.ID, chapter, nil, nil)
			return nil, err
		}
	}

	moved, err := e.movePages(ctx, chapter, pageOrder)
	if err == nil && !created {
		err = e.removeStalePages(ctx, chapter, len(pageOrder))
	}
	if err == nil {
		chapter.Apply(draft)
		chapter.Length = len(pageOrder)
		if created {
			err = e.catalog.CreateChapter(ctx, chapter)
		} else {
			err = e.catalog.SaveChapter(ctx, chapter)
		}
	}
	if err != nil {
		e.rollback(ctx, s.ID, chapter, moved, backup)
		return nil, err
	}

	if err := e.catalog.Sessions.Delete(ctx, s.ID); err != nil {
		e.logger.ErrorContext(ctx, "failed to delete committed session", "session_id", s.ID, "err", err)
	}
	e.finish(s.ID, blobs, pageOrder)

	outcome := "replaced"
	if created {
		outcome = "created"
	}
	metrics.UploadSessionsTotal.WithLabelValues(outcome).Inc()
	if err := e.events.SessionCommitted(ctx, s.ID, chapter, created); err != nil {
		e.logger.WarnContext(ctx, "event sink failed", "event", "session_committed", "err", err)
	}
	return &CommitResult{Chapter: chapter, Created: created}, nil
}

// movePages moves every blob of order to its page key. It returns the
// blobs moved so far, also on error.
func (e *Engine) movePages(ctx context.Context, ch *mangashelf.Chapter, order []uuid.UUID) ([]uuid.UUID, error) {
	moved := make([]uuid.UUID, 0, len(order))
	for i, id := range order {
		src := mangashelf.BlobKey(id)
		dst := mangashelf.PageKey(ch.MangaID, ch.ID, i+1)
		if err := e.blobs.Move(ctx, src, dst); err != nil {
			return moved, blobError("move", src, err)
		}
		moved = append(moved, id)
	}
	return moved, nil
}

// backupPages copies the current pages of ch aside and returns the page
// numbers it saved. Pages already missing are skipped.
func (e *Engine) backupPages(ctx context.Context, sessionID uuid.UUID, ch *mangashelf.Chapter) ([]int, error) {
	var saved []int
	for n := 1; n <= ch.Length; n++ {
		src := mangashelf.PageKey(ch.MangaID, ch.ID, n)
		err := e.blobs.Copy(ctx, src, mangashelf.BackupKey(sessionID, n))
		if errors.Is(err, mangashelf.ErrNotFound) {
			continue
		}
		if err != nil {
			return saved, blobError("copy", src, err)
		}
		saved = append(saved, n)
	}
	return saved, nil
}

// rollback returns moved pages to their blob keys, then puts the backed up
// pages of ch back in place
func (e *Engine) rollback(ctx context.Context, sessionID uuid.UUID, ch *mangashelf.Chapter, moved []uuid.UUID, backup []int) {
	ctx = context.WithoutCancel(ctx)
	for i, id := range moved {
		src := mangashelf.PageKey(ch.MangaID, ch.ID, i+1)
		if err := e.blobs.Move(ctx, src, mangashelf.BlobKey(id)); err != nil {
			e.logger.ErrorContext(ctx, "failed to restore page", "chapter_id", ch.ID, "page", i+1, "blob_id", id, "err", err)
		}
	}
	for _, n := range backup {
		if err := e.blobs.Copy(ctx, mangashelf.BackupKey(sessionID, n), mangashelf.PageKey(ch.MangaID, ch.ID, n)); err != nil {
			e.logger.ErrorContext(ctx, "failed to restore chapter page", "chapter_id", ch.ID, "page", n, "err", err)
		}
	}
	if err := e.blobs.DeleteTree(ctx, mangashelf.BackupPrefix(sessionID)); err != nil {
		e.logger.WarnContext(ctx, "failed to drop page backup", "session_id", sessionID, "err", err)
	}
}

// removeStalePages deletes chapter pages numbered above length
func (e *Engine) removeStalePages(ctx context.Context, ch *mangashelf.Chapter, length int) error {
	prefix := mangashelf.ChapterPrefix(ch.MangaID, ch.ID)
	keys, err := e.blobs.List(ctx, prefix)
	if err != nil {
		return blobError("list", prefix, err)
	}
	var stale []string
	for _, key := range keys {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".jpg"))
		if err != nil || n < 1 || n > length {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return blobError("delete_many", prefix, e.blobs.DeleteMany(ctx, stale))
}

// finish tears down what is left of a committed session in the background
func (e *Engine) finish(sessionID uuid.UUID, blobs []*mangashelf.UploadedBlob, used []uuid.UUID) {
	inOrder := make(map[uuid.UUID]struct{}, len(used))
	for _, id := range used {
		inOrder[id] = struct{}{}
	}
	var unused []string
	for _, b := range blobs {
		if _, ok := inOrder[b.ID]; !ok {
			unused = append(unused, mangashelf.BlobKey(b.ID))
		}
	}
	ids := blobIDs(blobs)
	ws := e.workspace(sessionID)

	e.runner.Submit("upload.finish_commit", func(ctx context.Context) error {
		errs := []error{e.deleteRecords(ctx, ids)}
		if len(unused) > 0 {
			errs = append(errs, blobError("delete_many", unused[0], e.blobs.DeleteMany(ctx, unused)))
		}
		errs = append(errs, ws.remove())
		backup := mangashelf.BackupPrefix(sessionID)
		errs = append(errs, blobError("delete_tree", backup, e.blobs.DeleteTree(ctx, backup)))
		if err := e.catalog.Sessions.Delete(ctx, sessionID); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
}
