package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/mangashelf/pkg/mangashelf"
	"github.com/tendant/mangashelf/pkg/mangashelf/metrics"
)

// Begin opens an upload session for a manga. With a chapter id the
// session edits that chapter and starts out holding a copy of its pages.
func (e *Engine) Begin(ctx context.Context, caller mangashelf.Caller, mangaID uuid.UUID, chapterID *uuid.UUID) (*SessionView, error) {
	if err := caller.Check(mangashelf.ActionCreate, mangashelf.UploadSessionACL); err != nil {
		return nil, err
	}
	if _, err := e.catalog.Manga.Find(ctx, mangaID); err != nil {
		return nil, err
	}

	var chapter *mangashelf.Chapter
	if chapterID != nil {
		ch, err := e.catalog.Chapters.Find(ctx, *chapterID)
		if err != nil {
			return nil, err
		}
		if ch.MangaID != mangaID {
			return nil, mangashelf.Invalid("chapter %s does not belong to manga %s", ch.ID, mangaID)
		}
		if err := caller.Check(mangashelf.ActionEdit, ch); err != nil {
			return nil, err
		}
		chapter = ch
	}

	session := &mangashelf.UploadSession{OwnerID: caller.Owner(), MangaID: mangaID}
	if chapter != nil {
		id := chapter.ID
		session.ChapterID = &id
	}
	if err := e.catalog.Sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	blobs, err := e.seed(ctx, session, chapter)
	if err != nil {
		e.teardown(context.WithoutCancel(ctx), session.ID, blobIDs(blobs))
		return nil, err
	}

	metrics.UploadSessionsTotal.WithLabelValues("begun").Inc()
	if err := e.events.SessionBegun(ctx, session); err != nil {
		e.logger.WarnContext(ctx, "event sink failed", "event", "session_begun", "err", err)
	}
	return &SessionView{UploadSession: session, Blobs: blobs}, nil
}

// seed creates the workspace and, for edit sessions, one blob per
// existing page. The returned blobs are those created so far, also on error.
func (e *Engine) seed(ctx context.Context, session *mangashelf.UploadSession, chapter *mangashelf.Chapter) ([]*mangashelf.UploadedBlob, error) {
	if err := e.workspace(session.ID).ensure(); err != nil {
		return nil, err
	}
	if chapter == nil || chapter.Length == 0 {
		return []*mangashelf.UploadedBlob{}, nil
	}

	blobs := make([]*mangashelf.UploadedBlob, chapter.Length)
	for i := range blobs {
		blobs[i] = &mangashelf.UploadedBlob{
			Base:      mangashelf.Base{ID: uuid.New()},
			SessionID: session.ID,
			Name:      fmt.Sprintf("%d.jpg", i+1),
			Position:  i + 1,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.copyLimit)
	for i, b := range blobs {
		g.Go(func() error {
			src := mangashelf.PageKey(chapter.MangaID, chapter.ID, i+1)
			return blobError("copy", src, e.blobs.Copy(gctx, src, mangashelf.BlobKey(b.ID)))
		})
	}
	if err := g.Wait(); err != nil {
		return blobs, err
	}

	for _, b := range blobs {
		if err := e.catalog.Blobs.Save(ctx, b); err != nil {
			return blobs, err
		}
	}
	return blobs, nil
}

// teardown removes a session with its records, blob bytes and workspace.
// extra names blobs whose records may not exist yet.
func (e *Engine) teardown(ctx context.Context, sessionID uuid.UUID, extra []uuid.UUID) {
	ids := extra
	if blobs, err := e.catalog.Blobs.FetchAll(ctx, mangashelf.Where("session_id", sessionID.String()), 0); err == nil {
		ids = append(ids, blobIDs(blobs)...)
	} else {
		e.logger.ErrorContext(ctx, "failed to list session blobs", "session_id", sessionID, "err", err)
	}
	if err := e.deleteRecords(ctx, ids); err != nil {
		e.logger.ErrorContext(ctx, "failed to delete blob records", "session_id", sessionID, "err", err)
	}
	if err := e.catalog.Sessions.Delete(ctx, sessionID); err != nil {
		e.logger.ErrorContext(ctx, "failed to delete session", "session_id", sessionID, "err", err)
	}
	if err := e.blobs.DeleteMany(ctx, blobKeys(ids)); err != nil {
		e.logger.ErrorContext(ctx, "failed to delete blob bytes", "session_id", sessionID, "err", err)
	}
	if err := e.workspace(sessionID).remove(); err != nil {
		e.logger.ErrorContext(ctx, "failed to remove workspace", "session_id", sessionID, "err", err)
	}
}

// Delete aborts a session. Records are removed before returning; the
// workspace and blob bytes are removed in the background.
func (e *Engine) Delete(ctx context.Context, caller mangashelf.Caller, sessionID uuid.UUID) error {
	s, err := e.loadSession(ctx, caller, sessionID, mangashelf.ActionEdit)
	if err != nil {
		return err
	}
	blobs, err := e.sessionBlobs(ctx, s.ID)
	if err != nil {
		return err
	}
	ids := blobIDs(blobs)
	if err := e.deleteRecords(ctx, ids); err != nil {
		return err
	}
	if err := e.catalog.Sessions.Delete(ctx, s.ID); err != nil {
		return err
	}

	ws := e.workspace(s.ID)
	keys := blobKeys(ids)
	e.runner.Submit("upload.delete_session", func(ctx context.Context) error {
		var errs []error
		if len(keys) > 0 {
			errs = append(errs, blobError("delete_many", keys[0], e.blobs.DeleteMany(ctx, keys)))
		}
		errs = append(errs, ws.remove())
		return errors.Join(errs...)
	})

	metrics.UploadSessionsTotal.WithLabelValues("deleted").Inc()
	if err := e.events.SessionDeleted(ctx, s.ID); err != nil {
		e.logger.WarnContext(ctx, "event sink failed", "event", "session_deleted", "err", err)
	}
	return nil
}

// DeleteBlob removes one blob from a session
func (e *Engine) DeleteBlob(ctx context.Context, caller mangashelf.Caller, sessionID, blobID uuid.UUID) error {
	s, err := e.loadSession(ctx, caller, sessionID, mangashelf.ActionEdit)
	if err != nil {
		return err
	}
	b, err := e.catalog.Blobs.Find(ctx, blobID)
	if err != nil && !errors.Is(err, mangashelf.ErrNotFound) {
		return err
	}
	if err != nil || b.SessionID != s.ID {
		return mangashelf.Invalid("The blob doesn't exist in the session")
	}
	if err := e.catalog.Blobs.Delete(ctx, b.ID); err != nil {
		return err
	}
	e.scheduleBlobDeletion("upload.delete_blob", []uuid.UUID{b.ID})
	return nil
}

// DeleteAllBlobs empties a session
func (e *Engine) DeleteAllBlobs(ctx context.Context, caller mangashelf.Caller, sessionID uuid.UUID) error {
	s, err := e.loadSession(ctx, caller, sessionID, mangashelf.ActionEdit)
	if err != nil {
		return err
	}
	blobs, err := e.sessionBlobs(ctx, s.ID)
	if err != nil {
		return err
	}
	ids := blobIDs(blobs)
	if err := e.deleteRecords(ctx, ids); err != nil {
		return err
	}
	e.scheduleBlobDeletion("upload.delete_blobs", ids)
	return nil
}

// FlushReport summarizes a Flush
type FlushReport struct {
	Sessions   int `json:"sessions"`
	Blobs      int `json:"blobs"`
	Workspaces int `json:"workspaces"`
}

// Flush removes every upload session regardless of owner, then sweeps
// staged blob bytes and session workspaces nothing refers to anymore.
// It is a maintenance operation and performs no permission check.
func (e *Engine) Flush(ctx context.Context) (*FlushReport, error) {
	report := &FlushReport{}

	sessions, err := e.catalog.Sessions.FetchAll(ctx, nil, 0)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		blobs, err := e.catalog.Blobs.FetchAll(ctx, mangashelf.Where("session_id", s.ID.String()), 0)
		if err != nil {
			return report, err
		}
		if err := e.deleteRecords(ctx, blobIDs(blobs)); err != nil {
			return report, err
		}
		if err := e.catalog.Sessions.Delete(ctx, s.ID); err != nil {
			return report, err
		}
		report.Sessions++
	}

	// records of sessions that vanished without cleanup
	strays, err := e.catalog.Blobs.FetchAll(ctx, nil, 0)
	if err != nil {
		return report, err
	}
	if err := e.deleteRecords(ctx, blobIDs(strays)); err != nil {
		return report, err
	}

	keys, err := e.blobs.List(ctx, "blobs/")
	if err != nil {
		return report, blobError("list", "blobs/", err)
	}
	if err := e.blobs.DeleteMany(ctx, keys); err != nil {
		return report, blobError("delete_many", "blobs/", err)
	}
	report.Blobs = len(keys)
	if err := e.blobs.DeleteTree(ctx, mangashelf.BackupRoot); err != nil {
		return report, blobError("delete_tree", mangashelf.BackupRoot, err)
	}

	n, err := e.sweepWorkspaces()
	report.Workspaces = n
	if err != nil {
		return report, err
	}

	metrics.UploadSessionsTotal.WithLabelValues("flushed").Add(float64(report.Sessions))
	e.logger.InfoContext(ctx, "upload sessions flushed",
		"sessions", report.Sessions,
		"blobs", report.Blobs,
		"workspaces", report.Workspaces)
	return report, nil
}

// sweepWorkspaces removes every session workspace below the temp path.
// Only directories named by a session id are touched.
func (e *Engine) sweepWorkspaces() (int, error) {
	entries, err := os.ReadDir(e.tempPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read temp path: %w", err)
	}
	removed := 0
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		id, err := uuid.Parse(entry.Name())
		if err != nil {
			continue
		}
		if err := e.workspace(id).remove(); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
